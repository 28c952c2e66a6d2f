package models

import "time"

type Room struct {
	ID        string    `yaml:"id" json:"id"`
	Name      string    `yaml:"name" json:"name"`
	Capacity  int       `yaml:"capacity" json:"capacity"`
	Location  string    `yaml:"location" json:"location"`
	RoomURL   string    `yaml:"room_url" json:"room_url"`
	Tags      []string  `yaml:"tags" json:"tags"`
	IsActive  bool      `yaml:"is_active" json:"is_active"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`
}
