package database

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrSlotUnavailable        = errors.New("slot is already booked")
	ErrConcurrentModification = errors.New("booking was modified concurrently")
)
