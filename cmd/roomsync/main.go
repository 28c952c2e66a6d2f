// Command roomsync upserts rooms from a YAML file into the configured database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"roombook/internal/config"
	"roombook/internal/database"
	"roombook/internal/domain"
	"roombook/internal/models"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

type roomsFile struct {
	Rooms []models.Room `yaml:"rooms"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		roomsPath  = flag.String("rooms", "configs/rooms.yaml", "path to rooms.yaml")
		configPath = flag.String("config", "configs/config.yaml", "path to config.yaml")
		dbPath     = flag.String("db", "", "sqlite path, overrides config")
	)
	flag.Parse()

	data, err := os.ReadFile(*roomsPath)
	if err != nil {
		return fmt.Errorf("read rooms: %w", err)
	}
	var file roomsFile
	if err = yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse rooms: %w", err)
	}
	if len(file.Rooms) == 0 {
		return fmt.Errorf("no rooms in yaml")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repo, err := openRepository(ctx, *configPath, *dbPath, &logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	created, updated, err := upsertRooms(ctx, repo, file.Rooms)
	if err != nil {
		return err
	}

	fmt.Printf("done: created=%d updated=%d\n", created, updated)
	return nil
}

func openRepository(ctx context.Context, configPath, dbPath string, logger *zerolog.Logger) (domain.Repository, error) {
	if dbPath != "" {
		return database.NewDB(dbPath, logger)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.Driver == config.DriverPostgres {
		return database.NewPostgresStore(ctx, cfg.Database.Postgres, logger)
	}
	return database.NewDB(cfg.Database.Path, logger)
}

// upsertRooms updates rooms whose id already exists and creates the rest.
func upsertRooms(ctx context.Context, repo domain.RoomRepository, rooms []models.Room) (created, updated int, err error) {
	for i := range rooms {
		room := rooms[i]
		if room.Name == "" {
			continue
		}
		if room.ID != "" {
			_, err = repo.GetRoom(ctx, room.ID)
			if err == nil {
				if err = repo.UpdateRoom(ctx, &room); err != nil {
					return created, updated, fmt.Errorf("update %s: %w", room.Name, err)
				}
				updated++
				continue
			}
			if !errors.Is(err, database.ErrNotFound) {
				return created, updated, fmt.Errorf("get %s: %w", room.Name, err)
			}
		}
		if err = repo.CreateRoom(ctx, &room); err != nil {
			return created, updated, fmt.Errorf("create %s: %w", room.Name, err)
		}
		created++
	}
	return created, updated, nil
}
