package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/concertify/concertify/internal/concerts"
	"github.com/concertify/concertify/internal/db"
	"github.com/concertify/concertify/internal/live"
	"github.com/concertify/concertify/internal/models"
	"github.com/concertify/concertify/pkg/config"
	"github.com/concertify/concertify/pkg/logging"
)

// runSeed loads the concert catalog from a JSON file and upserts it
// into the database. Existing rows are updated in place, so the seed
// can be re-run whenever the lineup changes.
func runSeed(cfg *config.Config, log zerolog.Logger, args []string) error {
	path := cfg.SeedFilePath
	if len(args) > 0 {
		path = args[0]
	}
	if len(args) > 1 {
		return fmt.Errorf("seed takes at most one argument, got %d", len(args))
	}

	catalog, err := loadCatalog(path)
	if err != nil {
		return err
	}
	if len(catalog) == 0 {
		return fmt.Errorf("seed file %s contains no concerts", path)
	}

	database, err := db.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	bus := live.NewManager(logging.Component(log, "live"))
	svc := concerts.NewService(database.GetConn(), bus, cfg.DefaultAvatarURL, logging.Component(log, "concerts"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := svc.Seed(ctx, catalog); err != nil {
		return fmt.Errorf("failed to seed concerts: %w", err)
	}

	log.Info().Int("concerts", len(catalog)).Str("file", path).Msg("catalog seeded")
	return nil
}

func loadCatalog(path string) ([]models.Concert, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var catalog []models.Concert
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}

	for i, concert := range catalog {
		if concert.ID == "" {
			return nil, fmt.Errorf("concert at index %d has no id", i)
		}
		if concert.Name == "" || concert.Artist == "" {
			return nil, fmt.Errorf("concert %s is missing a name or artist", concert.ID)
		}
	}

	return catalog, nil
}
