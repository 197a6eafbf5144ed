package di

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/fundsync/internal/config"
	"github.com/aristath/fundsync/internal/database"
)

// InitializeDatabase opens the fund data store and applies its schema.
func InitializeDatabase(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*database.DB, error) {
	db, err := database.New(database.Config{
		Driver: database.Dialect(cfg.Database.Driver),
		DSN:    cfg.Database.DSN,
		Name:   "fundsync",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Info().
		Str("driver", cfg.Database.Driver).
		Msg("Database initialized")

	return db, nil
}
