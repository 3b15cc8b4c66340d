// Command migrate applies the schema migrations without starting the server.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/rs/zerolog/log"

	"notekeep/config"
	"notekeep/logger"
	"notekeep/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger.Init(cfg.LogLevel, !cfg.IsProduction())

	dsn := flag.String("dsn", cfg.DatabaseURL, "database url (postgres:// or sqlite://)")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := utils.OpenDB(ctx, *dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := utils.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	log.Info().Str("dialect", string(db.Dialect)).Msg("database is up to date")
}
