package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"grip/internal/pkg/logger"
	"grip/internal/platform/config"
	"grip/internal/platform/database"
	"grip/migrations"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.Logging)

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	applied, err := database.Migrate(context.Background(), db, migrations.FS)
	if err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	for _, name := range applied {
		log.Info().Str("file", name).Msg("applied migration")
	}

	fmt.Println("Migration completed successfully")
}
