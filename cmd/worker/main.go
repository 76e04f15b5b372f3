package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"grip/internal/engine/accesskeys"
	"grip/internal/engine/githubsync"
	"grip/internal/engine/wallets"
	"grip/internal/pkg/logger"
	"grip/internal/platform/audit"
	"grip/internal/platform/config"
	"grip/internal/platform/database"
	"grip/internal/platform/github"
	"grip/internal/platform/metrics"
	"grip/internal/workers"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	once := flag.String("once", "", "Run a single job (sync, expire, sessions) and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging)
	log.Info().Msg("starting GRIP background workers")

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	ghClient, err := github.NewClient(cfg.GitHub)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create github client")
	}

	m := metrics.Default()
	auditLogger := audit.NewLogger(db)
	defer auditLogger.Wait()

	syncer := githubsync.NewSyncer(db, ghClient, auditLogger, m)
	keySvc := accesskeys.NewService(db, cfg.Chain, auditLogger, m)
	walletSvc := wallets.NewService(db, nil, nil)

	jobs := []workers.Job{
		{Name: "sync", Interval: cfg.Workers.SyncInterval, Run: workers.SyncMembers(syncer)},
		{Name: "expire", Interval: cfg.Workers.ExpiryInterval, Run: workers.ExpireKeys(keySvc, time.Now)},
		{Name: "sessions", Interval: cfg.Workers.ExpiryInterval, Run: workers.PurgeSessions(walletSvc, time.Now)},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *once != "" {
		for _, job := range jobs {
			if job.Name == *once {
				if err := workers.RunOnce(ctx, job); err != nil {
					stop()
					auditLogger.Wait()
					db.Close()
					os.Exit(1)
				}
				return
			}
		}
		log.Fatal().Str("job", *once).Msg("unknown job")
	}

	if err := workers.Run(ctx, jobs...); err != nil {
		log.Error().Err(err).Msg("workers stopped")
	}
}
