package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"grip/internal/api"
	"grip/internal/api/handlers"
	"grip/internal/api/middleware"
	"grip/internal/engine/accesskeys"
	"grip/internal/engine/githubsync"
	"grip/internal/engine/organizations"
	"grip/internal/engine/repoclaim"
	"grip/internal/engine/wallets"
	"grip/internal/pkg/logger"
	"grip/internal/platform/audit"
	"grip/internal/platform/auth"
	"grip/internal/platform/chain"
	"grip/internal/platform/config"
	"grip/internal/platform/database"
	"grip/internal/platform/github"
	"grip/internal/platform/metrics"
	"grip/internal/platform/repositories"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	applied, err := database.Migrate(ctx, db, migrations.FS)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}
	log.Info().Strs("migrations", applied).Msg("database ready")

	if cfg.JWT.Secret == "" {
		log.Fatal().Msg("jwt.secret must be set")
	}

	// Platform
	m := metrics.Default()
	auditLogger := audit.NewLogger(db)
	defer auditLogger.Wait()

	tokenSvc := auth.NewTokenService(cfg.JWT)
	ghClient, err := github.NewClient(cfg.GitHub)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create github client")
	}
	chainClient := chain.NewClient(cfg.Chain)

	// Services
	orgSvc := organizations.NewService(db, ghClient, auditLogger)
	syncer := githubsync.NewSyncer(db, ghClient, auditLogger, m)
	keySvc := accesskeys.NewService(db, cfg.Chain, auditLogger, m)
	claimSvc := repoclaim.NewService(db, tokenSvc, ghClient, cfg.Domains.AppURL, auditLogger, m)

	var ceremony wallets.Ceremony
	if wa, err := wallets.NewWebAuthn(cfg.WebAuthn); err != nil {
		log.Warn().Err(err).Msg("passkeys disabled: invalid webauthn config")
	} else {
		ceremony = wa
	}
	walletSvc := wallets.NewService(db, ceremony, chainClient)

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit)
	defer rateLimiter.Stop()

	router := api.NewRouter(&api.Dependencies{
		HealthHandler:    handlers.NewHealthHandler(db),
		MetricsHandler:   handlers.NewMetricsHandler(prometheus.DefaultGatherer),
		AuthHandler:      handlers.NewAuthHandler(db, orgSvc, tokenSvc, github.OAuthConfig(cfg.GitHub), ghClient),
		OrgHandler:       handlers.NewOrgHandler(orgSvc, syncer, auditLogger, chainClient, cfg.Chain.Network),
		MemberHandler:    handlers.NewMemberHandler(orgSvc),
		AccessKeyHandler: handlers.NewAccessKeyHandler(keySvc),
		PasskeyHandler:   handlers.NewPasskeyHandler(walletSvc),
		GitHubHandler:    handlers.NewGitHubHandler(claimSvc, cfg.GitHub.WebhookSecret),
		RepoHandler:      handlers.NewRepoHandler(claimSvc),
		AuthMiddleware:   middleware.NewAuthMiddleware(tokenSvc),
		OrgMiddleware:    middleware.NewOrgMiddleware(repositories.NewOrganizationRepository(db), repositories.NewMemberRepository(db)),
		RateLimiter:      rateLimiter,
		Metrics:          m,
		ExecutorToken:    cfg.Payouts.ExecutorToken,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
