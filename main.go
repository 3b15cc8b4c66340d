package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"notekeep/config"
	"notekeep/handlers"
	"notekeep/logger"
	"notekeep/ui"
	"notekeep/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger.Init(cfg.LogLevel, !cfg.IsProduction())
	log.Info().Str("environment", cfg.Env).Msg("starting notekeep")

	ctx := context.Background()

	db, err := utils.OpenDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := utils.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("failed to apply database migrations")
	}

	redisPool, err := utils.OpenRedisPool(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisPool.Close()

	var notifier utils.Notifier = utils.LogNotifier{}
	if cfg.SendGridAPIKey != "" {
		notifier = utils.NewSendGridNotifier(cfg.SendGridAPIKey, cfg.MailFromName, cfg.MailFrom)
	}
	mailer := utils.NewAsyncNotifier(notifier, 64)
	defer mailer.Close()

	views, err := ui.New()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse templates")
	}

	sessions := utils.NewSessionStore(redisPool, cfg.SessionTTL)
	h := handlers.New(handlers.Deps{
		Config:     cfg,
		Users:      utils.NewUserStore(db),
		Notes:      utils.NewNoteStore(db, nil),
		Sessions:   sessions,
		Tokens:     utils.NewResetTokens(cfg.SecretKey, nil),
		UsedTokens: utils.NewUsedResetTokens(redisPool),
		Mailer:     mailer,
		Views:      views,
		Flashes:    handlers.NewFlashStore(cfg.SecretKey, cfg.IsProduction()),
		Checks: map[string]handlers.HealthCheck{
			"database": db.PingContext,
			"redis":    sessions.Ping,
		},
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		log.Info().Int("port", cfg.Port).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exiting")
}
