// Command server runs the timezone assistant core as an HTTP service.
//
// Platform adapters POST normalized chat events to it and deliver whatever
// outbound messages come back; users land on its /verify page from the links
// the bot hands out. Configuration is environment-driven (.env is honored in
// development).
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/teamops/tzbot/internal/config"
	"github.com/teamops/tzbot/internal/fallback"
	httpapi "github.com/teamops/tzbot/internal/http"
	"github.com/teamops/tzbot/internal/observability"
	"github.com/teamops/tzbot/internal/repo"
	"github.com/teamops/tzbot/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration invalid")
	}

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		if err := shutdownOTel(context.Background()); err != nil {
			log.Warn().Err(err).Msg("otel shutdown failed")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("database open failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}

	// Without an API key the ambiguous-mention fallback stays off and the
	// pipeline keeps quiet on anything the classifier cannot settle.
	var fb fallback.Resolver
	if cfg.Fallback.APIKey != "" {
		fb = fallback.NewLLMResolver(fallback.Options{
			BaseURL:         cfg.Fallback.BaseURL,
			APIKey:          cfg.Fallback.APIKey,
			Model:           cfg.Fallback.Model,
			Timeout:         cfg.Fallback.Timeout,
			MaxTokens:       cfg.Fallback.MaxTokens,
			Temperature:     cfg.Fallback.Temperature,
			BreakerFailures: cfg.Fallback.BreakerFailures,
			BreakerCooldown: cfg.Fallback.BreakerCooldown,
		})
		log.Info().Str("model", cfg.Fallback.Model).Msg("fallback resolver enabled")
	} else {
		log.Info().Msg("fallback resolver disabled, ambiguous mentions stay silent")
	}

	engine := gin.New()
	httpapi.RegisterRoutes(engine, db, fb, cfg)

	// Expired dedupe rows accumulate forever otherwise; sweep hourly.
	go purgeDedupeLoop(ctx, db)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
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

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("bye")
}

// purgeDedupeLoop deletes expired processed-event records until ctx ends.
func purgeDedupeLoop(ctx context.Context, db *gorm.DB) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.PurgeExpiredDedupe(ctx, db, time.Now().UTC())
			if err != nil {
				log.Warn().Err(err).Msg("dedupe purge failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("rows", n).Msg("dedupe purge")
			}
		}
	}
}
