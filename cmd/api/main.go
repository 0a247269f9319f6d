package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/elio-info/tesis/internal/app"
	"github.com/elio-info/tesis/internal/chat"
	"github.com/elio-info/tesis/internal/config"
	"github.com/elio-info/tesis/internal/email"
	"github.com/elio-info/tesis/internal/export"
	"github.com/elio-info/tesis/internal/logging"
	"github.com/elio-info/tesis/internal/search"
	"github.com/elio-info/tesis/internal/session"
	"github.com/elio-info/tesis/internal/store"
)

func main() {
	cfg, err := config.LoadWithFile(os.Getenv("DELPHI_CONFIG_FILE"))
	logger := logging.New(cfg.LogLevel, cfg.LogPretty)
	if err != nil {
		logger.Fatal().Err(err).Msg("config load failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}
	if len(applied) > 0 {
		logger.Info().Strs("versions", applied).Msg("migrations applied")
	}

	dataStore := store.NewPostgresStore(db)
	service := app.New(cfg, dataStore, logger)

	hub := chat.NewHub(logger, cfg.CORSOrigin)
	defer hub.Close()
	service.WithHub(hub)

	if strings.TrimSpace(cfg.RedisURL) != "" {
		logger.Info().Msg("using redis for refresh tokens and chat relay")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		service.WithRefreshStore(redisStore)

		relay := chat.NewRelay(redisStore.Client(), hub, logger)
		if err := relay.Start(ctx); err != nil {
			logger.Warn().Err(err).Msg("chat relay disabled")
		} else {
			defer relay.Close()
		}
	}

	var primary search.Indexer
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
		primary = meili
	}
	searchService := search.NewService(primary, search.NewPgFTS(db), logger)
	service.WithSearch(searchService)
	go searchService.ReindexAllFromPG(ctx)

	exporter := export.NewService(dataStore, export.PDFRenderer{RemoteURL: cfg.ChromeURL}, export.DOCXRenderer{}, logger)
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		archive, err := export.NewMinioArchive(export.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("report archive disabled")
		} else if err := archive.EnsureBucket(ctx); err != nil {
			logger.Warn().Err(err).Str("bucket", cfg.MinioBucket).Msg("report archive disabled")
		} else {
			exporter.WithArchive(archive)
		}
	}
	service.WithExporter(exporter)

	service.WithMailer(email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		BaseURL:  cfg.AppBaseURL,
	}))

	if cfg.SeedDemoData {
		if err := service.Bootstrap(ctx); err != nil {
			logger.Warn().Err(err).Msg("bootstrap error (will retry on next restart)")
		}
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Report rendering through Chrome can take a while.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("delphi api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}
