package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"inkwell/api/internal/app"
	"inkwell/api/internal/authpw"
	"inkwell/api/internal/config"
	"inkwell/api/internal/export"
	"inkwell/api/internal/media"
	"inkwell/api/internal/realtime"
	"inkwell/api/internal/search"
	"inkwell/api/internal/session"
	"inkwell/api/internal/store"
)

func main() {
	cfg := config.Load()
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}

	dataStore := store.NewPostgresStore(db)
	accounts := authpw.NewService(dataStore)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts, log)
	if meiliClient != nil {
		go searchService.ReindexAllFromPG(ctx)
	}

	opts := app.Options{
		Search:   searchService,
		Exporter: export.NewService(dataStore, cfg.ChromePath, log),
	}

	var sessions *session.RedisStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		sessions, err = session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		defer sessions.Close()

		broker, err := realtime.NewBroker(cfg.RedisURL, log)
		if err != nil {
			log.Fatal().Err(err).Msg("realtime broker failed")
		}
		defer broker.Close()
		opts.Broker = broker
	} else {
		log.Info().Msg("redis disabled, using postgres refresh sessions and no realtime stream")
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		uploads, err := media.NewService(media.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			PublicURL: cfg.MinioPublicURL,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("object storage setup failed")
		}
		if err := uploads.EnsureBucket(ctx); err != nil {
			log.Warn().Err(err).Msg("bucket check failed, uploads may not work")
		}
		opts.Uploader = uploads
	}

	var service *app.Service
	if sessions != nil {
		service = app.New(cfg, dataStore, sessions, accounts, opts, log)
	} else {
		service = app.New(cfg, dataStore, nil, accounts, opts, log)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, log)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("inkwell api listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}
