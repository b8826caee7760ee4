package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"thinkbigger/api/internal/app"
	"thinkbigger/api/internal/auth"
	"thinkbigger/api/internal/config"
	"thinkbigger/api/internal/export"
	"thinkbigger/api/internal/history"
	"thinkbigger/api/internal/logging"
	"thinkbigger/api/internal/revision"
	"thinkbigger/api/internal/search"
	"thinkbigger/api/internal/store"
)

func loadConfig(c *cli.Context) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Env, cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Apply pending migrations and serve the HTTP API",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "skip-migrations",
				Usage: "Do not apply pending migrations on startup",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return serve(c.Context, cfg, logger, !c.Bool("skip-migrations"))
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger, migrate bool) error {
	db, err := store.Open(ctx, cfg.Database.URL, store.DefaultPool)
	if err != nil {
		return err
	}
	defer db.Close()

	if migrate {
		applied, err := store.ApplyMigrations(ctx, db, cfg.Database.MigrationsDir)
		if err != nil {
			return err
		}
		if len(applied) > 0 {
			logger.Info("migrations applied", zap.Strings("versions", applied))
		}
	}

	verifier, err := auth.NewVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer)
	if err != nil {
		return err
	}

	opts := []app.Option{
		app.WithLogger(logger),
		app.WithNotificationLimit(cfg.Notifications.Limit),
	}

	if cfg.Redis.URL != "" {
		revisions, err := revision.NewRedisStore(cfg.Redis.URL)
		if err != nil {
			logger.Warn("redis unavailable, keeping revisions in memory", zap.Error(err))
		} else {
			defer revisions.Close()
			opts = append(opts, app.WithRevisions(revisions))
		}
	}

	var engine search.Engine
	if cfg.Meili.URL != "" {
		meili := search.NewMeili(cfg.Meili.URL, cfg.Meili.MasterKey, logger)
		defer meili.Close()
		engine = meili
	}
	pgfts := search.NewPgFTS(db)
	searchService := search.NewService(engine, pgfts, logger)
	opts = append(opts, app.WithSearch(searchService))

	if cfg.History.Dir != "" {
		if err := os.MkdirAll(cfg.History.Dir, 0o755); err != nil {
			return err
		}
		opts = append(opts, app.WithHistory(history.New(cfg.History.Dir, logger)))
	}

	exportOpts := []export.Option{export.WithLogger(logger)}
	if cfg.S3Enabled() {
		uploader, err := export.NewObjectStore(ctx, export.S3Config{
			Endpoint:  cfg.Export.S3Endpoint,
			AccessKey: cfg.Export.S3AccessKey,
			SecretKey: cfg.Export.S3SecretKey,
			Bucket:    cfg.Export.S3Bucket,
			UseSSL:    cfg.Export.S3UseSSL,
		})
		if err != nil {
			logger.Warn("report storage unavailable, exports will not be uploaded", zap.Error(err))
		} else {
			exportOpts = append(exportOpts, export.WithUploader(uploader))
		}
	}
	renderer := export.ChromeRenderer{ExecPath: cfg.Export.ChromePath, Timeout: 30 * time.Second}
	opts = append(opts, app.WithExport(export.NewService(renderer, exportOpts...)))

	service := app.NewService(store.NewPostgresStore(db), verifier, opts...)
	defer service.Close()

	// Meilisearch starts empty after a wipe; push everything once it is up.
	go func() {
		if engine == nil {
			return
		}
		for i := 0; i < 30 && !engine.Healthy(); i++ {
			time.Sleep(time.Second)
		}
		reindexCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		recs, err := pgfts.LoadAllRecords(reindexCtx)
		if err != nil {
			logger.Warn("load records for reindex", zap.Error(err))
			return
		}
		if err := searchService.Reindex(recs); err != nil {
			logger.Warn("reindex search", zap.Error(err))
			return
		}
		logger.Info("search reindexed",
			zap.Int("candidates", len(recs.Candidates)),
			zap.Int("choices", len(recs.Choices)),
			zap.Int("messages", len(recs.Messages)))
	}()

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           app.NewHTTPServer(service, cfg.HTTP.CORSOrigin, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", zap.String("addr", cfg.HTTP.Addr), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
		return err
	}
	return nil
}
