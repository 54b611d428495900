package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"altan/workspace/internal/app"
	"altan/workspace/internal/bases"
	"altan/workspace/internal/cache"
	"altan/workspace/internal/config"
	"altan/workspace/internal/events"
	"altan/workspace/internal/pgmeta"
	"altan/workspace/internal/restapi"
	"altan/workspace/internal/search"
	"altan/workspace/internal/snapshot"
	"altan/workspace/internal/tasks"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local API and the event stream",
	Long: `serve wires the upstream REST client, the optional Redis cache, Postgres
catalog, Meilisearch index and snapshot bucket, subscribes to the event stream
and serves the local JSON API until SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address; defaults to WORKSPACE_ADDR")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := restapi.New(cfg.APIURL, cfg.APIToken, cfg.HTTPTimeout).WithLogger(logger)
	checks := map[string]app.Pinger{}

	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedisCache(cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisCache.Close()
		client.WithCache(redisCache)
		checks["redis"] = redisCache
		logger.Info("using redis response cache")
	}

	var source bases.Source = client
	var pg *search.Postgres
	if cfg.DatabaseURL != "" {
		db, err := pgmeta.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		catalog := pgmeta.NewCatalog(db, cfg.PGSchema)
		defer catalog.Close()
		source = catalog
		pg = search.NewPostgres(catalog)
		checks["postgres"] = catalog
		logger.Info("reading tables from postgres", "schema", cfg.PGSchema)
	}

	taskStore := tasks.NewStore(client)
	baseStore := bases.NewStore(source, cfg.PageSize)

	var meili *search.Meili
	if cfg.MeiliURL != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
	}
	searchService := search.NewService(meili, pg, search.NewCacheScan(baseStore), logger)
	defer searchService.Close()

	dispatcher := events.NewDispatcher(taskStore, baseStore, logger).WithIndexer(searchService)

	deps := app.Deps{
		Tasks:      taskStore,
		Bases:      baseStore,
		Dispatcher: dispatcher,
		Upstream:   client,
		Search:     searchService,
		Checks:     checks,
		Logger:     logger,
	}
	if cfg.MinioEndpoint != "" {
		uploader, err := snapshot.NewMinioUploader(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return fmt.Errorf("snapshot storage: %w", err)
		}
		deps.Snapshots = snapshot.NewExporter(taskStore, baseStore, uploader)
	}

	return serve(ctx, cfg, app.New(cfg, deps), dispatcher, logger)
}

func serve(ctx context.Context, cfg config.Config, service *app.Service, dispatcher *events.Dispatcher, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("workspace API listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	streamDone := make(chan struct{})
	if cfg.WSURL != "" {
		stream := events.NewClient(cfg.WSURL, cfg.APIToken, cfg.WSChannels, dispatcher, cfg.ReconnectWait, logger)
		go func() {
			defer close(streamDone)
			if err := stream.Run(ctx); err != nil {
				logger.Error("event stream stopped", "error", err)
			}
		}()
	} else {
		close(streamDone)
		logger.Info("event stream disabled")
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		serveErr = fmt.Errorf("server failed: %w", err)
	}
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	select {
	case <-streamDone:
	case <-shutdownCtx.Done():
	}
	return serveErr
}
