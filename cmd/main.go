package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/tejusbharadwaj/tscore/internal/api"
	"github.com/tejusbharadwaj/tscore/internal/config"
	"github.com/tejusbharadwaj/tscore/internal/database"
	"github.com/tejusbharadwaj/tscore/internal/events"
	server "github.com/tejusbharadwaj/tscore/internal/grpc"
	"github.com/tejusbharadwaj/tscore/internal/models"
	"github.com/tejusbharadwaj/tscore/internal/repository"
	"github.com/tejusbharadwaj/tscore/internal/scheduler"
	"github.com/tejusbharadwaj/tscore/internal/service"
)

// Command tscore serves float64 time series over gRPC.
//
// The service supports:
//   - Interpolation and window or period aggregation (MIN, MAX, AVG, SUM)
//   - Memory, TimescaleDB, Badger and S3 storage backends
//   - Change events published to NATS or MQTT
//   - Scheduled ingestion from an upstream HTTP API and retention
//   - Prometheus metrics and the gRPC health protocol
//
// Usage:
//
//	tscore [flags]
//
// The flags are:
//
//	-config string
//	      path to config file (default "config.yaml")
//	-port int
//	      gRPC server port, overrides server.port
//	-log-level string
//	      overrides logging.level
func main() {
	// Parse command line flags
	flags := parseFlags()

	// Load configuration
	appConfig, err := config.Load(flags.ConfigPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if flags.Port > 0 {
		appConfig.Server.Port = flags.Port
	}
	if flags.LogLevel != "" {
		appConfig.Logging.Level = flags.LogLevel
	}

	// Initialize structured logger
	logger, err := newLogger(appConfig.Logging)
	if err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}

	// Create a context that will be canceled on shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := openBackend(ctx, appConfig, logger)
	if err != nil {
		logger.Fatalf("Failed to create repository: %v", err)
	}

	publisher, err := openPublisher(appConfig.Events, logger)
	if err != nil {
		logger.Fatalf("Failed to connect event publisher: %v", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := service.Options{
		Logger:    logger,
		CacheSize: appConfig.Server.CacheSize,
		Metrics:   service.NewMetrics(registry),
	}
	if publisher != nil {
		opts.Handlers = append(opts.Handlers, publisher)
	}
	svc, err := service.New[float64](backend.repo, opts)
	if err != nil {
		logger.Fatalf("Failed to create service: %v", err)
	}

	if err := registerSeries(ctx, svc, appConfig.Ingest.Series, logger); err != nil {
		logger.Fatalf("Failed to register series: %v", err)
	}

	// Create and setup gRPC server
	health := server.NewHealthChecker()
	srv, err := server.SetupServer(svc, server.ServerConfig{
		RateLimit:      appConfig.Server.RateLimit,
		RateLimitBurst: appConfig.Server.RateLimitBurst,
		MaxTimeRange:   appConfig.Server.MaxTimeRange,
		Logger:         logger,
		Registerer:     registry,
		Health:         health,
	})
	if err != nil {
		logger.Fatalf("Failed to setup server: %v", err)
	}

	// Start listening
	addr := fmt.Sprintf("%s:%d", appConfig.Server.Host, appConfig.Server.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatalf("Failed to listen: %v", err)
	}

	// Initialize background components
	var fetcher *api.SeriesFetcher
	jobs := scheduler.Jobs{Retainer: svc, Maintainer: backend.maintainer}
	if appConfig.Ingest.URL != "" && len(appConfig.Ingest.Series) > 0 {
		fetcher = api.NewSeriesFetcher(appConfig.Ingest.URL, appConfig.Ingest.Series, svc, logger)
		jobs.Fetcher = fetcher
	}
	sched := scheduler.NewScheduler(ctx, scheduler.Config{
		FetchSchedule:       appConfig.Ingest.Schedule,
		FetchWindow:         appConfig.Ingest.Window,
		RetentionSchedule:   appConfig.Retention.Schedule,
		Retention:           appConfig.Retention.Period,
		MaintenanceSchedule: appConfig.Retention.MaintenanceSchedule,
		JobTimeout:          scheduler.DefaultConfig().JobTimeout,
	}, jobs, logger)

	// Start background services
	errChan := make(chan error, 1)

	if err := sched.Start(); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}

	// Bootstrap historical data in a goroutine
	if fetcher != nil && appConfig.Ingest.Bootstrap > 0 {
		go func() {
			if err := fetcher.BootstrapHistoricalData(ctx, appConfig.Ingest.Bootstrap); err != nil {
				logger.WithError(err).Warn("Historical bootstrap incomplete")
			}
		}()
	}

	go health.Monitor(ctx, server.ServiceName, 30*time.Second, func(ctx context.Context) error {
		_, err := svc.Count(ctx)
		return err
	}, logger)

	metricsSrv := serveMetrics(appConfig.Server.MetricsPort, registry, errChan)

	// Handle shutdown gracefully
	done := make(chan struct{})
	go func() {
		handleShutdown(ctx, srv, health, sched, metricsSrv, logger, backend, publisher)
		close(done)
	}()

	logger.WithFields(logrus.Fields{
		"addr":    addr,
		"storage": appConfig.Storage.Driver,
		"events":  appConfig.Events.Driver,
	}).Info("Starting gRPC server")

	// Monitor for errors from background services
	go func() {
		if err := srv.Serve(lis); err != nil {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	// Wait for shutdown or any error
	select {
	case <-done:
		logger.Info("Shutdown complete")
	case err := <-errChan:
		logger.Errorf("Service error: %v", err)
		cancel()
		<-done
		os.Exit(1)
	}
}

type Flags struct {
	ConfigPath string
	Port       int
	LogLevel   string
}

func parseFlags() *Flags {
	flags := &Flags{}

	flag.StringVar(&flags.ConfigPath, "config", "config.yaml", "Path to the config file")
	flag.IntVar(&flags.Port, "port", 0, "The gRPC server port, overrides server.port")
	flag.StringVar(&flags.LogLevel, "log-level", "", "Log level, overrides logging.level")

	flag.Parse()

	return flags
}

func newLogger(cfg config.LoggingConfig) (*logrus.Logger, error) {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)
	if strings.EqualFold(cfg.Format, "text") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger, nil
}

// storageBackend is the configured repository with its optional lifecycle hooks.
type storageBackend struct {
	repo       repository.TimeSeriesRepository[float64]
	maintainer scheduler.Maintainer
	closer     io.Closer
}

func openBackend(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*storageBackend, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		// Create a Postgres repository
		repo, err := database.NewPostgresRepo(ctx, cfg.Database.ConnectionString())
		if err != nil {
			return nil, err
		}
		if cfg.Database.MaxConnections > 0 {
			repo.SetPoolSize(cfg.Database.MaxConnections)
		}
		if cfg.Database.Migrate {
			if err := repo.Migrate(ctx); err != nil {
				repo.Close()
				return nil, err
			}
		}
		return &storageBackend{repo: repo, closer: repo}, nil

	case "badger":
		codec, err := database.NewCodec(cfg.Storage.Compression)
		if err != nil {
			return nil, err
		}
		repo, err := database.NewBadgerRepo[float64](database.BadgerConfig{
			Path:   cfg.Storage.Path,
			Codec:  codec,
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		return &storageBackend{repo: repo, maintainer: repo, closer: repo}, nil

	case "s3":
		codec, err := database.NewCodec(cfg.Storage.Compression)
		if err != nil {
			return nil, err
		}
		client, err := database.NewS3Client(ctx, database.S3Config{
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
		})
		if err != nil {
			return nil, err
		}
		repo := database.NewS3Repo[float64](client, cfg.S3.Bucket, cfg.S3.Prefix, codec)
		if err := repo.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return &storageBackend{repo: repo}, nil

	default:
		return &storageBackend{repo: repository.NewMemory[float64]()}, nil
	}
}

// changePublisher is an event handler holding a broker connection.
type changePublisher interface {
	service.EventHandler
	io.Closer
}

func openPublisher(cfg config.EventsConfig, logger *logrus.Logger) (changePublisher, error) {
	switch cfg.Driver {
	case "nats":
		conn, err := events.DialNATS(cfg.URL, cfg.ClientID, logger)
		if err != nil {
			return nil, err
		}
		return events.NewNATSPublisher(conn, cfg.Prefix, logger), nil
	case "mqtt":
		client, err := events.DialMQTT(cfg.URL, cfg.ClientID, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		return events.NewMQTTPublisher(client, cfg.Prefix, cfg.Timeout, logger), nil
	default:
		return nil, nil
	}
}

// registerSeries adds the ingested series that the repository lacks.
func registerSeries(ctx context.Context, svc *service.Service[float64], ids []string, logger *logrus.Logger) error {
	for _, id := range ids {
		_, err := svc.Add(ctx, models.TimeSeries[float64]{ID: id, Name: id})
		switch {
		case err == nil:
			logger.WithField("series", id).Info("Series registered")
		case errors.Is(err, models.ErrAlreadyExists):
		default:
			return fmt.Errorf("series %s: %w", id, err)
		}
	}
	return nil
}

// serveMetrics exposes the registry on /metrics; port zero disables it.
func serveMetrics(port int, registry *prometheus.Registry, errChan chan<- error) *http.Server {
	if port <= 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("metrics server error: %w", err)
		}
	}()
	return srv
}

// Handle graceful shutdown
func handleShutdown(
	ctx context.Context,
	srv *grpc.Server,
	health *server.HealthChecker,
	sched *scheduler.Scheduler,
	metricsSrv *http.Server,
	logger *logrus.Logger,
	backend *storageBackend,
	publisher changePublisher,
) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-ctx.Done():
		logger.Println("Context canceled, initiating shutdown")
	case sig := <-sigChan:
		logger.Printf("Received signal %v, initiating shutdown", sig)
	}

	// Report NOT_SERVING before draining connections
	health.Shutdown()

	// Perform graceful shutdown
	logger.Println("Gracefully stopping server...")
	srv.GracefulStop()
	logger.Println("Server stopped")

	sched.Stop()

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Failed to stop metrics server")
		}
	}

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close event publisher")
		}
	}

	// Clean up the repository
	if backend.closer != nil {
		if err := backend.closer.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close repository")
		}
	}
}
