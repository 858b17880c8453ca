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

	"go.uber.org/zap"

	"github.com/zeroinbox/mailscrub/internal/anonymize"
	"github.com/zeroinbox/mailscrub/internal/config"
	"github.com/zeroinbox/mailscrub/internal/logger"
	"github.com/zeroinbox/mailscrub/internal/privacy"
	"github.com/zeroinbox/mailscrub/internal/rotation"
	"github.com/zeroinbox/mailscrub/internal/source"
	"github.com/zeroinbox/mailscrub/internal/status"
	"github.com/zeroinbox/mailscrub/internal/warehouse"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.Bool("health-check", false, "Perform health check and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("scrubd %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *healthCheck {
		performHealthCheck(cfg.Status.Port)
		return
	}

	// Initialize logger
	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}

	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled:  cfg.Logging.File.Enabled,
			Path:     cfg.Logging.File.Path,
			MaxSize:  cfg.Logging.File.MaxSize,
			MaxAge:   cfg.Logging.File.MaxAge,
			Compress: cfg.Logging.File.Compress,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting scrubd",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("sources", len(cfg.Sources.Items)),
		zap.Duration("interval", cfg.Rotation.Interval),
	)

	// Wire the scrubbing pipeline
	services, err := initializeServices(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.cleanup()

	// Status server plus event hub
	server := status.NewServer(cfg.Status, services.scheduler, version, log)
	services.scheduler.SetNotifier(&rotationSink{
		hub:   status.NewHubNotifier(server.Hub()),
		store: services.warehouse,
		log:   log.WithComponent("warehouse"),
	})

	// Hot-reload rule toggles from the config file
	watchRuleToggles(cfg, services.scrubber, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Interval rotations, when configured
	if cfg.Rotation.Interval > 0 {
		go runRotationLoop(ctx, services, cfg.Rotation.Interval, log.WithComponent("rotation"))
	} else {
		log.Info("No rotation interval configured, rotations run on POST /api/rotate only")
	}

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	if cfg.Status.Enabled {
		go func() {
			serverErrors <- server.Start()
		}()
	} else {
		// Keep the hub draining so queued events are discarded instead
		// of flooding the drop warning.
		go server.Hub().Run()
		log.Info("Status server disabled")
	}

	// Setup graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("Server error", zap.Error(err))
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		// Stop interval rotations, then give outstanding requests and the
		// in-flight rotation time to complete
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Stop(shutdownCtx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			os.Exit(1)
		}

		log.Info("Server shutdown complete")
	}
}

// services holds all initialized components
type services struct {
	scrubber  *privacy.Scrubber
	scheduler *rotation.Scheduler
	warehouse *warehouse.Store
}

func (s *services) cleanup() {
	if s.warehouse != nil {
		s.warehouse.Close()
	}
	if s.scrubber != nil {
		s.scrubber.Close()
	}
}

// initializeServices wires the cache, scrubber, sources, state and
// scheduler from configuration.
func initializeServices(cfg *config.Config, log *logger.Logger) (*services, error) {
	services := &services{}

	var mirror anonymize.Mirror
	if cfg.Mirror.Enabled {
		redisMirror, err := anonymize.NewRedisMirror(anonymize.MirrorConfig{
			URL:       cfg.Mirror.URL,
			KeyPrefix: cfg.Mirror.KeyPrefix,
			TTL:       cfg.Mirror.TTL,
		}, log.WithComponent("mirror").Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize pseudonym mirror: %w", err)
		}
		mirror = redisMirror
	}

	cache := anonymize.New(cfg.Scrub.Salt, mirror, log.WithComponent("anonymize").Logger)

	scrubber, err := privacy.NewScrubber(cfg.Scrub, cache, log.WithComponent("privacy"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scrubber: %w", err)
	}
	services.scrubber = scrubber

	sources, err := source.NewAll(cfg.Sources.Items, log.WithComponent("source").Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sources: %w", err)
	}

	state, err := rotation.LoadState(cfg.Rotation.StateFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load rotation state: %w", err)
	}

	services.scheduler = rotation.NewScheduler(cfg.Rotation, cfg.Sources.MaxBodyChars,
		sources, scrubber, state, log.WithComponent("rotation"))

	if cfg.Warehouse.Enabled {
		store, err := warehouse.NewStore(cfg.Warehouse, log.WithComponent("warehouse").Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize warehouse: %w", err)
		}
		services.warehouse = store
	}

	return services, nil
}

// rotationSink fans scheduler lifecycle events out to the status hub
// and mirrors completed batches into the warehouse when configured.
type rotationSink struct {
	hub   *status.HubNotifier
	store *warehouse.Store
	log   *logger.Logger
}

func (s *rotationSink) RotationStarted(rotationNumber, batchSize int) {
	s.hub.RotationStarted(rotationNumber, batchSize)
}

func (s *rotationSink) SourceAdvanced(rotationNumber int, sourceName string, offset, pulled int) {
	s.hub.SourceAdvanced(rotationNumber, sourceName, offset, pulled)
}

func (s *rotationSink) RotationCompleted(result rotation.Result) {
	s.hub.RotationCompleted(result)

	if s.store == nil || result.OutputPath == "" {
		return
	}

	// Inserts run off the rotation goroutine; notifiers must not block it.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		stored, err := s.store.StoreFile(ctx, result.Rotation, result.OutputPath)
		if err != nil {
			s.log.Error("Warehouse insert failed",
				zap.Int("rotation", result.Rotation),
				zap.Error(err))
			return
		}
		s.log.Info("Batch mirrored to warehouse",
			zap.Int("rotation", result.Rotation),
			zap.Int64("inserted", stored.Inserted),
			zap.Int64("duplicates", stored.Duplicates))
	}()
}

// runRotationLoop triggers a rotation every interval. A tick that lands
// while the previous rotation is still running is skipped, not queued.
func runRotationLoop(ctx context.Context, services *services, interval time.Duration, log *logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := services.scheduler.TryRunRotation(ctx)
			if errors.Is(err, rotation.ErrRotationInProgress) {
				log.Warn("Skipping scheduled rotation, previous one still running")
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error("Scheduled rotation failed", zap.Error(err))
				continue
			}

			log.Info("Scheduled rotation finished",
				zap.Int("rotation", result.Rotation),
				zap.Int("batch_size", result.BatchSize),
				zap.Int("new_emails", result.NewEmails),
				zap.Float64("coverage_pct", result.Coverage))
		}
	}
}

// watchRuleToggles applies scrub rule enable/disable changes from the
// config file to the running scrubber without a restart.
func watchRuleToggles(cfg *config.Config, scrubber *privacy.Scrubber, log *logger.Logger) {
	disabled := make(map[string]bool, len(cfg.Scrub.Disabled))
	for _, name := range cfg.Scrub.Disabled {
		disabled[name] = true
	}

	err := config.Watch(cfg, func(updated *config.Config) {
		next := make(map[string]bool, len(updated.Scrub.Disabled))
		for _, name := range updated.Scrub.Disabled {
			next[name] = true
		}

		for name := range next {
			if !disabled[name] {
				if err := scrubber.DisableRule(name); err != nil {
					log.Warn("Cannot disable rule", zap.String("rule", name), zap.Error(err))
				}
			}
		}
		for name := range disabled {
			if !next[name] {
				if err := scrubber.EnableRule(name); err != nil {
					log.Warn("Cannot enable rule", zap.String("rule", name), zap.Error(err))
				}
			}
		}
		disabled = next
	})
	if err != nil {
		log.Warn("Config watch unavailable", zap.Error(err))
	}
}

// performHealthCheck performs a health check against the running daemon
func performHealthCheck(port int) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/health", port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
