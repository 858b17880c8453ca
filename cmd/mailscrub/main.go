package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/zeroinbox/mailscrub/internal/anonymize"
	"github.com/zeroinbox/mailscrub/internal/audit"
	"github.com/zeroinbox/mailscrub/internal/config"
	"github.com/zeroinbox/mailscrub/internal/logger"
	"github.com/zeroinbox/mailscrub/internal/privacy"
	"github.com/zeroinbox/mailscrub/internal/rotation"
	"github.com/zeroinbox/mailscrub/internal/source"
	"github.com/zeroinbox/mailscrub/internal/warehouse"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Configuration file path")
		rotations   = flag.Int("rotations", 1, "Number of rotations to run")
		showReport  = flag.Bool("report", false, "Print the coverage report and exit")
		auditPath   = flag.String("audit", "", "Audit an emitted batch file and exit")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("mailscrub %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting mailscrub",
		zap.String("version", version),
		zap.String("config", *configPath))

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling...")
		cancel()
	}()

	// Initialize services
	services, err := initializeServices(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.cleanup()

	switch {
	case *showReport:
		fmt.Print(services.scheduler.Report().String())

	case *auditPath != "":
		auditor := audit.New(services.scrubber, log.WithComponent("audit"))
		result, err := auditor.AuditFile(*auditPath)
		if err != nil {
			log.Fatal("Audit failed", zap.Error(err))
		}
		fmt.Print(result.String())
		if !result.Passed {
			os.Exit(1)
		}

	default:
		if err := runRotations(ctx, services, *rotations, log); err != nil {
			log.Fatal("Rotation run failed", zap.Error(err))
		}
		fmt.Print(services.scheduler.Report().String())
	}

	log.Info("mailscrub completed")
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

// runRotations executes the requested number of rotations, mirroring
// each emitted batch into the warehouse when one is configured.
func runRotations(ctx context.Context, services *services, count int, log *logger.Logger) error {
	for i := 0; i < count; i++ {
		result, err := services.scheduler.RunRotation(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Warn("Rotation interrupted", zap.Error(err))
				return nil
			}
			return fmt.Errorf("rotation failed: %w", err)
		}

		log.Info("Rotation finished",
			zap.Int("rotation", result.Rotation),
			zap.Int("batch_size", result.BatchSize),
			zap.Int("new_emails", result.NewEmails),
			zap.Int("duplicates", result.Duplicates),
			zap.Int("dropped", result.Dropped),
			zap.Float64("coverage_pct", result.Coverage),
			zap.String("output", result.OutputPath),
			zap.Duration("duration", result.Duration))

		if services.warehouse != nil && result.OutputPath != "" {
			stored, err := services.warehouse.StoreFile(ctx, result.Rotation, result.OutputPath)
			if err != nil {
				log.Warn("Warehouse insert failed", zap.Error(err))
			} else {
				log.Info("Batch mirrored to warehouse",
					zap.Int64("inserted", stored.Inserted),
					zap.Int64("duplicates", stored.Duplicates))
			}
		}
	}

	return nil
}
