// Package main is the entry point for the pipelinestudio server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tcmartin/pipelinestudio/pkg/api"
	"github.com/tcmartin/pipelinestudio/pkg/client"
	"github.com/tcmartin/pipelinestudio/pkg/config"
	"github.com/tcmartin/pipelinestudio/pkg/graph"
	"github.com/tcmartin/pipelinestudio/pkg/loader"
	"github.com/tcmartin/pipelinestudio/pkg/logging"
	"github.com/tcmartin/pipelinestudio/pkg/models"
	"github.com/tcmartin/pipelinestudio/pkg/monitor"
	"github.com/tcmartin/pipelinestudio/pkg/registry"
	"github.com/tcmartin/pipelinestudio/pkg/runtime"
	"github.com/tcmartin/pipelinestudio/pkg/storage"
	"github.com/tcmartin/pipelinestudio/pkg/webhooks"
)

var (
	// Command-line flags
	configPath = flag.String("config", "", "Path to config file")
	version    = flag.Bool("version", false, "Print version information")
)

// Version information
const (
	AppVersion = "0.1.0"
	AppName    = "pipelinestudio"
)

func main() {
	// Load environment variables from .env file
	_ = godotenv.Load()

	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", AppName, AppVersion)
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	app, err := NewApp(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Application failed: %v", err)
		}
	case <-stop:
		app.log.Info("shutting down gracefully")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Stop(ctx); err != nil {
			log.Fatalf("Error during shutdown: %v", err)
		}
	}
}

// loadConfig loads the configuration from the specified path or the first
// standard location that exists, falling back to defaults
func loadConfig() (*config.Config, error) {
	var cfg *config.Config

	if *configPath != "" {
		var err error
		cfg, err = config.LoadConfig(*configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", *configPath, err)
		}
	} else {
		locations := []string{
			"./config.json",
			"./configs/config.json",
			filepath.Join(os.Getenv("HOME"), ".pipelinestudio", "config.json"),
			"/etc/pipelinestudio/config.json",
		}
		for _, path := range locations {
			if loadedCfg, err := config.LoadConfig(path); err == nil {
				cfg = loadedCfg
				break
			}
		}
		if cfg == nil {
			cfg = config.DefaultConfig()
		}
	}

	config.OverrideFromEnv(cfg)
	return cfg, nil
}

// App represents the pipelinestudio application
type App struct {
	config   *config.Config
	server   *api.Server
	monitor  *monitor.Monitor
	webhooks *webhooks.Dispatcher
	provider storage.Provider
	log      logging.Logger
}

// NewApp wires the registry and pipeline, storage and webhooks, the executor
// and monitor, and the API server
func NewApp(cfg *config.Config) (*App, error) {
	logger, err := logging.New(logging.LogConfig{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		Output:   cfg.Logging.Output,
		FilePath: cfg.Logging.FilePath,
		Name:     AppName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	reg := registry.Default()
	if cfg.Pipeline.RegistryOverrides != "" {
		reg, err = reg.LoadOverrides(cfg.Pipeline.RegistryOverrides)
		if err != nil {
			return nil, err
		}
		logger.Info("registry overrides applied", logging.F("path", cfg.Pipeline.RegistryOverrides))
	}

	pipeline, err := startupPipeline(cfg, reg)
	if err != nil {
		return nil, err
	}

	provider, err := storage.NewProvider(storage.ProviderConfigFromSettings(cfg.Storage))
	if err != nil {
		return nil, fmt.Errorf("failed to create storage provider: %w", err)
	}
	if err := provider.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	logger.Info("storage initialized", logging.F("type", cfg.Storage.Type))

	sinks := []runtime.RunSink{provider.Runs()}
	hooks := webhooks.NewFromConfig(cfg.Webhooks, logger.WithFields(logging.F("component", "webhooks")))
	if hooks != nil {
		sinks = append(sinks, hooks)
		logger.Info("run webhooks enabled", logging.F("urls", len(cfg.Webhooks.URLs)))
	}

	store := runtime.NewExecutionStore(
		runtime.WithHistoryLimit(cfg.Executor.HistoryLimit),
		runtime.WithRunSink(runtime.MultiSink(sinks...)),
		runtime.WithStoreLogger(logger.WithFields(logging.F("component", "store"))),
	)
	store.LoadPipeline(pipeline)

	opts := []runtime.Option{
		runtime.WithTiming(runtime.TimingFromConfig(cfg.Executor)),
		runtime.WithLogger(logger.WithFields(logging.F("component", "executor"))),
	}

	var mon *monitor.Monitor
	if cfg.Backend.URL != "" {
		backend := client.New(cfg.Backend.URL,
			client.WithAPIKey(cfg.Backend.APIKey),
			client.WithTimeout(cfg.Backend.Timeout()),
			client.WithMaxFrameBytes(cfg.Backend.StreamBufferBytes),
			client.WithStreamFallback(cfg.Backend.StreamFallback),
		)
		opts = append(opts, runtime.WithBackend(backend))
		mon = monitor.New(backend,
			monitor.WithSchedules(cfg.Backend.HealthSchedule, cfg.Backend.MetricsSchedule),
			monitor.WithLogger(logger.WithFields(logging.F("component", "monitor"))),
		)
	}
	executor := runtime.NewExecutor(store, reg, opts...)

	deps := api.Dependencies{
		Registry: reg,
		Store:    store,
		Executor: executor,
		Storage:  provider,
		Logger:   logger.WithFields(logging.F("component", "api")),
	}
	if mon != nil {
		deps.Monitor = mon
	}

	return &App{
		config:   cfg,
		server:   api.NewServer(cfg, deps),
		monitor:  mon,
		webhooks: hooks,
		provider: provider,
		log:      logger,
	}, nil
}

// startupPipeline loads the configured pipeline file or the built-in pipeline
func startupPipeline(cfg *config.Config, reg *registry.Registry) (graph.Pipeline, error) {
	if cfg.Pipeline.Path == "" {
		return loader.DefaultPipeline(reg)
	}
	def, err := loader.NewLoader(reg).LoadFile(cfg.Pipeline.Path)
	if err != nil {
		return graph.Pipeline{}, fmt.Errorf("failed to load pipeline: %w", err)
	}
	return def.Pipeline(), nil
}

// Start starts the backend monitor and the HTTP server
func (a *App) Start() error {
	a.log.Info("starting", logging.F("app", AppName), logging.F("version", AppVersion))
	if a.monitor != nil {
		if err := a.monitor.Start(context.Background()); err != nil {
			return fmt.Errorf("failed to start backend monitor: %w", err)
		}
		status := a.monitor.Status()
		a.log.Info("backend checked",
			logging.F("connected", status.Connected),
			logging.F("live_available", a.monitor.ModeAvailable(models.ModeLive)))
	}
	return a.server.Start()
}

// Stop stops the application gracefully
func (a *App) Stop(ctx context.Context) error {
	if a.monitor != nil {
		a.monitor.Stop()
	}

	if err := a.server.Stop(ctx); err != nil {
		return err
	}

	if a.webhooks != nil {
		if err := a.webhooks.Close(ctx); err != nil {
			a.log.Warn("pending webhooks dropped", logging.Err(err))
		}
	}

	if err := a.provider.Close(); err != nil {
		return fmt.Errorf("failed to close storage: %w", err)
	}
	return nil
}
