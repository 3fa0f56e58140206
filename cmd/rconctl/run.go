package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/energizer-project/rconctl/internal/api"
	"github.com/energizer-project/rconctl/internal/cli"
	"github.com/energizer-project/rconctl/internal/config"
	"github.com/energizer-project/rconctl/internal/db"
	"github.com/energizer-project/rconctl/internal/events"
	"github.com/energizer-project/rconctl/internal/health"
	"github.com/energizer-project/rconctl/internal/scheduler"
	"github.com/energizer-project/rconctl/internal/server"
	"github.com/energizer-project/rconctl/internal/telemetry"
	"github.com/energizer-project/rconctl/internal/util"
)

var noConsole bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon: connections, REST API, health checks, scheduler and console",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(daemonOptions{api: true, console: !noConsole})
	},
}

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Open the interactive console without the REST API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(daemonOptions{console: true, quiet: true})
	},
}

func init() {
	runCmd.Flags().BoolVar(&noConsole, "no-console", false, "do not read commands from stdin")
	rootCmd.AddCommand(runCmd, consoleCmd)
}

type daemonOptions struct {
	api     bool
	console bool
	// quiet sends console logging to stderr at warn level.
	quiet bool
}

// loadConfig loads, validates and applies the logging section of the config.
func loadConfig(quiet bool) (*config.Config, error) {
	bootLog := util.DefaultLogConfig()
	if quiet {
		bootLog.Level = "warn"
		bootLog.ConsoleOut = os.Stderr
	}
	if err := util.InitLogger(bootLog); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logCfg := cfg.GetApplicationData().Logging.LogConfig()
	if quiet {
		logCfg.Level = "warn"
		logCfg.ConsoleOut = os.Stderr
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return nil, errors.New("configuration validation failed, please fix the errors above")
	}
	return cfg, nil
}

func runDaemon(opts daemonOptions) error {
	cfg, err := loadConfig(opts.quiet)
	if err != nil {
		return err
	}
	appData := cfg.GetApplicationData()

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Str("config", cfg.Path()).
		Int("servers", len(cfg.GetServers())).
		Msg("starting rconctl")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()

	mgr, err := server.NewManager(cfg, bus)
	if err != nil {
		return fmt.Errorf("failed to create server manager: %w", err)
	}

	var history *db.History
	if appData.History.Enabled {
		history, err = db.NewHistory(appData.History.Path)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open command history, history disabled")
		} else {
			history.Attach(bus)
			defer history.Close()
		}
	}

	var mqttHandler *telemetry.MQTTHandler
	if appData.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, bus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	healthMgr := health.NewManager(cfg, bus, mgr)
	sched := scheduler.NewScheduler(cfg, mgr, history)

	// Quit from the console stops the daemon.
	bus.Subscribe(events.EventShutdown, "main.shutdown", func(context.Context, events.Event) error {
		cancel()
		return nil
	})

	var wg sync.WaitGroup

	// Initial connections are non-fatal: health checks keep retrying.
	if err := mgr.ConnectAll(ctx); err != nil {
		log.Warn().Err(err).Msg("initial connections failed, health checks will retry")
	}

	if opts.api && appData.API.Enabled {
		apiServer := api.NewServer(cfg, mgr, historyReader(history))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("REST API server failed")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting health check manager")
		healthMgr.Start(ctx)
	}()

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting task scheduler")
		sched.Start(ctx)
	}()

	if opts.console {
		var hist cli.HistoryReader
		if history != nil {
			hist = history
		}
		console := cli.NewCLI(bus, mgr, hist)
		// The console is not tracked by wg: a blocked stdin read cannot be
		// interrupted.
		go func() {
			if err := console.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("console input failed")
			}
			cancel()
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-ctx.Done():
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	mgr.DisconnectAll(shutdownCtx)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	if mqttHandler != nil {
		mqttHandler.PublishShutdown()
	}

	// Stop waits for the history handlers to record the final disconnects.
	bus.Stop()

	log.Info().Msg("rconctl stopped")
	return nil
}

// historyReader avoids handing the API a typed nil.
func historyReader(h *db.History) api.HistoryReader {
	if h == nil {
		return nil
	}
	return h
}
