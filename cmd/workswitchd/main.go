package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"workswitch/internal/api"
	"workswitch/internal/config"
	"workswitch/internal/core"
	"workswitch/internal/launcher"
	"workswitch/internal/logging"
	workswitchmcp "workswitch/internal/mcp"
	"workswitch/internal/notify"
	"workswitch/internal/process"
	"workswitch/internal/profiles"
	"workswitch/internal/store"
)

// daemon bundles the long-lived components shared by every run mode.
type daemon struct {
	cfg          *config.Config
	logger       *slog.Logger
	location     *time.Location
	store        *store.Store
	profiles     *profiles.FileSource
	hub          *notify.Hub
	probe        *process.Probe
	orchestrator *core.Orchestrator
	trigger      *core.TriggerLoop
	mcp          *workswitchmcp.MCPServer
}

func main() {
	cfg, err := config.Parse()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	// stdout carries the MCP stdio transport.
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	if cfg.Server.Mode != "http" {
		logger = logging.NewWithWriter(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	}

	baseCtx := context.Background()
	storeInst, err := store.Open(baseCtx, cfg.StateDir, cfg.HistoryKeep)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer storeInst.Close()

	if n, err := storeInst.MarkInterrupted(baseCtx, time.Now()); err != nil {
		logger.Warn("mark interrupted activations", "err", err)
	} else if n > 0 {
		logger.Info("closed activations interrupted by previous shutdown", "count", n)
	}

	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	d := newDaemon(cfg, logger, storeInst)
	d.start(ctx)

	switch cfg.Server.Mode {
	case "http", "":
		d.runHTTPMode(ctx)
	case "mcp":
		d.runMCPMode(cancel)
	case "both":
		d.runBothMode(ctx)
	default:
		logger.Error("invalid mode", "mode", cfg.Server.Mode, "valid", []string{"http", "mcp", "both"})
		os.Exit(1)
	}

	d.closeLaunched()
	logger.Info("shutdown complete")
}

func newDaemon(cfg *config.Config, logger *slog.Logger, storeInst *store.Store) *daemon {
	location := cfg.Location()
	source := profiles.NewFileSource(cfg.ProfilesPath)
	hub := notify.NewHub()
	probe := process.NewProbe()
	exec := launcher.New(probe, logger)

	orchestrator := core.NewOrchestrator(exec, hub, storeInst, logger, core.Timing{
		StepTimeout: cfg.Launch.StepTimeout,
	})
	trigger := core.NewTriggerLoop(source, exec, hub, storeInst, logger, core.TriggerConfig{
		PollInterval: cfg.Launch.PollInterval,
		StepTimeout:  cfg.Launch.ScheduledStepTimeout,
		Location:     location,
	})

	return &daemon{
		cfg:          cfg,
		logger:       logger,
		location:     location,
		store:        storeInst,
		profiles:     source,
		hub:          hub,
		probe:        probe,
		orchestrator: orchestrator,
		trigger:      trigger,
		mcp:          workswitchmcp.NewMCPServer(source, orchestrator, storeInst, logger, location),
	}
}

// start launches the background workers: trigger loop, startup steps,
// profiles watcher and push notifications.
func (d *daemon) start(ctx context.Context) {
	d.orchestrator.Start(ctx)
	go d.trigger.Run(ctx)
	go d.runStartupSteps(ctx)

	watcher, err := profiles.NewWatcher(d.profiles, d.hub, d.logger)
	if err != nil {
		d.logger.Warn("profiles watcher unavailable", "err", err)
	} else if err := watcher.Start(ctx); err != nil {
		d.logger.Warn("start profiles watcher", "err", err)
		_ = watcher.Close()
	} else {
		go func() {
			<-ctx.Done()
			_ = watcher.Close()
		}()
	}

	go notify.NewRelay(d.hub, notify.Build(d.cfg.Notification, d.logger), d.logger).Run(ctx)
}

func (d *daemon) runStartupSteps(ctx context.Context) {
	cfg, err := d.profiles.Load(ctx)
	if err != nil {
		d.logger.Warn("load profiles for startup steps", "err", err)
		return
	}
	var enabled []core.Step
	for _, step := range cfg.StartupSteps {
		if step.Enabled {
			enabled = append(enabled, step)
		}
	}
	if len(enabled) == 0 {
		return
	}
	d.logger.Info("running startup steps", "steps", len(enabled))
	d.trigger.RunUnattended(ctx, core.Activation{
		ProfileName: "startup",
		Trigger:     core.TriggerStartup,
		Steps:       enabled,
	})
}

// closeLaunched terminates the processes of the last interactive activation
// when the profiles file asks for it.
func (d *daemon) closeLaunched() {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.ShutdownGrace)
	defer cancel()

	cfg, err := d.profiles.Load(ctx)
	if err != nil || !cfg.Settings.CloseOnExit {
		return
	}
	names := d.orchestrator.LastLaunchProcesses()
	if len(names) == 0 {
		return
	}
	d.logger.Info("closing launched processes", "names", names)
	if err := d.probe.KillAll(ctx, names); err != nil {
		d.logger.Warn("close launched processes", "err", err)
	}
}

func (d *daemon) newHTTPServer() (*api.Server, error) {
	return api.NewServer(api.Options{
		Addr:         d.cfg.Server.Addr,
		AuthToken:    d.cfg.Server.AuthToken,
		Profiles:     d.profiles,
		Orchestrator: d.orchestrator,
		History:      d.store,
		Probe:        d.probe,
		Hub:          d.hub,
		MCP:          d.mcp.HTTPHandler(),
		Logger:       d.logger,
		Location:     d.location,
	})
}

// runHTTPMode starts only the HTTP server.
func (d *daemon) runHTTPMode(ctx context.Context) {
	d.serveHTTP(ctx, nil)
}

// runMCPMode serves MCP over stdio until stdin closes or a signal arrives.
func (d *daemon) runMCPMode(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	mcpErr := make(chan error, 1)
	go func() {
		mcpErr <- d.mcp.Run()
	}()

	select {
	case sig := <-sigs:
		d.logger.Info("received signal", "signal", sig.String())
	case err := <-mcpErr:
		if err != nil {
			d.logger.Error("mcp server error", "err", err)
		}
	}
	cancel()
}

// runBothMode serves HTTP and MCP over stdio side by side.
func (d *daemon) runBothMode(ctx context.Context) {
	mcpErr := make(chan error, 1)
	go func() {
		if err := d.mcp.Run(); err != nil {
			mcpErr <- err
		}
	}()
	d.serveHTTP(ctx, mcpErr)
}

func (d *daemon) serveHTTP(ctx context.Context, mcpErr <-chan error) {
	server, err := d.newHTTPServer()
	if err != nil {
		d.logger.Error("create server", "err", err)
		os.Exit(1)
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		d.logger.Info("received signal", "signal", sig.String())
	case err := <-serverErr:
		d.logger.Error("server error", "err", err)
	case err := <-mcpErr:
		d.logger.Error("mcp server error", "err", err)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), d.cfg.ShutdownGrace)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		d.logger.Error("server shutdown", "err", err)
	}
}
