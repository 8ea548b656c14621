//go:build linux

// thumbshift-ibus runs the thumb-shift key filter as a D-Bus service.
//
// An input method front end calls ProcessKeyEvent for every key; keys that
// take part in thumb-shift chords are consumed and their resolution comes
// back as Resolved and ForwardKeyEvent signals.
//
// Installation:
//  1. Copy binary to /usr/local/bin/thumbshift-ibus
//  2. Run: thumbshift-ibus -install
//  3. Restart IBus: ibus restart
//
// Signals: SIGINT and SIGTERM shut down; SIGHUP reloads the configuration.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/godbus/dbus/v5"

	"thumbshift/internal/config"
	"thumbshift/internal/eventloop"
	"thumbshift/internal/health"
	"thumbshift/internal/ibus"
	"thumbshift/internal/logging"
	"thumbshift/internal/metrics"
	"thumbshift/internal/trace"
)

var (
	// Version information (set at build time)
	version = "dev"
	commit  = "unknown"
)

// flags holds command-line overrides that survive config reloads.
type flags struct {
	configPath  string
	logLevel    string
	tracePath   string
	metricsAddr string
}

func (f *flags) apply(cfg *config.Config) {
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if f.tracePath != "" {
		cfg.Trace.Enabled = true
		cfg.Trace.Path = f.tracePath
	}
	if f.metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = f.metricsAddr
	}
}

func main() {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "config file (default: "+config.ConfigPath()+")")
	flag.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flag.StringVar(&f.tracePath, "trace", "", "record key events to this SQLite database")
	flag.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	installFlag := flag.Bool("install", false, "Install IBus component")
	uninstallFlag := flag.Bool("uninstall", false, "Uninstall IBus component")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	switch {
	case *versionFlag:
		fmt.Printf("thumbshift-ibus %s (%s)\n", version, commit)
		return
	case *installFlag:
		if err := installComponent(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to install: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Installed successfully. Run 'ibus restart' to load.")
		return
	case *uninstallFlag:
		if err := uninstallComponent(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to uninstall: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Uninstalled successfully.")
		return
	}

	if err := run(&f); err != nil {
		fmt.Fprintf(os.Stderr, "thumbshift-ibus: %v\n", err)
		os.Exit(1)
	}
}

func run(f *flags) error {
	loader := config.NewLoader(f.configPath)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config %s: %w", loader.Path(), err)
	}
	f.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	lc, err := cfg.LoggingConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(lc)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Close()
	logging.SetDefault(logger)
	log := logger.Logger

	keymap, err := ibus.NewKeymap(cfg.Keymap.LeftThumb, cfg.Keymap.RightThumb)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop := eventloop.New(log.With("component", "eventloop"), 0)
	loopErr := make(chan error, 1)
	go func() { loopErr <- loop.Run(ctx) }()

	registry := metrics.NewRegistry("thumbshift")
	fm := metrics.NewFilterMetrics(registry)

	checker := health.NewChecker()
	checker.RegisterFunc("eventloop", true, health.LoopCheck(loop, 50*time.Millisecond))

	opts := []ibus.Option{
		ibus.WithObjectPath(dbus.ObjectPath(cfg.DBus.ObjectPath)),
		ibus.WithKeymap(keymap),
		ibus.WithMetrics(fm),
		ibus.WithLogger(log.With("component", "ibus")),
	}

	if cfg.Trace.Enabled {
		store, err := trace.Open(cfg.Trace.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		id, err := store.StartSession("thumbshift-ibus "+version, eventloop.Now(), cfg.FilterConfig())
		if err != nil {
			return err
		}
		rec := trace.NewRecorder(store, id, log.With("component", "trace"))
		defer rec.Close()
		opts = append(opts, ibus.WithRecorder(rec))
		checker.RegisterFunc("trace_store", false, health.PingCheck("trace store", store.Ping))
		checker.RegisterFunc("trace_recorder", false, health.DropCheck("trace recorder", rec.Dropped))
		log.Info("tracing key events", "path", cfg.Trace.Path, "session", id)
	}

	conn, err := ibus.Connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	svc := ibus.NewService(loop, cfg.FilterConfig(), conn, opts...)
	if err := ibus.Export(conn, svc, cfg.DBus.BusName); err != nil {
		return err
	}
	checker.SetReady(true)

	var srv *http.Server
	if cfg.Metrics.Enabled {
		srv = startMetrics(cfg.Metrics.Addr, registry, checker, log)
	}

	loader.OnChange(func(next *config.Config) {
		f.apply(next)
		applyReload(ctx, next, svc, logger)
	})
	if err := loader.Watch(); err != nil {
		log.Warn("config watch unavailable", "error", err)
	}
	defer loader.Close()
	go func() {
		for err := range loader.Errors() {
			log.Warn("config reload rejected", "error", err)
		}
	}()

	log.Info("thumbshift-ibus started",
		"version", version,
		"bus_name", cfg.DBus.BusName,
		"config", cfg.FilterConfig().String(),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	if err := waitForShutdown(sigChan, loopErr, loader, log); err != nil {
		return err
	}

	checker.SetReady(false)
	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics server shutdown", "error", err)
		}
	}

	// Drain queued calls so the recorder sees every event before it closes.
	if err := loop.Do(ctx, func() {}); err != nil && !errors.Is(err, eventloop.ErrClosed) {
		log.Warn("drain event loop", "error", err)
	}
	cancel()
	<-loopErr

	executed, panicked := loop.Stats()
	log.Info("stopped", "tasks", executed, "panics", panicked)
	return nil
}

// waitForShutdown serves SIGHUP reloads until a termination signal arrives
// or the event loop dies.
func waitForShutdown(sigChan <-chan os.Signal, loopErr <-chan error, loader *config.Loader, log *slog.Logger) error {
	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				log.Info("reloading configuration")
				if err := loader.Reload(); err != nil {
					log.Warn("reload failed", "error", err)
				}
				continue
			}
			log.Info("shutting down", "signal", sig.String())
			return nil
		case err := <-loopErr:
			return fmt.Errorf("event loop stopped: %w", err)
		}
	}
}

func applyReload(ctx context.Context, cfg *config.Config, svc *ibus.Service, logger *logging.Logger) {
	log := logger.Logger
	if err := cfg.Validate(); err != nil {
		log.Warn("reload rejected", "error", err)
		return
	}

	km, err := ibus.NewKeymap(cfg.Keymap.LeftThumb, cfg.Keymap.RightThumb)
	if err != nil {
		log.Warn("reload rejected", "error", err)
		return
	}
	if err := svc.Reconfigure(ctx, cfg.FilterConfig(), km); err != nil {
		log.Warn("reload failed", "error", err)
		return
	}

	if level, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}
	log.Info("configuration reloaded", "config", cfg.FilterConfig().String())
}

func startMetrics(addr string, registry *metrics.Registry, checker *health.Checker, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.HTTPHandler())
	checker.Mount(mux)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	log.Info("serving metrics", "addr", addr)
	return srv
}
