// Package main is the entry point for the AlmostOut backend.
//
// almostout serves the list sharing HTTP API and runs the background jobs
// that keep lists consistent: the daily invitation expiry sweep, the list
// statistics recalculator and item push notifications. Configuration is
// read from an optional YAML file, ALMOSTOUT_* environment variables and
// CLI flags, in that order.
//
// Usage:
//
//	almostout [flags] [serve|sweep]
//
// "serve" is the default. "sweep" runs one expiry sweep and exits, for use
// from an external scheduler.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/almostout/almostout/backend/internal/config"
	"github.com/almostout/almostout/backend/internal/server"
	"github.com/almostout/almostout/backend/internal/server/handlers"
	"github.com/almostout/almostout/backend/internal/server/ratelimit"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "almostout: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	version := flag.Bool("version", false, "Print version and exit")
	cfgPath := flag.String("config", "", "Path to a YAML configuration file (optional)")
	httpAddr := flag.String("http", "", "Address to listen on, overrides the configuration (e.g., localhost:8080, :8080)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error), overrides the configuration")
	flag.Parse()

	if *version {
		printVersion()
		return nil
	}
	cmd := "serve"
	switch args := flag.Args(); len(args) {
	case 0:
	case 1:
		cmd = args[0]
	default:
		return fmt.Errorf("unknown arguments: %v", args[1:])
	}
	if cmd != "serve" && cmd != "sweep" {
		return fmt.Errorf("unknown command %q, want serve or sweep", cmd)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	ll.Set(slog.LevelInfo)
	slog.SetDefault(newLogger(ll))

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	if *httpAddr != "" {
		cfg.HTTP = *httpAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if cfg.HasSecretRefs() {
		r, err := config.NewSecretManagerResolver(ctx)
		if err != nil {
			return err
		}
		err = cfg.ResolveSecrets(ctx, r)
		if err2 := r.Close(); err == nil {
			err = err2
		}
		if err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	lvl, err := cfg.Level()
	if err != nil {
		return err
	}
	ll.Set(lvl)

	d, err := newDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	if cmd == "sweep" {
		n, err := d.sweeper.RunOnce(ctx)
		if err != nil {
			return err
		}
		slog.InfoContext(ctx, "Sweep done", "expired", n)
		return nil
	}
	return serve(ctx, stop, cfg, *cfgPath, d)
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *config.Config, cfgPath string, d *deps) error {
	// Restart on rebuild or configuration edit during development.
	if err := watchFiles(ctx, stop, cfgPath); err != nil {
		return fmt.Errorf("failed to watch files: %w", err)
	}

	var wg sync.WaitGroup
	wg.Go(func() {
		if err := d.stats.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.ErrorContext(ctx, "Statistics worker stopped", "err", err)
		}
	})
	wg.Go(func() {
		if err := d.activity.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.ErrorContext(ctx, "Activity logger stopped", "err", err)
		}
	})
	wg.Go(func() {
		if err := d.notifier.RunItemNotifications(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.ErrorContext(ctx, "Item notifications stopped", "err", err)
		}
	})
	if !cfg.Sweep.Disabled {
		wg.Go(func() { d.sweeper.Start(ctx) })
	}
	defer wg.Wait()

	limiters := ratelimit.NewLimiters(cfg.RateLimits)
	defer limiters.Close()

	buildVersion := readBuildInfo().version
	opts := server.Options{
		Services: d.services,
		Config: &handlers.Config{
			Version:   buildVersion,
			Backend:   cfg.Backend,
			AppDomain: cfg.App.Domain,
		},
		Verifier: d.verifier,
		Limiters: limiters,
		Metrics:  d.metrics,
	}
	if cfg.Metrics {
		opts.Gatherer = d.registry
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTP,
		Handler:           server.NewRouter(opts),
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "Starting server", "addr", cfg.HTTP, "backend", cfg.Backend, "version", buildVersion)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		stop()
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.InfoContext(ctx, "Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		slog.InfoContext(ctx, "Server stopped")
	}
	return nil
}

// newLogger logs to stderr through tint. Colors are only used on a terminal
// and timestamps are dropped under systemd, which records its own.
func newLogger(ll *slog.LevelVar) *slog.Logger {
	journald := os.Getenv("JOURNAL_STREAM") != ""
	return slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey && journald {
				return slog.Attr{}
			}
			if isZero(a.Value) {
				return slog.Attr{}
			}
			return a
		},
	}))
}

// isZero reports attributes not worth printing, like an empty user id or a
// zero duration.
func isZero(v slog.Value) bool {
	switch v.Kind() {
	case slog.KindString:
		return v.String() == ""
	case slog.KindBool:
		return !v.Bool()
	case slog.KindInt64:
		return v.Int64() == 0
	case slog.KindUint64:
		return v.Uint64() == 0
	case slog.KindFloat64:
		return v.Float64() == 0
	case slog.KindDuration:
		return v.Duration() == 0
	case slog.KindTime:
		return v.Time().IsZero()
	case slog.KindAny:
		return v.Any() == nil
	}
	return false
}

type buildInfo struct {
	version  string
	goVer    string
	revision string
	modified bool
}

func readBuildInfo() buildInfo {
	b := buildInfo{version: "dev", goVer: "unknown", revision: "unknown"}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return b
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		b.version = v
	}
	b.goVer = info.GoVersion
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			b.revision = s.Value
		case "vcs.modified":
			b.modified = s.Value == "true"
		}
	}
	return b
}

func printVersion() {
	b := readBuildInfo()
	fmt.Printf("almostout %s (%s, revision %s", b.version, b.goVer, b.revision)
	if b.modified {
		fmt.Print(", modified")
	}
	fmt.Println(")")
}

// watchFiles calls stop when the executable or the configuration file is
// modified.
func watchFiles(ctx context.Context, stop context.CancelFunc, cfgPath string) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	paths := []string{exe}
	if cfgPath != "" {
		paths = append(paths, cfgPath)
	}
	for _, p := range paths {
		if err := w.Add(p); err != nil {
			_ = w.Close()
			return err
		}
	}
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Chmod) || event.Has(fsnotify.Remove) {
					slog.InfoContext(ctx, "File modified, initiating shutdown", "path", event.Name)
					stop()
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "Error watching files", "err", err)
			}
		}
	}()
	return nil
}
