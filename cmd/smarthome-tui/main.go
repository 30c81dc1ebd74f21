package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"smarthome/internal/client"
	"smarthome/internal/prefs"
	"smarthome/internal/reconciler"
	"smarthome/internal/tui"

	"go.uber.org/zap"
)

func main() {
	os.Exit(run())
}

func run() int {
	serverURL := flag.String("url", "", "server URL, e.g. http://192.168.1.20:3000 (optional)")
	prefsPath := flag.String("prefs", prefs.DefaultPath(), "preferences file")
	logPath := flag.String("log", filepath.Join(os.TempDir(), "smarthome-tui.log"), "log file")
	debug := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := newFileLogger(*logPath, *debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "smarthome-tui: %v\n", err)
		return 1
	}
	defer logger.Sync()

	p, _ := prefs.Load(*prefsPath)
	baseURL, err := prefs.ResolveServerURL(*serverURL, os.Getenv, p)
	if err != nil {
		fmt.Fprintf(os.Stderr, "smarthome-tui: %v\n", err)
		return 1
	}
	logger.Info("Starting dashboard", zap.String("url", baseURL))

	api := client.New(baseURL, logger)
	stream, err := client.NewStream(baseURL, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "smarthome-tui: %v\n", err)
		return 1
	}
	defer stream.Close()

	rec := reconciler.New(api, stream, logger)
	stream.OnEvent(rec.HandleEvent)
	// Events missed while disconnected are not replayed.
	stream.OnConnectionChange(func(connected bool) {
		if connected {
			_ = rec.Load(ctx)
		}
	})
	stream.Start()

	opts := tui.Options{
		Controller: rec,
		ServerURL:  baseURL,
		PrefsPath:  *prefsPath,
	}
	if err := tui.Run(ctx, opts, rec, stream); err != nil {
		fmt.Fprintf(os.Stderr, "smarthome-tui: %v\n", err)
		return 1
	}
	return 0
}

// newFileLogger logs to path; the terminal belongs to the dashboard.
func newFileLogger(path string, debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{path}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	return logger, nil
}
