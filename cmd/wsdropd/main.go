package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sheerbytes/wsdrop/internal/config"
	"github.com/sheerbytes/wsdrop/internal/logging"
	"github.com/sheerbytes/wsdrop/internal/server"
	"github.com/sheerbytes/wsdrop/internal/storage"
)

const serverVersion = "v0.1.0"

func main() {
	if hasHelpFlag(os.Args[1:]) {
		printServerUsage()
		return
	}
	if hasVersionFlag(os.Args[1:]) {
		fmt.Fprintln(os.Stdout, serverVersion)
		return
	}

	cfg, err := config.ParseServerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "wsdropd: %v\n", err)
		os.Exit(2)
	}
	logger := logging.New("wsdropd", cfg.LogLevel, cfg.LogFormat)

	if err := storage.Prepare(cfg.StorageDir, cfg.CleanStorage); err != nil {
		logger.Error("storage unavailable", "dir", cfg.StorageDir, "error", err)
		os.Exit(1)
	}

	srv := server.New(server.Options{
		Subprotocols:   cfg.Subprotocols,
		BufferSize:     cfg.BufferSize(),
		StorageDir:     cfg.StorageDir,
		MaxConnections: cfg.MaxConnections,
		ConnectsPerMin: cfg.ConnectsPerMin,
		ConnectsBurst:  cfg.ConnectsBurst,
		KeepAlive:      cfg.KeepAlive,
		IdleTimeout:    cfg.IdleTimeout,
		Chunked:        cfg.Chunked,
		MaxFileBytes:   cfg.MaxFileBytes,
		Logger:         logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen(cfg.Port)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("signal received, shutting down")
		srv.Dispose()
		if err := <-errCh; err != nil {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}
}

func printServerUsage() {
	fmt.Fprintln(os.Stderr, "usage: wsdropd [--port N] [--storage-dir DIR] [--buffer-mb N] [--subprotocol NAME]...")
	fmt.Fprintln(os.Stderr, "  --config FILE              YAML config file (env WSDROP_CONFIG)")
	fmt.Fprintln(os.Stderr, "  --port N                   listen port, all interfaces (required)")
	fmt.Fprintln(os.Stderr, "  --buffer-mb N              receive buffer per connection in MiB (default 512)")
	fmt.Fprintln(os.Stderr, "  --storage-dir DIR          where received files are written (default Data)")
	fmt.Fprintln(os.Stderr, "  --clean-storage            empty the storage dir at startup")
	fmt.Fprintln(os.Stderr, "  --subprotocol NAME         accepted websocket sub-protocol (repeatable, default tccs)")
	fmt.Fprintln(os.Stderr, "  --max-connections N        max concurrent connections (default 16, 0 = unlimited)")
	fmt.Fprintln(os.Stderr, "                             each holds one buffer-mb receive buffer: peak memory is")
	fmt.Fprintln(os.Stderr, "                             max-connections x buffer-mb (default 16 x 512MiB = 8GiB)")
	fmt.Fprintln(os.Stderr, "  --connects-per-min N       max websocket connects per minute per IP (0 = unlimited)")
	fmt.Fprintln(os.Stderr, "  --connects-burst N         burst websocket connects per IP (default 10)")
	fmt.Fprintln(os.Stderr, "  --keepalive DURATION       ping interval (default 30s, 0 disables)")
	fmt.Fprintln(os.Stderr, "  --idle-timeout DURATION    close connections idle this long (default 10m, 0 disables)")
	fmt.Fprintln(os.Stderr, "  --chunked                  accept chunked transfers (command code 2)")
	fmt.Fprintln(os.Stderr, "  --max-file-bytes N         size cap for chunked transfers (0 = unlimited)")
	fmt.Fprintln(os.Stderr, "  --log-level LEVEL          debug, info, warn or error (default info)")
	fmt.Fprintln(os.Stderr, "  --log-format FORMAT        text or json (default text)")
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func hasVersionFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--version" || arg == "-v" {
			return true
		}
	}
	return false
}
