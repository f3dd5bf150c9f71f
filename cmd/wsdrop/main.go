package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sheerbytes/wsdrop/internal/config"
	"github.com/sheerbytes/wsdrop/internal/logging"
	"github.com/sheerbytes/wsdrop/internal/wsclient"
)

const clientVersion = "v0.1.0"

func main() {
	if hasHelpFlag(os.Args[1:]) {
		printClientUsage()
		return
	}
	if hasVersionFlag(os.Args[1:]) {
		fmt.Fprintln(os.Stdout, clientVersion)
		return
	}

	cfg, err := config.ParseClientConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "wsdrop: %v\n", err)
		os.Exit(2)
	}
	logger := logging.New("wsdrop", cfg.LogLevel, "text")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, cfg, logger)
	stop()
	os.Exit(code)
}

// run sends the configured message and files and returns the process exit code.
// The connection is always closed with a close frame before run returns.
func run(ctx context.Context, cfg config.ClientConfig, logger *slog.Logger) int {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	conn, err := wsclient.Dial(ctx, cfg.ServerURL, []string{cfg.Subprotocol}, logger)
	if err != nil {
		logger.Error("connect failed", "url", cfg.ServerURL, "error", err)
		return 1
	}
	defer conn.Close()
	logger.Info("connected", "url", cfg.ServerURL, "subprotocol", conn.Subprotocol())

	if cfg.Message != "" {
		echo, err := conn.SendMessage(ctx, cfg.Message)
		if err != nil {
			logger.Error("send message failed", "error", err)
			return 1
		}
		logger.Info("message acknowledged", "echo", echo)
	}

	failed := 0
	for _, path := range cfg.Files {
		if err := sendFile(ctx, conn, path, cfg.ChunkSize); err != nil {
			logger.Error("send file failed", "file", path, "error", err)
			failed++
			if ctx.Err() != nil {
				break
			}
			continue
		}
		logger.Info("file sent", "file", path)
	}
	if failed > 0 {
		return 1
	}
	return 0
}

func sendFile(ctx context.Context, conn *wsclient.Conn, path string, chunkSize int) error {
	name := filepath.Base(path)
	if chunkSize > 0 {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		return conn.SendFileChunked(ctx, name, f, chunkSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return conn.SendFile(ctx, name, data)
}

func printClientUsage() {
	fmt.Fprintln(os.Stderr, "usage: wsdrop [--server-url URL] [--message TEXT] [--chunk-size N] <file> [file...]")
	fmt.Fprintln(os.Stderr, "  --config FILE          YAML config file (env WSDROP_CONFIG)")
	fmt.Fprintln(os.Stderr, "  --server-url URL       server websocket URL (default ws://localhost:9000/)")
	fmt.Fprintln(os.Stderr, "  --subprotocol NAME     websocket sub-protocol to request (default tccs)")
	fmt.Fprintln(os.Stderr, "  --message TEXT         text message to send before any files")
	fmt.Fprintln(os.Stderr, "  --file PATH            file to send (repeatable, or pass as arguments)")
	fmt.Fprintln(os.Stderr, "  --chunk-size N         stream files in N-byte chunks (0 = one message per file)")
	fmt.Fprintln(os.Stderr, "  --timeout DURATION     overall timeout (default 30s)")
	fmt.Fprintln(os.Stderr, "  --log-level LEVEL      debug, info, warn or error (default info)")
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
