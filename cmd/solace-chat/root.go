// ABOUTME: Root cobra command and shared setup for solace-chat
// ABOUTME: Loads .env and TOML config, builds the logger and opens the conversation store

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/2389/solace/internal/store"
)

// Version is set at build time.
var version = "dev"

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "solace-chat",
	Short: "Talk to the AI therapist from your terminal",
	Long: `solace-chat connects to a solace-gateway, starts an agent session in a
fresh room and lets you talk to it by text or microphone.

Conversations are saved locally and can be resumed, listed and exported.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default "+configPath()+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug|info|warn|error)")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(historyCmd)
}

// app is the state shared by every subcommand.
type app struct {
	cfg    *Config
	logger *slog.Logger
	store  *store.ConversationStore

	logFile io.Closer
}

// openApp loads configuration and opens the conversation store.
func openApp(ctx context.Context) (*app, error) {
	_ = godotenv.Load()

	path := cfgFile
	if path == "" {
		path = configPath()
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	a := &app{cfg: cfg}
	out := io.Writer(os.Stderr)
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0o755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		out, a.logFile = f, f
	}
	a.logger = newLogger(cfg.Logging.Level, out)
	slog.SetDefault(a.logger)

	kv, err := openKV(cfg.Store, afero.NewOsFs())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("opening %s store: %w", cfg.Store.Backend, err)
	}
	a.store = store.NewConversationStore(ctx, kv, a.logger)
	return a, nil
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("closing store", "error", err)
		}
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}

// openKV picks the key-value backend named by the config.
func openKV(cfg StoreConfig, fsys afero.Fs) (store.KV, error) {
	switch cfg.Backend {
	case "sqlite":
		return store.NewSQLiteKV(cfg.Path)
	case "file":
		return store.NewFileKV(fsys, cfg.Path)
	case "memory":
		return store.NewMemoryKV(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func newLogger(level string, out io.Writer) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: l}))
}
