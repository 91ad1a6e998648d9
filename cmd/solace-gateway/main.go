// ABOUTME: Entry point for solace-gateway
// ABOUTME: Starts the therapist session backend and offers health and instance checks

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/solace/internal/config"
	"github.com/2389/solace/internal/gateway"
)

// Version is set at build time.
var version = "dev"

const banner = `
           _                         _
 ___  ___ | | __ _  ___ ___     __ _| |___      __
/ __|/ _ \| |/ _' |/ __/ _ \   / _' | __\ \ /\ / /
\__ \ (_) | | (_| | (_|  __/  | (_| | |_ \ V  V /
|___/\___/|_|\__,_|\___\___|   \__, |\__| \_/\_/
                               |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: SOLACE_CONFIG env var > XDG_CONFIG_HOME/solace/gateway.yaml > ~/.config/solace/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("SOLACE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "solace", "gateway.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: solace-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve       Start the gateway server")
		fmt.Println("  init        Create a new config file interactively")
		fmt.Println("  health      Check gateway health")
		fmt.Println("  instances   List running agent instances")
		os.Exit(1)
	}

	// A .env next to the binary may carry ZEGO_* credentials referenced from the YAML.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin)
	case "health":
		err = runHealth(ctx)
	case "instances":
		err = runInstances(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Agent:     %s (%s)\n", cfg.Agent.Name, cfg.Agent.LLM.Model)
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   %s\n", cfg.Metrics.Path)
	}
	fmt.Println()

	logger.Info("starting solace-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"app_id", cfg.Vendor.AppID,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// getJSON fetches path from the configured gateway and returns the body.
func getJSON(ctx context.Context, path string) (int, []byte, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return 0, nil, fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s%s", localAddr(cfg.Server.HTTPAddr), path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// localAddr turns a wildcard listen address into one a client can dial.
func localAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

func runHealth(ctx context.Context) error {
	status, _, err := getJSON(ctx, "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", status)
	}

	fmt.Println("healthy")
	return nil
}

func runInstances(ctx context.Context) error {
	_, body, err := getJSON(ctx, "/api/instances")
	if err != nil {
		return fmt.Errorf("listing instances failed: %w", err)
	}

	fmt.Println(string(body))
	return nil
}

// setupLogger builds the process logger from configuration.
func setupLogger(cfg config.LoggingConfig, out io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	} else {
		handler = newColorHandler(out, level)
	}

	return slog.New(handler)
}
