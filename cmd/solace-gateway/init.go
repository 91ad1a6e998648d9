// ABOUTME: Interactive config file generator for solace-gateway
// ABOUTME: Prompts for vendor credentials and listener settings, then writes YAML

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/solace/internal/config"
)

// initAnswers are the values collected by runInit.
type initAnswers struct {
	HTTPAddr     string
	AppID        string
	ServerSecret string
	LLMAPIKey    string
	LogLevel     string
	LogFormat    string
}

func runInit(in io.Reader) error {
	reader := bufio.NewReader(in)

	fmt.Println("solace-gateway configuration setup")
	fmt.Println("==================================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := strings.ToLower(prompt(reader, "File exists. Overwrite?", "no"))
		if overwrite != "yes" && overwrite != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	defaults := config.Default()
	var a initAnswers

	fmt.Println("\n--- Server Configuration ---")
	a.HTTPAddr = prompt(reader, "HTTP address", defaults.Server.HTTPAddr)

	fmt.Println("\n--- Vendor Credentials ---")
	a.AppID = prompt(reader, "App ID (or ${ZEGO_APP_ID})", "${ZEGO_APP_ID}")
	a.ServerSecret = prompt(reader, "Server secret (or ${ZEGO_SERVER_SECRET})", "${ZEGO_SERVER_SECRET}")
	a.LLMAPIKey = prompt(reader, "LLM API key (or ${DASHSCOPE_API_KEY})", "${DASHSCOPE_API_KEY}")

	fmt.Println("\n--- Logging Configuration ---")
	a.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", defaults.Logging.Level)
	a.LogFormat = prompt(reader, "Log format (text/json)", defaults.Logging.Format)

	if err := os.MkdirAll(filepath.Dir(outputFile), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// Secrets may be inlined, keep the file private.
	if err := os.WriteFile(outputFile, []byte(renderConfig(a)), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	color.New(color.FgGreen).Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Println("  solace-gateway serve")
	return nil
}

// renderConfig produces a YAML document that config.Parse accepts.
func renderConfig(a initAnswers) string {
	d := config.Default()

	var b strings.Builder
	b.WriteString("# solace-gateway configuration\n")
	b.WriteString("# Generated by solace-gateway init\n\n")

	b.WriteString("server:\n")
	fmt.Fprintf(&b, "  http_addr: %q\n", a.HTTPAddr)
	b.WriteString("  cors_origins: [\"*\"]\n\n")

	b.WriteString("vendor:\n")
	fmt.Fprintf(&b, "  app_id: %q\n", a.AppID)
	fmt.Fprintf(&b, "  server_secret: %q\n", a.ServerSecret)
	fmt.Fprintf(&b, "  api_base_url: %q\n", d.Vendor.APIBaseURL)
	fmt.Fprintf(&b, "  max_retries: %d\n", d.Vendor.MaxRetries)
	fmt.Fprintf(&b, "  request_timeout: %q\n\n", d.Vendor.RequestTimeout.String())

	b.WriteString("agent:\n")
	fmt.Fprintf(&b, "  name: %q\n", d.Agent.Name)
	b.WriteString("  llm:\n")
	fmt.Fprintf(&b, "    url: %q\n", d.Agent.LLM.URL)
	fmt.Fprintf(&b, "    api_key: %q\n", a.LLMAPIKey)
	fmt.Fprintf(&b, "    model: %q\n", d.Agent.LLM.Model)
	b.WriteString("  tts:\n")
	fmt.Fprintf(&b, "    voice: %q\n", d.Agent.TTS.Voice)
	fmt.Fprintf(&b, "  history_window: %d\n\n", d.Agent.HistoryWindow)

	b.WriteString("token:\n")
	fmt.Fprintf(&b, "  ttl: %q\n\n", d.Token.TTL.String())

	b.WriteString("logging:\n")
	fmt.Fprintf(&b, "  level: %q\n", a.LogLevel)
	fmt.Fprintf(&b, "  format: %q\n\n", a.LogFormat)

	b.WriteString("metrics:\n")
	b.WriteString("  enabled: true\n")
	fmt.Fprintf(&b, "  path: %q\n", d.Metrics.Path)

	return b.String()
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}
