// ABOUTME: Entry point for solace-chat, the terminal client for therapist sessions
// ABOUTME: Wires cobra commands to the chat engine, gateway client and conversation store

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
