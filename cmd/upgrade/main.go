package main

import (
	"log/slog"
	"os"

	"github.com/zrouter/upgrade/cmd/upgrade/commands"
)

func main() {
	// Logs go to stderr so the operator status lines on stdout stay readable
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: commands.LogLevel,
	}))
	slog.SetDefault(logger)

	commands.Execute()
}
