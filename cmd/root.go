// Package cmd wires the lightshowd commands.
package cmd

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lightshowd/lightshowd/constants"
)

var rootCmd = &cobra.Command{
	Use:   "lightshowd",
	Short: "Synchronized light show server",
	Long: "lightshowd drives a synchronized holiday light show: it decodes a " +
		"track's audio through sox, walks its MIDI file in lockstep, and " +
		"broadcasts note events to lighting clients over websockets.",
}

func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

// newLogger builds the process logger from LOG_LEVEL.
func newLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(constants.GetLogLevel()) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
