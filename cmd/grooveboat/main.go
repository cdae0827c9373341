/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/grooveboat/internal/config"
	"github.com/friendsincode/grooveboat/internal/logbuffer"
	"github.com/friendsincode/grooveboat/internal/logging"
	"github.com/friendsincode/grooveboat/internal/version"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
	logs   *logbuffer.Buffer
)

var rootCmd = &cobra.Command{
	Use:           "grooveboat",
	Short:         "Grooveboat - listen together on a buoy",
	Long:          "Grooveboat joins shared rooms on a buoy and keeps playback in step with everyone else in the room.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.String())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logs = logbuffer.New(2000)
	logger = logging.SetupWithWriter(cfg.Environment, logbuffer.NewWriter(logs, nil))
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}
	return nil
}
