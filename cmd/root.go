// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/kazwalker/dccstation/pkg/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "dccstation",
	Short: "A DCC command station",
	Long: `dccstation drives a model-railroad track with a DCC signal: it
multiplexes throttle packets, sequences Service Mode CV programming
against an ack-current detector, and decodes the RailCom return channel.

Run "dccstation serve" to expose the HTTP/WebSocket control API, or
"dccstation console"/"dccstation monitor" for interactive operator
tools.`,
	Version: "0.1.0",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "dccstation.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the config file's log level")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the config file named by --config and wires up a
// zerolog logger at the resulting level.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, zerolog.Logger{}, fmt.Errorf("cmd: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.Log.Pretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	} else {
		log = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	log = log.Level(level)

	return cfg, log, nil
}
