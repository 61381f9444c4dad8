// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianLabeler/services/labeler"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/config"
)

// cliState is shared by every subcommand of one root command.
type cliState struct {
	configPath string
	cfg        config.Config
}

func newRootCmd() *cobra.Command {
	state := &cliState{}

	rootCmd := &cobra.Command{
		Use:           "labeler",
		Short:         "Manage labeling rules and their metrics",
		Long:          `labeler stores labeling rules per dataset and measures how well each rule agrees with the human annotations.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(state.configPath)
			if err != nil {
				return err
			}
			state.cfg = cfg
			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
			slog.SetDefault(logger)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&state.configPath, "config", "c", "", "Path to a YAML config file")

	rootCmd.AddCommand(newServeCmd(state))
	rootCmd.AddCommand(newDatasetsCmd(state))
	rootCmd.AddCommand(newRecordsCmd(state))
	rootCmd.AddCommand(newRulesCmd(state))
	return rootCmd
}

// withApp builds the components, runs fn and closes them again.
func (s *cliState) withApp(cmd *cobra.Command, fn func(app *labeler.App) error) error {
	app, err := labeler.NewApp(cmd.Context(), s.cfg, slog.Default())
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			slog.Warn("failed to close storage", "error", err)
		}
	}()
	return fn(app)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

// isTerminal reports whether w is an interactive terminal. Listings are
// printed as tables on a terminal and as JSON otherwise.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
