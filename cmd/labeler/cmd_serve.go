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
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianLabeler/services/labeler"
)

func newServeCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the labeling HTTP API",
		Long:  `Serves the /v1 labeling rule API, /health and /metrics until interrupted.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return state.withApp(cmd, func(app *labeler.App) error {
				srv, err := labeler.NewServer(cmd.Context(), app)
				if err != nil {
					return err
				}
				return srv.Run(cmd.Context())
			})
		},
	}
}
