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
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianLabeler/services/labeler"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/datatypes"
)

func newDatasetsCmd(state *cliState) *cobra.Command {
	datasetsCmd := &cobra.Command{
		Use:   "datasets",
		Short: "Register and list datasets",
	}

	var task, owner string
	registerCmd := &cobra.Command{
		Use:   "register [name]",
		Short: "Register a new dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return state.withApp(cmd, func(app *labeler.App) error {
				ds, err := app.Datasets.Register(cmd.Context(), datatypes.Dataset{
					Name:  args[0],
					Owner: owner,
					Task:  datatypes.TaskType(task),
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registered dataset %s (%s)\n", ds.Name, ds.ID)
				return nil
			})
		},
	}
	registerCmd.Flags().StringVar(&task, "task", string(datatypes.TaskTextClassification),
		"Task type (TextClassification, TokenClassification, Text2Text)")
	registerCmd.Flags().StringVar(&owner, "owner", "", "Dataset owner")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered datasets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return state.withApp(cmd, func(app *labeler.App) error {
				datasets, err := app.Datasets.List(cmd.Context())
				if err != nil {
					return err
				}
				if !isTerminal(cmd.OutOrStdout()) {
					return printJSON(cmd.OutOrStdout(), datasets)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tTASK\tRULES\tID")
				for _, ds := range datasets {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", ds.Name, ds.Task, len(ds.Rules), ds.ID)
				}
				return w.Flush()
			})
		},
	}

	datasetsCmd.AddCommand(registerCmd, listCmd)
	return datasetsCmd
}
