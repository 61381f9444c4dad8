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
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianLabeler/services/labeler"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/datatypes"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/labeling"
)

func newRulesCmd(state *cliState) *cobra.Command {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage labeling rules of a dataset",
	}

	listCmd := &cobra.Command{
		Use:   "list [dataset]",
		Short: "List the rules of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return state.withApp(cmd, func(app *labeler.App) error {
				ds, err := app.Datasets.FindByName(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				rules, err := app.Labeling.ListRules(cmd.Context(), ds.Ref())
				if err != nil {
					return err
				}
				if !isTerminal(cmd.OutOrStdout()) {
					return printJSON(cmd.OutOrStdout(), rules)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "QUERY\tLABELS\tAUTHOR")
				for _, r := range rules {
					fmt.Fprintf(w, "%s\t%s\t%s\n", r.Query, strings.Join(r.Labels, ","), r.Author)
				}
				return w.Flush()
			})
		},
	}

	var labels []string
	var description, author string
	addCmd := &cobra.Command{
		Use:   "add [dataset] [query]",
		Short: "Add a rule to a dataset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return state.withApp(cmd, func(app *labeler.App) error {
				ds, err := app.Datasets.FindByName(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				rule, err := app.Labeling.AddRule(cmd.Context(), ds.Ref(), datatypes.LabelingRule{
					Query:       args[1],
					Labels:      labels,
					Description: description,
					Author:      author,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added rule %q to %s\n", rule.Query, ds.Name)
				return nil
			})
		},
	}
	addCmd.Flags().StringSliceVarP(&labels, "label", "l", nil, "Label assigned by the rule (repeatable)")
	addCmd.Flags().StringVar(&description, "description", "", "Rule description")
	addCmd.Flags().StringVar(&author, "author", "", "Rule author")

	deleteCmd := &cobra.Command{
		Use:   "delete [dataset] [query]",
		Short: "Delete a rule from a dataset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return state.withApp(cmd, func(app *labeler.App) error {
				ds, err := app.Datasets.FindByName(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if err := app.Labeling.DeleteRule(cmd.Context(), ds.Ref(), args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted rule %q from %s\n", args[1], ds.Name)
				return nil
			})
		},
	}

	var metricLabels []string
	metricsCmd := &cobra.Command{
		Use:   "metrics [dataset] [query]",
		Short: "Compute rule metrics",
		Long: `With a query, prints the metrics of that rule, per label when labels are given
(defaulting to the saved rule's labels). Without a query, prints the coverage of all rules.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return state.withApp(cmd, func(app *labeler.App) error {
				ctx := cmd.Context()
				ds, err := app.Datasets.FindByName(ctx, args[0])
				if err != nil {
					return err
				}

				if len(args) == 1 {
					total, annotated, summary, err := app.Labeling.AllRulesMetrics(ctx, ds.Ref())
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), map[string]any{
						"total_records":     total,
						"annotated_records": annotated,
						"summary":           summary,
					})
				}

				ruleLabels, err := labelsForMetrics(ctx, app.Labeling, ds.Ref(), args[1], metricLabels)
				if err != nil {
					return err
				}
				metrics, err := app.Labeling.RuleMetricsBreakdown(ctx, ds.Ref(), args[1], ruleLabels)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), metrics)
			})
		},
	}
	metricsCmd.Flags().StringSliceVarP(&metricLabels, "label", "l", nil, "Label to measure (repeatable)")

	rulesCmd.AddCommand(listCmd, addCmd, deleteCmd, metricsCmd)
	return rulesCmd
}

type ruleFinder interface {
	FindRuleByQuery(ctx context.Context, ref datatypes.DatasetRef, query string) (datatypes.LabelingRule, error)
}

// labelsForMetrics returns the labels to measure: the flag values when
// given, else the saved rule's labels. An unsaved query yields no labels.
func labelsForMetrics(ctx context.Context, rules ruleFinder, ref datatypes.DatasetRef, query string, flagLabels []string) ([]string, error) {
	if len(flagLabels) > 0 {
		return flagLabels, nil
	}
	rule, err := rules.FindRuleByQuery(ctx, ref, query)
	switch {
	case err == nil:
		return rule.Labels, nil
	case errors.Is(err, labeling.ErrNotFound):
		return nil, nil
	default:
		return nil, fmt.Errorf("failed to find rule %q: %w", query, err)
	}
}
