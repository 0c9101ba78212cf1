package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"archivist/internal/ledger"
)

func newWorkCommand(ctx *commandContext) *cobra.Command {
	workCmd := &cobra.Command{
		Use:   "work",
		Short: "Inspect catalogued works",
	}
	workCmd.AddCommand(newWorkShowCommand(ctx))
	return workCmd
}

type editionSummary struct {
	*ledger.Edition
	Segments int `json:"segments"`
}

func newWorkShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <work-id>",
		Short: "Show a work and its editions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(cmd, func(c context.Context, store *ledger.Store) error {
				work, err := store.GetWork(c, args[0])
				if err != nil {
					return err
				}
				if work == nil {
					return fmt.Errorf("work %s not found", args[0])
				}
				editions, err := store.ListEditions(c, work.ID)
				if err != nil {
					return err
				}
				summaries := make([]editionSummary, 0, len(editions))
				for _, edition := range editions {
					segments, err := store.ListSegments(c, edition.ID)
					if err != nil {
						return err
					}
					summaries = append(summaries, editionSummary{Edition: edition, Segments: len(segments)})
				}

				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"work": work, "editions": summaries})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Work:  %s\n", work.ID)
				fmt.Fprintf(out, "Title: %s\n", work.Title)
				rows := make([][]string, 0, len(summaries))
				for _, s := range summaries {
					rows = append(rows, []string{
						s.ID,
						string(s.MediaKind),
						s.Provider,
						yesNo(s.Official),
						strconv.Itoa(s.Segments),
						s.CanonicalURL,
					})
				}
				printTable(cmd, "No editions",
					[]string{"Edition", "Media", "Provider", "Official", "Segments", "URL"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				)
				return nil
			})
		},
	}
}
