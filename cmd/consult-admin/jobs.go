package main

import (
	"context"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/consultaflow/dispatcher/internal/domain/model"
)

var (
	releaseProvider string
	releaseUserID   int64
	releaseTeamID   int64
	releaseIDs      []int64
	releaseKind     string

	countsProvider string

	sweepProvider string
)

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Move held jobs of a scope into the pending queue",
	Long: "Release moves jobs in the held status to pending. The scope is either explicit " +
		"job ids or a tenant (user or team) optionally narrowed to one batch kind.",
	RunE: runRelease,
}

var countsCmd = &cobra.Command{
	Use:   "counts",
	Short: "Show job counts per status for a provider",
	RunE:  runCounts,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Requeue jobs stuck in processing past the reaper age",
	RunE:  runSweep,
}

func init() {
	releaseCmd.Flags().StringVarP(&releaseProvider, "provider", "p", "", "Provider (required)")
	releaseCmd.Flags().Int64Var(&releaseUserID, "user-id", 0, "Owning user")
	releaseCmd.Flags().Int64Var(&releaseTeamID, "team-id", 0, "Owning team")
	releaseCmd.Flags().Int64SliceVar(&releaseIDs, "ids", nil, "Explicit job ids")
	releaseCmd.Flags().StringVar(&releaseKind, "kind", "", "Batch kind")
	_ = releaseCmd.MarkFlagRequired("provider")

	countsCmd.Flags().StringVarP(&countsProvider, "provider", "p", "", "Provider (required)")
	_ = countsCmd.MarkFlagRequired("provider")

	sweepCmd.Flags().StringVarP(&sweepProvider, "provider", "p", "", "Provider; empty sweeps every provider")

	rootCmd.AddCommand(releaseCmd, countsCmd, sweepCmd)
}

func runRelease(cmd *cobra.Command, _ []string) error {
	provider, err := model.ParseProvider(releaseProvider)
	if err != nil {
		return err
	}
	scope := model.ReleaseScope{
		Provider: provider,
		Tags:     model.Tags{UserID: releaseUserID, TeamID: releaseTeamID},
		IDs:      releaseIDs,
		Kind:     releaseKind,
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()
	return withInfra(ctx, false, func(ctx context.Context, in *infra) error {
		n, releaseErr := in.Services.Intake.Release(ctx, scope)
		if releaseErr != nil {
			return releaseErr
		}
		return writef(cmd.OutOrStdout(), "released %d job(s)\n", n)
	})
}

func runCounts(cmd *cobra.Command, _ []string) error {
	provider, err := model.ParseProvider(countsProvider)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()
	return withInfra(ctx, false, func(ctx context.Context, in *infra) error {
		counts, countErr := in.Services.Intake.Counts(ctx, provider)
		if countErr != nil {
			return countErr
		}
		return printCounts(cmd.OutOrStdout(), counts)
	})
}

func printCounts(w io.Writer, counts map[model.JobStatus]int64) error {
	statuses := make([]model.JobStatus, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i] < statuses[j] })

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writef(tw, "STATUS\tJOBS\n"); err != nil {
		return err
	}
	var total int64
	for _, s := range statuses {
		total += counts[s]
		if err := writef(tw, "%s\t%d\n", s, counts[s]); err != nil {
			return err
		}
	}
	if err := writef(tw, "total\t%d\n", total); err != nil {
		return err
	}
	return tw.Flush()
}

func runSweep(cmd *cobra.Command, _ []string) error {
	var provider model.Provider
	if sweepProvider != "" {
		p, err := model.ParseProvider(sweepProvider)
		if err != nil {
			return err
		}
		provider = p
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
	defer cancel()
	return withInfra(ctx, false, func(ctx context.Context, in *infra) error {
		n, sweepErr := in.Services.Sweeper.Sweep(ctx, provider)
		if sweepErr != nil {
			return sweepErr
		}
		return writef(cmd.OutOrStdout(), "requeued %d stale job(s)\n", n)
	})
}
