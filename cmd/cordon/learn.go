package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cordon-ai/cordon/internal/bandit"
	"github.com/cordon-ai/cordon/internal/outcome"
)

func learnCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "learn",
		Short: "Inspect what the strategy learner has learned",
	}
	cmd.AddCommand(learnSummaryCmd())
	cmd.AddCommand(learnRankCmd())
	cmd.AddCommand(learnCurveCmd())
	return cmd
}

func openAnalytics() (*bandit.Analytics, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, func() {}, err
	}
	storeDB, _, closeFn, err := openMemoryDB(cfg)
	if err != nil {
		return nil, func() {}, err
	}
	return bandit.NewAnalytics(outcome.New(storeDB)), closeFn, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func learnSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "summary",
		Short:        "Experiment summary with best/worst arms and estimated regret",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			analytics, closeFn, err := openAnalytics()
			if err != nil {
				return err
			}
			defer closeFn()
			summary, err := analytics.Summary(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, summary)
		},
	}
}

func learnRankCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:          "rank",
		Short:        "Arms ordered by mean reward with confidence intervals",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			analytics, closeFn, err := openAnalytics()
			if err != nil {
				return err
			}
			defer closeFn()
			rankings, err := analytics.ArmRankings(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, arm := range rankings {
				lo, hi := arm.ConfidenceInterval()
				fmt.Fprintf(out, "%2d. %-28s mean=%+.3f n=%-4d ci=[%+.3f, %+.3f]\n",
					i+1, arm.ArmKey, arm.MeanReward, arm.Count, lo, hi)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "cap the number of arms shown (0 = all)")
	return cmd
}

func learnCurveCmd() *cobra.Command {
	var armKey, taskID string
	var window int
	cmd := &cobra.Command{
		Use:          "curve",
		Short:        "Learning curve with convergence detection",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			analytics, closeFn, err := openAnalytics()
			if err != nil {
				return err
			}
			defer closeFn()
			curve, err := analytics.Curve(cmd.Context(), armKey, taskID, window)
			if err != nil {
				return err
			}
			if err := printJSON(cmd, curve); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "final_mean=%+.3f converged=%v\n",
				curve.FinalMean(), curve.IsConverged(0.001, 20))
			return nil
		},
	}
	cmd.Flags().StringVar(&armKey, "arm", "", "filter to one arm key")
	cmd.Flags().StringVar(&taskID, "task", "", "filter to one task id")
	cmd.Flags().IntVar(&window, "window", 10, "rolling mean window")
	return cmd
}
