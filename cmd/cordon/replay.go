package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cordon-ai/cordon/internal/replay"
)

func replayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Verify and export recorded reasoner transcripts",
	}
	cmd.AddCommand(replayVerifyCmd())
	cmd.AddCommand(replayExportCmd())
	return cmd
}

func replayVerifyCmd() *cobra.Command {
	var secret string
	cmd := &cobra.Command{
		Use:          "verify <path>",
		Short:        "Check HMAC signatures and chain continuity of a transcript",
		SilenceUsage: true,
		Args:         cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("CORDON_REPLAY_SECRET")
			}
			ok, problems := replay.VerifyFile(args[0], secret)
			for _, p := range problems {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			if !ok {
				return fmt.Errorf("transcript failed verification: %d problem(s)", len(problems))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "HMAC secret the transcript was recorded with")
	return cmd
}

func replayExportCmd() *cobra.Command {
	var pretty bool
	cmd := &cobra.Command{
		Use:          "export <path>",
		Short:        "Print a transcript's entries as JSON",
		SilenceUsage: true,
		Args:         cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			player, err := replay.NewPlayer(args[0], replay.PlayerOptions{})
			if err != nil {
				return err
			}
			entries := player.Entries()
			if pretty {
				out, err := json.MarshalIndent(entries, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, e := range entries {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&pretty, "pretty", false, "emit one indented JSON array instead of JSON lines")
	return cmd
}
