package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cordon-ai/cordon/internal/ledger"
)

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and verify append-only decision ledgers",
	}
	cmd.AddCommand(ledgerVerifyCmd())
	cmd.AddCommand(ledgerTailCmd())
	return cmd
}

func ledgerVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "verify <path>",
		Short:        "Recompute the hash chain and report the first break",
		SilenceUsage: true,
		Args:         cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			led, err := ledger.Open(args[0])
			if err != nil {
				return err
			}
			res, err := led.Verify()
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			if !res.OK {
				return fmt.Errorf("ledger chain broken at entry %d: %s", res.BrokenIdx, res.Reason)
			}
			return nil
		},
	}
}

func ledgerTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:          "tail <path>",
		Short:        "Print the last n ledger entries",
		SilenceUsage: true,
		Args:         cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			led, err := ledger.Open(args[0])
			if err != nil {
				return err
			}
			entries, err := led.ReadTail(n)
			if err != nil {
				return err
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
	cmd.Flags().IntVarP(&n, "lines", "n", 10, "number of entries to print")
	return cmd
}
