package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cordon-ai/cordon/internal/fshash"
)

func hashCmd() *cobra.Command {
	var ignore []string
	cmd := &cobra.Command{
		Use:          "hash <dir>",
		Short:        "Print the deterministic tree hash of a directory",
		SilenceUsage: true,
		Args:         cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patterns := append([]string{}, fshash.DefaultIgnorePatterns...)
			patterns = append(patterns, ignore...)
			sum, err := fshash.TreeHash(args[0], patterns)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sum)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&ignore, "ignore", nil, "extra ignore patterns")
	return cmd
}
