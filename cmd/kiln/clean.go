package main

import (
	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Evict the build cache",
	Long: `Discards all cached content, recorded digests, and failure records.
The next build runs every action from scratch.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := engineFromFlags(cmd)
		if err != nil {
			return err
		}
		return engine.Clean(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(cleanCmd)
}
