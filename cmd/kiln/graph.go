package main

import (
	"fmt"

	"github.com/spf13/cobra"

	presentation "github.com/kilnbuild/kiln/internal/presentation/graph"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the discovered asset graph as a Mermaid flowchart",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := engineFromFlags(cmd)
		if err != nil {
			return err
		}
		g, err := engine.Graph(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), presentation.GenerateMermaid(g))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
}
