package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "review-proxy",
		Short:        "Grades photographed homework with vision LLMs",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newGradeCmd(), newExtractCmd(), newSimilarityCmd())
	return root
}
