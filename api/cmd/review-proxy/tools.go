package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"homework-review/api/internal/review"
	"homework-review/api/internal/util"
)

type grader interface {
	Grade(ctx context.Context, req review.Request) (*review.Report, error)
}

func newExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract [file]",
		Short: "Recover the JSON value from a raw model answer (stdin when no file)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				b   []byte
				err error
			)
			if len(args) == 1 && args[0] != "-" {
				b, err = os.ReadFile(args[0])
			} else {
				b, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return err
			}
			v, err := util.ExtractJSON(string(b))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			return enc.Encode(v)
		},
	}
}

func newSimilarityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "similarity <a> <b>",
		Short: "Print the normalised edit-distance similarity of two answers",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%.4f\n", util.Similarity(args[0], args[1]))
			return err
		},
	}
}
