package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"homework-review/api/internal/app"
	"homework-review/api/internal/config"
	"homework-review/api/internal/logging"
	"homework-review/api/internal/review"
)

type gradeResult struct {
	File   string         `json:"file"`
	Report *review.Report `json:"report,omitempty"`
	Error  string         `json:"error,omitempty"`
}

func newGradeCmd() *cobra.Command {
	var (
		engine string
		jobs   int
	)

	c := &cobra.Command{
		Use:   "grade <image>...",
		Short: "Grade local photos and print the reports as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := logging.New(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
			engs := app.Engines(cfg)
			svc, err := app.Service(cfg, engs, nil, nil, log)
			if err != nil {
				return err
			}
			return gradeFiles(cmd, svc, engine, jobs, args)
		},
	}
	c.Flags().StringVarP(&engine, "engine", "e", "", "engine name (default from config)")
	c.Flags().IntVarP(&jobs, "jobs", "j", 2, "photos graded in parallel")
	return c
}

// gradeFiles grades every file and prints the results in argument order.
// A failed photo is reported in its result; the command then exits non-zero.
func gradeFiles(cmd *cobra.Command, g grader, engine string, jobs int, files []string) error {
	results := make([]gradeResult, len(files))
	eg, ctx := errgroup.WithContext(cmd.Context())
	eg.SetLimit(max(jobs, 1))
	for i, f := range files {
		eg.Go(func() error {
			results[i].File = filepath.Base(f)
			img, err := os.ReadFile(f)
			if err != nil {
				results[i].Error = err.Error()
				return nil
			}
			rep, err := g.Grade(ctx, review.Request{Image: img, Engine: engine, Source: "cli"})
			if err != nil {
				results[i].Error = err.Error()
				return nil
			}
			results[i].Report = rep
			return nil
		})
	}
	_ = eg.Wait()

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return err
	}
	var failed int
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d photos failed", failed, len(files))
	}
	return nil
}
