/*Copyright (C) 2022 Mandiant, Inc. All Rights Reserved.*/
package main

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mandiant/NEFile/export"
	"github.com/mandiant/NEFile/nefile"
)

// FileResult is the outcome of exporting one input file.
type FileResult struct {
	Path    string          `json:"path"`
	Summary *export.Summary `json:"summary,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func (r FileResult) failed() bool {
	return r.Error != "" || (r.Summary != nil && len(r.Summary.Failures) > 0)
}

func exportFile(path string, w export.Writer, opts export.Options) FileResult {
	f, err := nefile.OpenWithOptions(path, nefile.Options{Logger: opts.Logger})
	if err != nil {
		return FileResult{Path: path, Error: err.Error()}
	}
	defer f.Close()
	return FileResult{Path: path, Summary: export.Export(f, "", w, opts)}
}

// exportFiles exports each path into w, at most jobs at a time. A file that
// cannot be opened is reported in its result and does not stop the others.
// Results keep the order of paths.
func exportFiles(ctx context.Context, paths []string, w export.Writer, opts export.Options, jobs int) ([]FileResult, error) {
	if jobs < 1 {
		jobs = 1
	}
	results := make([]FileResult, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = exportFile(path, w, opts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func printExportForHuman(w io.Writer, results []FileResult) {
	for _, r := range results {
		headingColor.Fprintln(w, r.Path)
		if r.Error != "" {
			errorColor.Fprintf(w, "  %s\n", r.Error)
			continue
		}
		for _, name := range r.Summary.Written {
			fmt.Fprintf(w, "  %s %s\n", okColor.Sprint("wrote"), name)
		}
		for _, s := range r.Summary.Skipped {
			fmt.Fprintf(w, "  skipped %s/%s: %s\n", s.Type, s.ID, s.Reason)
		}
		for _, f := range r.Summary.Failures {
			errorColor.Fprintf(w, "  failed %s/%s: %s\n", f.Type, f.ID, f.Error)
		}
	}
}

var exportCmd = &cobra.Command{
	Use:   "export FILE...",
	Short: "Write every resource out as a standalone file",
	Long: `export reconstructs the resources of each NE file: icon and cursor groups
become .ico and .cur files, bitmaps become .bmp files, string tables and
version info become JSON, and everything else is copied out as-is.

Output files are named {file}-{TYPE}-{id}.{ext}. A resource that cannot be
reconstructed is reported and the rest are still exported.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if flags.Changed("dir") {
			cfg.Export.Dir, _ = flags.GetString("dir")
		}
		if flags.Changed("type") {
			cfg.Export.Types, _ = flags.GetStringSlice("type")
		}
		if flags.Changed("raw") {
			cfg.Export.Raw, _ = flags.GetBool("raw")
		}
		if flags.Changed("jobs") {
			cfg.Export.Jobs, _ = flags.GetInt("jobs")
		}

		w, err := export.NewDirWriter(cfg.Export.Dir)
		if err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		opts := export.Options{
			Types:  cfg.exportTypes(),
			Raw:    cfg.Export.Raw,
			Logger: log.Default(),
		}
		results, err := exportFiles(cmd.Context(), args, w, opts, cfg.Export.Jobs)
		if err != nil {
			return err
		}
		if err := emit(cmd.OutOrStdout(), cfg.Output.Format, results, func(w io.Writer) {
			printExportForHuman(w, results)
		}); err != nil {
			return err
		}

		failed := 0
		for _, r := range results {
			if r.failed() {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d files had export failures", failed, len(results))
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().String("dir", "", "output directory (default from config, else \"out\")")
	exportCmd.Flags().StringSlice("type", nil, "only export these resource types, e.g. RT_ICON or 14 (repeatable)")
	exportCmd.Flags().Bool("raw", false, "write payloads unchanged instead of reconstructing them")
	exportCmd.Flags().Int("jobs", 0, "number of files to export in parallel (default from config, else NumCPU)")
}
