/*Copyright (C) 2022 Mandiant, Inc. All Rights Reserved.*/
package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mandiant/NEFile/nefile"
)

type ScanResult struct {
	File    string  `json:"file"`
	Offsets []int64 `json:"offsets"`
}

func hexList(offsets []int64) string {
	parts := make([]string, len(offsets))
	for i, off := range offsets {
		parts[i] = fmt.Sprintf("0x%x", off)
	}
	return strings.Join(parts, ", ")
}

var scanCmd = &cobra.Command{
	Use:   "scan FILE...",
	Short: "Search files for embedded NE headers",
	Long: `scan looks for NE headers anywhere in a file, whether or not a DOS stub
points at them. Use it on installers, archives and memory dumps, or when
info reports that a file is not an NE file.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		results := make([]ScanResult, 0, len(args))
		for _, path := range args {
			offsets, err := nefile.ScanFile(path)
			if err != nil {
				return err
			}
			if offsets == nil {
				offsets = []int64{}
			}
			results = append(results, ScanResult{File: path, Offsets: offsets})
		}
		return emit(cmd.OutOrStdout(), cfg.Output.Format, results, func(w io.Writer) {
			for _, r := range results {
				if len(r.Offsets) == 0 {
					warnColor.Fprintf(w, "%s: no NE headers\n", r.File)
					continue
				}
				fmt.Fprintf(w, "%s: %s\n", r.File, okColor.Sprint(hexList(r.Offsets)))
			}
		})
	},
}
