/*Copyright (C) 2022 Mandiant, Inc. All Rights Reserved.*/
package main

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"
)

type versionPayload struct {
	Tool      string `json:"tool"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the nefile version",
	RunE: func(cmd *cobra.Command, args []string) error {
		payload := versionPayload{Tool: "nefile", Version: Version, GoVersion: runtime.Version()}
		return emit(cmd.OutOrStdout(), cfg.Output.Format, payload, func(w io.Writer) {
			fmt.Fprintf(w, "%s %s (%s)\n", payload.Tool, headingColor.Sprint(payload.Version), payload.GoVersion)
		})
	},
}
