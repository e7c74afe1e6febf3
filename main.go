/*Copyright (C) 2022 Mandiant, Inc. All Rights Reserved.*/
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/pkg/profile"
	"github.com/spf13/cobra"
)

// Version can be overridden at build time via -ldflags.
var Version = "0.1.0-dev"

var (
	configPath string
	cfg        = defaultConfig()

	profiler interface{ Stop() }
)

var rootCmd = &cobra.Command{
	Use:   "nefile",
	Short: "Inspect and extract resources from 16-bit New Executable files",
	Long: `nefile decodes Windows 3.x and OS/2 New Executable (NE) files and exports
their resources (icons, cursors, bitmaps, string tables, version info and raw
data) as standalone files.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, path, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		if path != "" {
			log.Printf("using config %s", path)
		}
		cfg = loaded
		if err := applyOutputFlags(cmd, &cfg); err != nil {
			return err
		}
		setupColor(cfg.Output.Color)

		if dir, _ := cmd.Flags().GetString("profile"); dir != "" {
			profiler = profile.Start(profile.CPUProfile, profile.ProfilePath(dir), profile.Quiet, profile.NoShutdownHook)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		stopProfile()
	},
}

func stopProfile() {
	if profiler != nil {
		profiler.Stop()
		profiler = nil
	}
}

func DataToJson(data interface{}) string {
	jsonBytes, err := json.MarshalIndent(data, "", "    ")
	if err != nil {
		return "{\"error\": \"failed to format output\"}"
	}
	return string(jsonBytes)
}

func TextToJson(key string, text string) string {
	jsonBytes, err := json.Marshal(map[string]string{key: text})
	if err != nil {
		return "{\"error\": \"failed to format output\"}"
	}
	return string(jsonBytes)
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("NEFile: ")

	rootCmd.Version = Version
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to nefile.toml (default: search upwards from the working directory)")
	rootCmd.PersistentFlags().String("format", "", "output format (json|human|msgpack)")
	rootCmd.PersistentFlags().String("color", "", "colorize human output (auto|on|off)")
	rootCmd.PersistentFlags().String("profile", "", "write a CPU profile into this directory")

	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		stopProfile()
		if cfg.Output.Format == formatHuman {
			log.Println(errorColor.Sprint(err))
		} else {
			fmt.Println(TextToJson("error", err.Error()))
		}
		os.Exit(1)
	}
}
