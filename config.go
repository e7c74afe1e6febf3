/*Copyright (C) 2022 Mandiant, Inc. All Rights Reserved.*/
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/mandiant/NEFile/nefile"
)

const configFileName = "nefile.toml"

const (
	formatJSON    = "json"
	formatHuman   = "human"
	formatMsgpack = "msgpack"
)

type ExportConfig struct {
	Dir   string   `toml:"dir"`
	Types []string `toml:"types"`
	Raw   bool     `toml:"raw"`
	Jobs  int      `toml:"jobs"`
}

type OutputConfig struct {
	Format string `toml:"format"`
	Color  string `toml:"color"`
}

// Config is the contents of nefile.toml. Command-line flags override it.
type Config struct {
	Export ExportConfig `toml:"export"`
	Output OutputConfig `toml:"output"`
}

func defaultConfig() Config {
	return Config{
		Export: ExportConfig{Dir: "out", Jobs: runtime.NumCPU()},
		Output: OutputConfig{Format: formatJSON, Color: "auto"},
	}
}

// findConfig looks for nefile.toml in dir and each of its parents.
func findConfig(dir string) (string, bool, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", false, err
	}
	for {
		candidate := filepath.Join(dir, configFileName)
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", false, err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false, nil
		}
		dir = parent
	}
}

// loadConfig reads path, or the nearest nefile.toml when path is empty. It
// returns the defaults and an empty path when there is no config file.
func loadConfig(path string) (Config, string, error) {
	c := defaultConfig()
	if path == "" {
		found, ok, err := findConfig(".")
		if err != nil || !ok {
			return c, "", err
		}
		path = found
	}

	meta, err := toml.DecodeFile(path, &c)
	if err != nil {
		return c, "", fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return c, "", fmt.Errorf("%s: unknown keys %v", path, undecoded)
	}
	if err := c.validate(); err != nil {
		return c, "", fmt.Errorf("%s: %w", path, err)
	}
	return c, path, nil
}

func (c *Config) validate() error {
	switch c.Output.Format {
	case formatJSON, formatHuman, formatMsgpack:
	default:
		return fmt.Errorf("unsupported output format %q (must be json, human or msgpack)", c.Output.Format)
	}
	switch c.Output.Color {
	case "auto", "on", "off":
	default:
		return fmt.Errorf("unsupported color mode %q (must be auto, on or off)", c.Output.Color)
	}
	if c.Export.Jobs < 1 {
		c.Export.Jobs = 1
	}
	return nil
}

// exportTypes turns the configured type names into keys. Names that are not
// a predefined type or a number select a named type.
func (c *Config) exportTypes() []nefile.ResourceKey {
	keys := make([]nefile.ResourceKey, 0, len(c.Export.Types))
	for _, name := range c.Export.Types {
		if strings.TrimSpace(name) == "" {
			continue
		}
		t, err := nefile.ParseResourceType(name)
		if err != nil {
			keys = append(keys, nefile.NameKey(name))
			continue
		}
		keys = append(keys, nefile.TypeKey(t))
	}
	return keys
}

func applyOutputFlags(cmd *cobra.Command, c *Config) error {
	if cmd.Flags().Changed("format") {
		c.Output.Format, _ = cmd.Flags().GetString("format")
	}
	if cmd.Flags().Changed("color") {
		c.Output.Color, _ = cmd.Flags().GetString("color")
	}
	c.Output.Format = strings.ToLower(c.Output.Format)
	return c.validate()
}
