/*Copyright (C) 2022 Mandiant, Inc. All Rights Reserved.*/
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/term"
)

var (
	headingColor = color.New(color.FgCyan, color.Bold)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
	okColor      = color.New(color.FgGreen)
)

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func setupColor(mode string) {
	switch mode {
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	default:
		color.NoColor = !isTerminal(os.Stdout)
	}
}

// emit writes v in the configured format. Human output is produced by human.
func emit(w io.Writer, format string, v any, human func(io.Writer)) error {
	switch format {
	case formatHuman:
		human(w)
		return nil
	case formatMsgpack:
		enc := msgpack.NewEncoder(w)
		enc.SetCustomStructTag("json")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(w, DataToJson(v))
	return err
}

func printForHuman(w io.Writer, metadata ExtractMetadata) {
	headingColor.Fprintln(w, "----NEFile----")
	fmt.Fprintf(w, "%-24s %s\n", "File:", metadata.File)
	fmt.Fprintf(w, "%-24s 0x%x\n", "Size:", metadata.Size)
	fmt.Fprintf(w, "%-24s 0x%x\n", "NE header offset:", metadata.Header.Offset)

	headingColor.Fprintln(w, "\n-HEADER-")
	fmt.Fprintf(w, "%-24s %s\n", "Target OS:", metadata.Header.TargetOS)
	fmt.Fprintf(w, "%-24s %s\n", "Windows version:", metadata.Header.WindowsVersion)
	fmt.Fprintf(w, "%-24s %s\n", "Linker version:", metadata.Header.LinkerVersion)
	fmt.Fprintf(w, "%-24s %s\n", "Flags:", metadata.Header.Flags)
	fmt.Fprintf(w, "%-24s %t\n", "Library:", metadata.Header.IsLibrary)
	fmt.Fprintf(w, "%-24s %d\n", "Segments:", metadata.Header.SegmentCount)
	fmt.Fprintf(w, "%-24s 0x%x\n", "Resource table:", metadata.Header.ResourceTable)
	fmt.Fprintf(w, "%-24s 0x%x\n", "Resident-name table:", metadata.Header.ResidentNameTable)
	fmt.Fprintf(w, "%-24s 0x%x\n", "Entry table:", metadata.Header.EntryTable)

	headingColor.Fprintln(w, "\n-RESOURCES-")
	if len(metadata.Resources) > 0 {
		fmt.Fprintf(w, "%-24s %d\n", "Shift count:", metadata.ShiftCount)
		for _, res := range metadata.Resources {
			fmt.Fprintf(w, "%-20s %-12s 0x%08x %8d  %s\n", res.Type, res.ID, res.Offset, res.Size, res.Flags)
		}
	} else {
		fmt.Fprintln(w, "<NO RESOURCES>")
	}
	for _, dup := range metadata.Duplicates {
		warnColor.Fprintf(w, "duplicate ID: %s\n", dup)
	}

	if metadata.Version != nil && metadata.Version.Fixed != nil {
		headingColor.Fprintln(w, "\n-VERSION INFO-")
		fmt.Fprintf(w, "%-24s %s\n", "File version:", metadata.Version.Fixed.FileVersion)
		fmt.Fprintf(w, "%-24s %s\n", "Product version:", metadata.Version.Fixed.ProductVersion)
		for _, table := range metadata.Version.StringTables {
			for _, s := range table.Strings {
				fmt.Fprintf(w, "%-24s %s\n", s.Key+":", s.Value)
			}
		}
	}

	if len(metadata.Strings) > 0 {
		headingColor.Fprintln(w, "\n-STRINGS-")
		for _, s := range metadata.Strings {
			fmt.Fprintf(w, "%-8d %s\n", s.ID, strings.ReplaceAll(s.Text, "\n", `\n`))
		}
	}

	for _, warning := range metadata.Warnings {
		warnColor.Fprintf(w, "warning: %s\n", warning)
	}
}
