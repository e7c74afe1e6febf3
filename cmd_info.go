/*Copyright (C) 2022 Mandiant, Inc. All Rights Reserved.*/
package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mandiant/NEFile/nefile"
	"github.com/mandiant/NEFile/nefile/resources"
)

type HeaderMetadata struct {
	Offset            int64  `json:"offset"`
	LinkerVersion     string `json:"linker_version"`
	TargetOS          string `json:"target_os"`
	WindowsVersion    string `json:"windows_version"`
	Flags             string `json:"flags"`
	IsLibrary         bool   `json:"is_library"`
	SegmentCount      uint16 `json:"segment_count"`
	ModuleReferences  uint16 `json:"module_references"`
	ResourceTable     int64  `json:"resource_table"`
	ResidentNameTable int64  `json:"resident_name_table"`
	EntryTable        int64  `json:"entry_table"`
	InitialCSIP       uint32 `json:"initial_cs_ip"`
	InitialSSSP       uint32 `json:"initial_ss_sp"`
}

type ResourceMetadata struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Offset int64  `json:"offset"`
	Size   int64  `json:"size"`
	Flags  string `json:"flags"`
}

type ExtractMetadata struct {
	File       string             `json:"file"`
	Size       int64              `json:"size"`
	Header     HeaderMetadata     `json:"header"`
	ShiftCount uint16             `json:"shift_count"`
	Resources  []ResourceMetadata `json:"resources"`
	Duplicates []string           `json:"duplicates,omitempty"`
	Strings    []resources.String `json:"strings,omitempty"`
	Version    *resources.Version `json:"version,omitempty"`
	Warnings   []string           `json:"warnings,omitempty"`
}

func mainImpl(fileName string) (ExtractMetadata, error) {
	file, err := nefile.Open(fileName)
	if err != nil {
		if errors.Is(err, nefile.ErrNotNEFormat) || errors.Is(err, nefile.ErrUnrecognizedFile) {
			if offsets, scanErr := nefile.ScanFile(fileName); scanErr == nil && len(offsets) > 0 {
				return ExtractMetadata{}, fmt.Errorf("invalid file: %w (NE headers found at %s; see the scan command)", err, hexList(offsets))
			}
		}
		return ExtractMetadata{}, fmt.Errorf("invalid file: %w", err)
	}
	defer file.Close()

	h := file.Header()
	metadata := ExtractMetadata{
		File: fileName,
		Size: file.Size(),
		Header: HeaderMetadata{
			Offset:            h.Offset,
			LinkerVersion:     h.LinkerVersionString(),
			TargetOS:          h.TargetOS.String(),
			WindowsVersion:    h.ExpectedWindowsVersion.String(),
			Flags:             h.Flags.String(),
			IsLibrary:         h.IsLibrary(),
			SegmentCount:      h.SegmentCount,
			ModuleReferences:  h.ModuleReferenceCount,
			ResidentNameTable: h.ResidentNameTableStart(),
			EntryTable:        h.EntryTableStart(),
			InitialCSIP:       h.InitialCSIP,
			InitialSSSP:       h.InitialSSSP,
		},
		Resources: []ResourceMetadata{},
	}
	if h.HasResourceTable() {
		metadata.Header.ResourceTable = h.ResourceTableStart()
	}

	table := file.Resources()
	metadata.ShiftCount = table.ShiftCount
	for _, dup := range table.Duplicates {
		metadata.Duplicates = append(metadata.Duplicates, fmt.Sprintf("%s/%s at table entry 0x%x", dup.Type, dup.ID, dup.EntryOffset))
	}

	table.Each(func(res *nefile.Resource) error {
		metadata.Resources = append(metadata.Resources, ResourceMetadata{
			Type:   res.Type.String(),
			ID:     res.ID.String(),
			Offset: res.FileOffset(),
			Size:   res.Size(),
			Flags:  res.Flags.String(),
		})

		switch res.Type {
		case nefile.TypeKey(nefile.RT_STRING):
			block, err := resources.DecodeStringTable(res)
			if err != nil {
				metadata.Warnings = append(metadata.Warnings, err.Error())
				return nil
			}
			metadata.Strings = append(metadata.Strings, block.Strings...)
		case nefile.TypeKey(nefile.RT_VERSION):
			if metadata.Version != nil {
				return nil
			}
			v, err := resources.DecodeVersionInfo(res)
			if err != nil {
				metadata.Warnings = append(metadata.Warnings, err.Error())
				return nil
			}
			metadata.Version = v
		}
		return nil
	})

	return metadata, nil
}

var infoCmd = &cobra.Command{
	Use:   "info FILE",
	Short: "Print the NE header and resource table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		metadata, err := mainImpl(args[0])
		if err != nil {
			return fmt.Errorf("failed to parse file: %w", err)
		}
		return emit(cmd.OutOrStdout(), cfg.Output.Format, metadata, func(w io.Writer) {
			printForHuman(w, metadata)
		})
	},
}
