/*Copyright (C) 2022 Mandiant, Inc. All Rights Reserved.*/

package nefile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

const sizeofNEHeader = 0x40

// rawNEHeader mirrors the on-disk layout of the NE header.
type rawNEHeader struct {
	Signature                    [2]byte
	LinkerVersion                uint8
	LinkerRevision               uint8
	EntryTableOffset             uint16
	EntryTableLength             uint16
	FileCRC                      uint32
	Flags                        uint16
	AutoDataSegment              uint16
	InitialHeap                  uint16
	InitialStack                 uint16
	InitialCSIP                  uint32
	InitialSSSP                  uint32
	SegmentCount                 uint16
	ModuleReferenceCount         uint16
	NonResidentNameTableSize     uint16
	SegmentTableOffset           uint16
	ResourceTableOffset          uint16
	ResidentNameTableOffset      uint16
	ModuleReferenceTableOffset   uint16
	ImportedNameTableOffset      uint16
	NonResidentNameTableOffset   uint32
	MovableEntryCount            uint16
	SegmentAlignmentShift        uint16
	ResourceSegmentCount         uint16
	TargetOS                     uint8
	OS2Flags                     uint8
	ReturnThunksOffset           uint16
	SegmentReferenceThunksOffset uint16
	MinCodeSwapAreaSize          uint16
	ExpectedWindowsMinor         uint8
	ExpectedWindowsMajor         uint8
}

// TargetOS is the operating system an NE file was linked for.
type TargetOS uint8

const (
	OSUnknown        TargetOS = 0x00
	OSOS2            TargetOS = 0x01
	OSWindows        TargetOS = 0x02
	OSEuropeanDOS4   TargetOS = 0x03
	OSWindows386     TargetOS = 0x04
	OSBorland        TargetOS = 0x05
	OSPharLapOS2     TargetOS = 0x81
	OSPharLapWindows TargetOS = 0x82
)

var targetOSNames = map[TargetOS]string{
	OSUnknown:        "Unknown",
	OSOS2:            "OS/2",
	OSWindows:        "Windows 3.x",
	OSEuropeanDOS4:   "European MS-DOS 4.x",
	OSWindows386:     "Windows/386",
	OSBorland:        "Borland Operating System Services",
	OSPharLapOS2:     "PharLap 286|DOS-Extender (OS/2)",
	OSPharLapWindows: "PharLap 286|DOS-Extender (Windows)",
}

// Known reports whether os is one of the documented target values.
func (t TargetOS) Known() bool {
	_, ok := targetOSNames[t]
	return ok
}

func (t TargetOS) String() string {
	if name, ok := targetOSNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown (0x%02x)", uint8(t))
}

// ExecutableFlags are the program and application flags at offset 0x0C.
type ExecutableFlags uint16

const (
	FlagSingleData        ExecutableFlags = 0x0001
	FlagMultipleData      ExecutableFlags = 0x0002
	FlagPerProcessInit    ExecutableFlags = 0x0004
	FlagProtectedModeOnly ExecutableFlags = 0x0008
	Flag8086              ExecutableFlags = 0x0010
	Flag80286             ExecutableFlags = 0x0020
	Flag80386             ExecutableFlags = 0x0040
	Flag80x87             ExecutableFlags = 0x0080
	FlagNotPMCompatible   ExecutableFlags = 0x0100
	FlagPMCompatible      ExecutableFlags = 0x0200
	FlagUsesPM            ExecutableFlags = 0x0300
	FlagSelfLoading       ExecutableFlags = 0x0800
	FlagLinkerErrors      ExecutableFlags = 0x2000
	FlagLibrary           ExecutableFlags = 0x8000
)

func (f ExecutableFlags) String() string {
	var names []string
	add := func(bit ExecutableFlags, name string) {
		if f&bit == bit {
			names = append(names, name)
		}
	}
	add(FlagSingleData, "SINGLEDATA")
	add(FlagMultipleData, "MULTIPLEDATA")
	add(FlagPerProcessInit, "PERPROCESSINIT")
	add(FlagProtectedModeOnly, "PROTMODE")
	add(Flag8086, "8086")
	add(Flag80286, "80286")
	add(Flag80386, "80386")
	add(Flag80x87, "80X87")
	switch f & FlagUsesPM {
	case FlagUsesPM:
		names = append(names, "WINDOWAPI")
	case FlagPMCompatible:
		names = append(names, "WINDOWCOMPAT")
	case FlagNotPMCompatible:
		names = append(names, "NOTWINDOWCOMPAT")
	}
	add(FlagSelfLoading, "SELFLOAD")
	add(FlagLinkerErrors, "LINKERRORS")
	add(FlagLibrary, "LIBRARY")
	if len(names) == 0 {
		return "0"
	}
	return strings.Join(names, "|")
}

// WindowsVersion is the Windows version an NE file expects to run on.
type WindowsVersion struct {
	Major uint8
	Minor uint8
}

func (v WindowsVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// NEHeader is the decoded New Executable header.
// Table offsets marked relative are from the start of the header.
type NEHeader struct {
	Offset int64 // file offset of the header

	LinkerVersion  uint8
	LinkerRevision uint8
	FileCRC        uint32
	Flags          ExecutableFlags

	AutoDataSegment uint16
	InitialHeap     uint16
	InitialStack    uint16
	InitialCSIP     uint32
	InitialSSSP     uint32

	SegmentCount             uint16
	ModuleReferenceCount     uint16
	MovableEntryCount        uint16
	ResourceSegmentCount     uint16
	SegmentAlignmentShift    uint16
	NonResidentNameTableSize uint16

	EntryTableOffset           uint16 // relative
	EntryTableLength           uint16
	SegmentTableOffset         uint16 // relative
	ResourceTableOffset        uint16 // relative
	ResidentNameTableOffset    uint16 // relative
	ModuleReferenceTableOffset uint16 // relative
	ImportedNameTableOffset    uint16 // relative
	NonResidentNameTableOffset uint32 // absolute

	TargetOS                     TargetOS
	OS2Flags                     uint8
	ReturnThunksOffset           uint16
	SegmentReferenceThunksOffset uint16
	MinCodeSwapAreaSize          uint16
	ExpectedWindowsVersion       WindowsVersion
}

// LinkerVersionString returns the linker version as "version.revision".
func (h *NEHeader) LinkerVersionString() string {
	return fmt.Sprintf("%d.%d", h.LinkerVersion, h.LinkerRevision)
}

// IsLibrary reports whether the module is a DLL rather than a task.
func (h *NEHeader) IsLibrary() bool {
	return h.Flags&FlagLibrary != 0
}

// LocalHeapAllocated reports whether the module asks for a local heap.
func (h *NEHeader) LocalHeapAllocated() bool {
	return h.InitialHeap > 0
}

// HasResourceTable reports whether the header declares a non-empty resource table.
// Linkers mark an absent table either with a zero offset or by pointing it at
// the resident-name table that would otherwise follow it.
func (h *NEHeader) HasResourceTable() bool {
	return h.ResourceTableOffset != 0 && h.ResourceTableOffset != h.ResidentNameTableOffset
}

// ResourceTableStart returns the absolute file offset of the resource table.
func (h *NEHeader) ResourceTableStart() int64 {
	return h.Offset + int64(h.ResourceTableOffset)
}

// ResidentNameTableStart returns the absolute file offset of the resident-name table.
func (h *NEHeader) ResidentNameTableStart() int64 {
	return h.Offset + int64(h.ResidentNameTableOffset)
}

// SegmentTableStart returns the absolute file offset of the segment table.
func (h *NEHeader) SegmentTableStart() int64 {
	return h.Offset + int64(h.SegmentTableOffset)
}

// EntryTableStart returns the absolute file offset of the entry table.
func (h *NEHeader) EntryTableStart() int64 {
	return h.Offset + int64(h.EntryTableOffset)
}

// ModuleReferenceTableStart returns the absolute file offset of the module-reference table.
func (h *NEHeader) ModuleReferenceTableStart() int64 {
	return h.Offset + int64(h.ModuleReferenceTableOffset)
}

// ImportedNameTableStart returns the absolute file offset of the imported-name table.
func (h *NEHeader) ImportedNameTableStart() int64 {
	return h.Offset + int64(h.ImportedNameTableOffset)
}

func signatureFormat(sig []byte) string {
	switch {
	case bytes.HasPrefix(sig, []byte("PE\x00\x00")):
		return "PE"
	case bytes.HasPrefix(sig, []byte("LE")):
		return "LE"
	case bytes.HasPrefix(sig, []byte("LX")):
		return "LX"
	}
	return "DOS"
}

func decodeNEHeader(raw []byte, off int64) (*NEHeader, error) {
	if len(raw) < sizeofNEHeader {
		return nil, corrupt(off, "NE header truncated", len(raw))
	}
	if raw[0] != 'N' || raw[1] != 'E' {
		return nil, &NotNEError{Off: off, Format: signatureFormat(raw)}
	}

	var r rawNEHeader
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &r); err != nil {
		return nil, corrupt(off, "decoding NE header: "+err.Error(), nil)
	}

	return &NEHeader{
		Offset:                       off,
		LinkerVersion:                r.LinkerVersion,
		LinkerRevision:               r.LinkerRevision,
		FileCRC:                      r.FileCRC,
		Flags:                        ExecutableFlags(r.Flags),
		AutoDataSegment:              r.AutoDataSegment,
		InitialHeap:                  r.InitialHeap,
		InitialStack:                 r.InitialStack,
		InitialCSIP:                  r.InitialCSIP,
		InitialSSSP:                  r.InitialSSSP,
		SegmentCount:                 r.SegmentCount,
		ModuleReferenceCount:         r.ModuleReferenceCount,
		MovableEntryCount:            r.MovableEntryCount,
		ResourceSegmentCount:         r.ResourceSegmentCount,
		SegmentAlignmentShift:        r.SegmentAlignmentShift,
		NonResidentNameTableSize:     r.NonResidentNameTableSize,
		EntryTableOffset:             r.EntryTableOffset,
		EntryTableLength:             r.EntryTableLength,
		SegmentTableOffset:           r.SegmentTableOffset,
		ResourceTableOffset:          r.ResourceTableOffset,
		ResidentNameTableOffset:      r.ResidentNameTableOffset,
		ModuleReferenceTableOffset:   r.ModuleReferenceTableOffset,
		ImportedNameTableOffset:      r.ImportedNameTableOffset,
		NonResidentNameTableOffset:   r.NonResidentNameTableOffset,
		TargetOS:                     TargetOS(r.TargetOS),
		OS2Flags:                     r.OS2Flags,
		ReturnThunksOffset:           r.ReturnThunksOffset,
		SegmentReferenceThunksOffset: r.SegmentReferenceThunksOffset,
		MinCodeSwapAreaSize:          r.MinCodeSwapAreaSize,
		ExpectedWindowsVersion: WindowsVersion{
			Major: r.ExpectedWindowsMajor,
			Minor: r.ExpectedWindowsMinor,
		},
	}, nil
}

// validate checks that every declared table lands inside the file.
func (h *NEHeader) validate(size int64) error {
	tables := []struct {
		name string
		rel  uint16
	}{
		{"segment table", h.SegmentTableOffset},
		{"resource table", h.ResourceTableOffset},
		{"resident-name table", h.ResidentNameTableOffset},
		{"module-reference table", h.ModuleReferenceTableOffset},
		{"imported-name table", h.ImportedNameTableOffset},
		{"entry table", h.EntryTableOffset},
	}
	for _, t := range tables {
		if t.rel == 0 {
			continue
		}
		if !withinBounds(h.Offset+int64(t.rel), 0, size) {
			return corrupt(h.Offset, t.name+" offset beyond end of file", t.rel)
		}
	}
	if h.EntryTableOffset != 0 && !withinBounds(h.EntryTableStart(), h.EntryTableLength, size) {
		return corrupt(h.EntryTableStart(), "entry table extends beyond end of file", h.EntryTableLength)
	}
	if h.NonResidentNameTableOffset != 0 && !withinBounds(h.NonResidentNameTableOffset, h.NonResidentNameTableSize, size) {
		return corrupt(int64(h.NonResidentNameTableOffset), "non-resident name table beyond end of file", h.NonResidentNameTableSize)
	}
	return nil
}

func readNEHeader(r io.ReaderAt, off int64, size int64) (*NEHeader, error) {
	raw := make([]byte, sizeofNEHeader)
	if _, err := r.ReadAt(raw, off); err != nil {
		return nil, corrupt(off, "reading NE header: "+err.Error(), nil)
	}
	h, err := decodeNEHeader(raw, off)
	if err != nil {
		return nil, err
	}
	if err := h.validate(size); err != nil {
		return nil, err
	}
	return h, nil
}
