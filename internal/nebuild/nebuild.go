/*Copyright (C) 2022 Mandiant, Inc. All Rights Reserved.*/

// Package nebuild writes small synthetic NE files for tests.
package nebuild

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	SizeOfDOSHeader             = 0x40
	SizeOfNEFileHeader          = 0x40
	SizeOfNEResourceTableHeader = 2
	SizeOfNEResourceTableEntry  = 8
	SizeOfNEResource            = 12
)

var (
	MZSignature = [2]byte{'M', 'Z'}
	NESignature = [2]byte{'N', 'E'}
)

// DOSHeader is the 64-byte MZ header. Only the fields an NE loader reads are named.
type DOSHeader struct {
	Signature        [2]byte
	Unused           [22]byte
	RelocTableOffset uint16
	Unused2          [34]byte
	NewHeaderAddr    uint32
}

// NEFileHeader is the on-disk NE header.
type NEFileHeader struct {
	Signature                    [2]byte
	MajorLinkerVersion           byte
	MinorLinkerVersion           byte
	EntryTableOffset             uint16
	EntryTableLength             uint16
	FileLoadCRC                  uint32
	Flag                         uint16
	AutoDataSegmentIndex         uint16
	InitialHeap                  uint16
	InitialStack                 uint16
	Entrypoint                   uint32
	InitStack                    uint32
	NumberOfSegments             uint16
	NumberOfModuleReferences     uint16
	NonResidentNameTableSize     uint16
	OffsetOfSegmentTable         uint16
	OffsetOfResourceTable        uint16
	OffsetOfResidentNameTable    uint16
	OffsetOfModuleReferenceTable uint16
	OffsetOfImportedNamesTable   uint16
	OffsetOfNonResidentNameTable uint32
	NumberOfMovableEntries       uint16
	FileAlignmentShiftCount      uint16
	NumberOfResourceEntries      uint16
	ExecutableType               uint8
	OS2Flags                     uint8
	ReturnThunksOffset           uint16
	SegmentReferenceThunksOffset uint16
	MinCodeSwapAreaSize          uint16
	ExpectedWindowsMinor         uint8
	ExpectedWindowsMajor         uint8
}

type NEResourceTableEntry struct {
	TypeID       uint16
	NumResources uint16
	Reserved     uint32
}

type NEResource struct {
	DataOffsetShifted uint16
	DataLength        uint16
	Flags             uint16
	ResourceID        uint16
	Reserved          uint32
}

// Key is a resource type or ID: a number, or a name when Name is set.
type Key struct {
	Num  uint16
	Name string
}

func Int(n uint16) Key { return Key{Num: n} }

func Name(s string) Key { return Key{Name: s} }

func (k Key) isName() bool { return k.Name != "" }

// Resource is one table entry to be written.
type Resource struct {
	Type  Key
	ID    Key
	Flags uint16
	Data  []byte

	// Length, when non-zero, is written in place of the computed length in
	// alignment units.
	Length uint16
}

// Layout reports where Build placed things, for tests that patch the output.
type Layout struct {
	HeaderOffset        int64
	ResourceTableOffset int64
	ResidentNameOffset  int64
	NamePoolOffset      int64
	TypeBlocks          []int64 // file offset of each type block
	Entries             []int64 // file offset of each resource entry, in Add order
	DataOffsets         []int64 // file offset of each resource's data, in Add order
}

// Builder assembles an NE file with a resource table.
// Consecutive resources of the same type share one type block; adding a type
// again after another type starts a second block for it.
type Builder struct {
	Shift         uint16
	ShiftHighByte uint8 // junk stored in the high byte of the shift count
	TargetOS      uint8
	WindowsMajor  uint8
	WindowsMinor  uint8
	LinkerVersion uint8
	LinkerRev     uint8
	Flags         uint16
	ModuleName    string

	// DataOffset places the first resource at this file offset. It must be a
	// multiple of the alignment. Zero puts data right after the tables.
	DataOffset int64

	// OmitResourceTable points the resource table at the resident-name table,
	// the way linkers mark a file without resources.
	OmitResourceTable bool

	resources []*Resource
}

// New returns a builder for a Windows 3.10 module with 16-byte alignment.
func New() *Builder {
	return &Builder{
		Shift:         4,
		TargetOS:      2,
		WindowsMajor:  3,
		WindowsMinor:  10,
		LinkerVersion: 5,
		LinkerRev:     10,
		Flags:         0x0302,
		ModuleName:    "SAMPLE",
	}
}

// Add appends a resource and returns it so callers can adjust it.
func (b *Builder) Add(typ, id Key, data []byte) *Resource {
	res := &Resource{Type: typ, ID: id, Flags: 0x1c30, Data: data}
	b.resources = append(b.resources, res)
	return res
}

type block struct {
	typ  Key
	ress []int
}

func (b *Builder) blocks() []block {
	var out []block
	for i, res := range b.resources {
		if n := len(out); n > 0 && out[n-1].typ == res.Type {
			out[n-1].ress = append(out[n-1].ress, i)
			continue
		}
		out = append(out, block{typ: res.Type, ress: []int{i}})
	}
	return out
}

func align(v, to int64) int64 {
	return (v + to - 1) / to * to
}

func pascal(s string) []byte {
	if len(s) > 255 {
		s = s[:255]
	}
	return append([]byte{byte(len(s))}, s...)
}

func must(err error, msg string) {
	if err != nil {
		panic(fmt.Sprintf("nebuild: %s: %v", msg, err))
	}
}

// Build writes the file. It panics when the resources cannot be described
// with the chosen shift count.
func (b *Builder) Build() ([]byte, *Layout) {
	blocks := b.blocks()
	lay := &Layout{
		HeaderOffset: SizeOfDOSHeader,
		Entries:      make([]int64, len(b.resources)),
		DataOffsets:  make([]int64, len(b.resources)),
	}

	// resource table: shift, blocks, terminator, then names
	tableRel := int64(SizeOfNEFileHeader)
	tableSize := int64(0)
	if !b.OmitResourceTable {
		tableSize = SizeOfNEResourceTableHeader + 2
		for _, blk := range blocks {
			tableSize += SizeOfNEResourceTableEntry + int64(len(blk.ress))*SizeOfNEResource
		}
	}
	var names bytes.Buffer
	nameOffsets := map[string]uint16{}
	nameWord := func(k Key, integer uint16) uint16 {
		if !k.isName() {
			return integer | 0x8000
		}
		if off, ok := nameOffsets[k.Name]; ok {
			return off
		}
		off := uint16(tableSize + int64(names.Len()))
		nameOffsets[k.Name] = off
		names.Write(pascal(k.Name))
		return off
	}
	// name offsets depend only on tableSize, so compute words up front
	typeWords := make([]uint16, len(blocks))
	idWords := make([]uint16, len(b.resources))
	if !b.OmitResourceTable {
		for i, blk := range blocks {
			typeWords[i] = nameWord(blk.typ, blk.typ.Num)
			for _, ri := range blk.ress {
				idWords[ri] = nameWord(b.resources[ri].ID, b.resources[ri].ID.Num)
			}
		}
	}

	residentRel := tableRel + tableSize + int64(names.Len())
	resident := append(pascal(b.ModuleName), 0, 0, 0)
	modRefRel := residentRel + int64(len(resident))
	importedRel := modRefRel
	entryRel := importedRel + 1
	entryLen := int64(2)
	end := lay.HeaderOffset + entryRel + entryLen

	lay.ResourceTableOffset = lay.HeaderOffset + tableRel
	lay.ResidentNameOffset = lay.HeaderOffset + residentRel
	lay.NamePoolOffset = lay.ResourceTableOffset + tableSize

	unit := int64(1) << b.Shift
	data := b.DataOffset
	if data == 0 {
		data = align(end, unit)
	}
	if data < end || data%unit != 0 {
		panic(fmt.Sprintf("nebuild: data offset 0x%x overlaps tables or is misaligned", data))
	}
	offsets := make([]uint16, len(b.resources))
	lengths := make([]uint16, len(b.resources))
	for i, res := range b.resources {
		units := align(int64(len(res.Data)), unit) / unit
		if data/unit > 0xffff || units > 0xffff {
			panic("nebuild: resource does not fit the shift count")
		}
		offsets[i] = uint16(data / unit)
		lengths[i] = uint16(units)
		if res.Length != 0 {
			lengths[i] = res.Length
		}
		lay.DataOffsets[i] = data
		data += units * unit
	}

	var out bytes.Buffer
	must(binary.Write(&out, binary.LittleEndian, DOSHeader{
		Signature:        MZSignature,
		RelocTableOffset: 0x40,
		NewHeaderAddr:    uint32(lay.HeaderOffset),
	}), "writing DOS header")

	resourceRel := tableRel
	if b.OmitResourceTable {
		resourceRel = residentRel
	}
	must(binary.Write(&out, binary.LittleEndian, NEFileHeader{
		Signature:                    NESignature,
		MajorLinkerVersion:           b.LinkerVersion,
		MinorLinkerVersion:           b.LinkerRev,
		EntryTableOffset:             uint16(entryRel),
		EntryTableLength:             uint16(entryLen),
		Flag:                         b.Flags,
		InitialHeap:                  0x400,
		InitialStack:                 0x2000,
		OffsetOfSegmentTable:         uint16(tableRel),
		OffsetOfResourceTable:        uint16(resourceRel),
		OffsetOfResidentNameTable:    uint16(residentRel),
		OffsetOfModuleReferenceTable: uint16(modRefRel),
		OffsetOfImportedNamesTable:   uint16(importedRel),
		FileAlignmentShiftCount:      b.Shift,
		NumberOfResourceEntries:      uint16(len(b.resources)),
		ExecutableType:               b.TargetOS,
		ExpectedWindowsMinor:         b.WindowsMinor,
		ExpectedWindowsMajor:         b.WindowsMajor,
	}), "writing NE header")

	if !b.OmitResourceTable {
		must(binary.Write(&out, binary.LittleEndian, uint16(b.ShiftHighByte)<<8|b.Shift), "writing shift count")
		for i, blk := range blocks {
			lay.TypeBlocks = append(lay.TypeBlocks, int64(out.Len()))
			must(binary.Write(&out, binary.LittleEndian, NEResourceTableEntry{
				TypeID:       typeWords[i],
				NumResources: uint16(len(blk.ress)),
			}), "writing type block")
			for _, ri := range blk.ress {
				lay.Entries[ri] = int64(out.Len())
				must(binary.Write(&out, binary.LittleEndian, NEResource{
					DataOffsetShifted: offsets[ri],
					DataLength:        lengths[ri],
					Flags:             b.resources[ri].Flags,
					ResourceID:        idWords[ri],
				}), "writing resource entry")
			}
		}
		must(binary.Write(&out, binary.LittleEndian, uint16(0)), "writing terminator")
		out.Write(names.Bytes())
	}

	out.Write(resident)
	// empty imported-name and entry tables
	out.WriteByte(0)
	out.Write(make([]byte, entryLen))

	for i, res := range b.resources {
		out.Write(make([]byte, lay.DataOffsets[i]-int64(out.Len())))
		out.Write(res.Data)
	}
	out.Write(make([]byte, data-int64(out.Len())))
	return out.Bytes(), lay
}

// DOSProgram returns an MZ file with no new-style header.
func DOSProgram() []byte {
	var out bytes.Buffer
	must(binary.Write(&out, binary.LittleEndian, DOSHeader{Signature: MZSignature, RelocTableOffset: 0x1c}), "writing DOS header")
	out.Write([]byte{0xb4, 0x4c, 0xcd, 0x21}) // mov ah,4c; int 21
	return out.Bytes()
}

// PEStub returns an MZ stub pointing at a PE signature.
func PEStub() []byte {
	var out bytes.Buffer
	must(binary.Write(&out, binary.LittleEndian, DOSHeader{
		Signature:        MZSignature,
		RelocTableOffset: 0x40,
		NewHeaderAddr:    SizeOfDOSHeader,
	}), "writing DOS header")
	out.WriteString("PE\x00\x00")
	out.Write(make([]byte, 0x100))
	return out.Bytes()
}
