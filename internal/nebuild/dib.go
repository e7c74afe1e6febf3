/*Copyright (C) 2022 Mandiant, Inc. All Rights Reserved.*/

package nebuild

import (
	"bytes"
	"encoding/binary"
)

const (
	SizeOfBitmapInfoHeader        = 40
	SizeOfBitmapCoreHeader        = 12
	SizeOfGroupIconDirectory      = 6
	SizeOfGroupIconDirectoryEntry = 14
	SizeOfGroupCursorEntry        = 14
)

type BitmapInfoHeader struct {
	Size            uint32
	Width           int32
	Height          int32
	Planes          uint16
	BPP             uint16
	Compression     uint32
	ImageSize       uint32
	XPixelsPerMeter int32
	YPixelsPerMeter int32
	ColorsUsed      uint32
	ColorsImportant uint32
}

type BitmapCoreHeader struct {
	Size   uint32
	Width  uint16
	Height uint16
	Planes uint16
	BPP    uint16
}

func stride(width int, bpp uint16) int {
	return (width*int(bpp) + 31) / 32 * 4
}

func paletteEntries(bpp uint16) int {
	if bpp > 8 {
		return 0
	}
	return 1 << bpp
}

func pixels(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i*7 + 1)
	}
	return p
}

// DIB returns a packed device-independent bitmap with a full palette.
// With mask set it is laid out as an icon image: the header height is
// doubled and a 1bpp AND mask follows the colour bits.
func DIB(width, height int, bpp uint16, mask bool) []byte {
	var out bytes.Buffer
	hdrHeight := int32(height)
	if mask {
		hdrHeight *= 2
	}
	image := stride(width, bpp) * height
	must(binary.Write(&out, binary.LittleEndian, BitmapInfoHeader{
		Size:      SizeOfBitmapInfoHeader,
		Width:     int32(width),
		Height:    hdrHeight,
		Planes:    1,
		BPP:       bpp,
		ImageSize: uint32(image),
	}), "writing bitmap header")
	for i := 0; i < paletteEntries(bpp); i++ {
		v := byte(i * 255 / max(paletteEntries(bpp)-1, 1))
		out.Write([]byte{v, v, v, 0})
	}
	out.Write(pixels(image))
	if mask {
		out.Write(make([]byte, stride(width, 1)*height))
	}
	return out.Bytes()
}

// CoreDIB returns a bitmap with the 12-byte OS/2 header and a 3-byte palette.
func CoreDIB(width, height int, bpp uint16) []byte {
	var out bytes.Buffer
	must(binary.Write(&out, binary.LittleEndian, BitmapCoreHeader{
		Size:   SizeOfBitmapCoreHeader,
		Width:  uint16(width),
		Height: uint16(height),
		Planes: 1,
		BPP:    bpp,
	}), "writing core header")
	for i := 0; i < paletteEntries(bpp); i++ {
		out.Write([]byte{byte(i), byte(i), byte(i)})
	}
	out.Write(pixels(stride(width, bpp) * height))
	return out.Bytes()
}

// GroupIconDirectory heads RT_GROUP_ICON and RT_GROUP_CURSOR data.
type GroupIconDirectory struct {
	Reserved uint16
	Type     uint16
	Count    uint16
}

type GroupIconDirectoryEntry struct {
	Width      uint8 // 0 if >=256
	Height     uint8 // 0 if >=256
	ColorCount uint8
	Reserved   uint8
	NumPlanes  uint16
	BPP        uint16
	ImageSize  uint32
	ResourceID uint16
}

// IconEntry describes dib, an RT_ICON resource with the given ID.
func IconEntry(id uint16, dib []byte) GroupIconDirectoryEntry {
	var h BitmapInfoHeader
	must(binary.Read(bytes.NewReader(dib), binary.LittleEndian, &h), "reading bitmap header")
	e := GroupIconDirectoryEntry{
		Width:      uint8(h.Width),
		Height:     uint8(h.Height / 2),
		NumPlanes:  h.Planes,
		BPP:        h.BPP,
		ImageSize:  uint32(len(dib)),
		ResourceID: id,
	}
	if h.BPP < 8 {
		e.ColorCount = uint8(paletteEntries(h.BPP))
	}
	return e
}

// GroupIcon returns RT_GROUP_ICON data for entries.
func GroupIcon(entries ...GroupIconDirectoryEntry) []byte {
	var out bytes.Buffer
	must(binary.Write(&out, binary.LittleEndian, GroupIconDirectory{Type: 1, Count: uint16(len(entries))}), "writing group icon directory")
	for _, e := range entries {
		must(binary.Write(&out, binary.LittleEndian, e), "writing group icon entry")
	}
	return out.Bytes()
}

type GroupCursorEntry struct {
	Width      uint16
	Height     uint16 // doubled, includes the mask
	NumPlanes  uint16
	BPP        uint16
	ImageSize  uint32 // includes the hotspot
	ResourceID uint16
}

// Cursor returns RT_CURSOR data: the hotspot followed by dib.
func Cursor(hotX, hotY uint16, dib []byte) []byte {
	var out bytes.Buffer
	must(binary.Write(&out, binary.LittleEndian, [2]uint16{hotX, hotY}), "writing hotspot")
	out.Write(dib)
	return out.Bytes()
}

// CursorEntry describes cursor, RT_CURSOR data built by Cursor.
func CursorEntry(id uint16, cursor []byte) GroupCursorEntry {
	var h BitmapInfoHeader
	must(binary.Read(bytes.NewReader(cursor[4:]), binary.LittleEndian, &h), "reading bitmap header")
	return GroupCursorEntry{
		Width:      uint16(h.Width),
		Height:     uint16(h.Height),
		NumPlanes:  h.Planes,
		BPP:        h.BPP,
		ImageSize:  uint32(len(cursor)),
		ResourceID: id,
	}
}

// GroupCursor returns RT_GROUP_CURSOR data for entries.
func GroupCursor(entries ...GroupCursorEntry) []byte {
	var out bytes.Buffer
	must(binary.Write(&out, binary.LittleEndian, GroupIconDirectory{Type: 2, Count: uint16(len(entries))}), "writing group cursor directory")
	for _, e := range entries {
		must(binary.Write(&out, binary.LittleEndian, e), "writing group cursor entry")
	}
	return out.Bytes()
}
