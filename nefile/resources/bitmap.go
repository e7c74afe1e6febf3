/*Copyright (C) 2022 Mandiant, Inc. All Rights Reserved.*/

package resources

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/mandiant/NEFile/nefile"
)

const (
	sizeofBitmapFileHeader = 14
	sizeofCoreHeader       = 12
	sizeofInfoHeader       = 40

	biBitfields      = 3
	biAlphaBitfields = 6
)

type bitmapFileHeader struct {
	Type      [2]byte
	Size      uint32
	Reserved1 uint16
	Reserved2 uint16
	OffBits   uint32
}

// dibHeader holds the BITMAPINFOHEADER or BITMAPCOREHEADER fields needed to
// lay a DIB out in a file.
type dibHeader struct {
	Size        uint32
	Width       int32
	Height      int32
	Planes      uint16
	BPP         uint16
	Compression uint32
	ImageSize   uint32
	ColorsUsed  uint32
}

func parseDIBHeader(data []byte) (dibHeader, error) {
	var h dibHeader
	if len(data) < 4 {
		return h, fmt.Errorf("DIB header truncated")
	}
	h.Size = binary.LittleEndian.Uint32(data)
	switch {
	case h.Size == sizeofCoreHeader:
		if len(data) < sizeofCoreHeader {
			return h, fmt.Errorf("BITMAPCOREHEADER truncated")
		}
		h.Width = int32(binary.LittleEndian.Uint16(data[4:]))
		h.Height = int32(binary.LittleEndian.Uint16(data[6:]))
		h.Planes = binary.LittleEndian.Uint16(data[8:])
		h.BPP = binary.LittleEndian.Uint16(data[10:])
	case h.Size >= sizeofInfoHeader:
		if len(data) < sizeofInfoHeader {
			return h, fmt.Errorf("BITMAPINFOHEADER truncated")
		}
		h.Width = int32(binary.LittleEndian.Uint32(data[4:]))
		h.Height = int32(binary.LittleEndian.Uint32(data[8:]))
		h.Planes = binary.LittleEndian.Uint16(data[12:])
		h.BPP = binary.LittleEndian.Uint16(data[14:])
		h.Compression = binary.LittleEndian.Uint32(data[16:])
		h.ImageSize = binary.LittleEndian.Uint32(data[20:])
		h.ColorsUsed = binary.LittleEndian.Uint32(data[32:])
	default:
		return h, fmt.Errorf("unsupported DIB header size %d", h.Size)
	}
	if h.Width <= 0 || h.Height == 0 {
		return h, fmt.Errorf("bad DIB dimensions %dx%d", h.Width, h.Height)
	}
	switch h.BPP {
	case 1, 4, 8, 16, 24, 32:
	default:
		return h, fmt.Errorf("bad DIB bit depth %d", h.BPP)
	}
	return h, nil
}

func (h dibHeader) paletteEntries() int {
	if h.ColorsUsed != 0 {
		return int(h.ColorsUsed)
	}
	if h.BPP <= 8 {
		return 1 << h.BPP
	}
	return 0
}

func (h dibHeader) masksSize() int {
	if h.Size != sizeofInfoHeader {
		return 0
	}
	switch h.Compression {
	case biBitfields:
		return 12
	case biAlphaBitfields:
		return 16
	}
	return 0
}

// bitsOffset is the offset of the pixel array from the start of the DIB.
func (h dibHeader) bitsOffset() int {
	entry := 4
	if h.Size == sizeofCoreHeader {
		entry = 3
	}
	return int(h.Size) + h.masksSize() + h.paletteEntries()*entry
}

func stride(width int32, bpp uint16) int {
	return (int(width)*int(bpp) + 31) / 32 * 4
}

// iconSize is the size of an icon image: the header height covers the XOR
// bitmap and the AND mask stacked on top of each other.
func (h dibHeader) iconSize() int {
	height := int(h.Height / 2)
	if height < 0 {
		height = -height
	}
	return h.bitsOffset() + stride(h.Width, h.BPP)*height + stride(h.Width, 1)*height
}

// Bitmap prepends a BITMAPFILEHEADER to an RT_BITMAP payload.
var Bitmap = Func(func(res *nefile.Resource, _ Library) (*Output, error) {
	data, err := res.Payload()
	if err != nil {
		return nil, err
	}
	if bytes.HasPrefix(data, []byte("BM")) {
		return &Output{Data: data, Ext: "bmp"}, nil
	}
	h, err := parseDIBHeader(data)
	if err != nil {
		return nil, fail(res, "%v", err)
	}
	if h.bitsOffset() > len(data) {
		return nil, fail(res, "palette runs past the end of the bitmap (0x%x > 0x%x)", h.bitsOffset(), len(data))
	}

	var out bytes.Buffer
	out.Grow(sizeofBitmapFileHeader + len(data))
	binary.Write(&out, binary.LittleEndian, bitmapFileHeader{
		Type:    [2]byte{'B', 'M'},
		Size:    uint32(sizeofBitmapFileHeader + len(data)),
		OffBits: uint32(sizeofBitmapFileHeader + h.bitsOffset()),
	})
	out.Write(data)
	return &Output{Data: out.Bytes(), Ext: "bmp"}, nil
})
