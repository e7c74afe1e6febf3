/*Copyright (C) 2022 Mandiant, Inc. All Rights Reserved.*/

package resources

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/mandiant/NEFile/internal/nebuild"
	"github.com/mandiant/NEFile/nefile"
)

func bitfieldsDIB() []byte {
	dib := nebuild.DIB(2, 2, 16, false)
	binary.LittleEndian.PutUint32(dib[16:], biBitfields)
	masks := []byte{0x00, 0xf8, 0, 0, 0xe0, 0x07, 0, 0, 0x1f, 0, 0, 0}
	return append(append(append([]byte{}, dib[:40]...), masks...), dib[40:]...)
}

func TestBitmap(t *testing.T) {
	fileBM := append([]byte("BM"), make([]byte, 60)...)

	tests := []struct {
		name    string
		dib     []byte
		offBits uint32
	}{
		{"8bpp palette", nebuild.DIB(4, 4, 8, false), 14 + 40 + 256*4},
		{"1bpp palette", nebuild.DIB(8, 8, 1, false), 14 + 40 + 2*4},
		{"24bpp no palette", nebuild.DIB(3, 3, 24, false), 14 + 40},
		{"core header", nebuild.CoreDIB(2, 2, 4), 14 + 12 + 16*3},
		{"bitfields", bitfieldsDIB(), 14 + 40 + 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := nebuild.New()
			b.Add(typ(nefile.RT_BITMAP), nebuild.Int(1), tt.dib)
			res := lookup(t, open(t, b), nefile.RT_BITMAP, 1)
			out, err := DefaultRegistry().Reconstruct(res, nil)
			if err != nil {
				t.Fatal(err)
			}
			var fh bitmapFileHeader
			binary.Read(bytes.NewReader(out.Data), binary.LittleEndian, &fh)
			if fh.Type != [2]byte{'B', 'M'} || fh.OffBits != tt.offBits {
				t.Errorf("header = %+v, want OffBits %d", fh, tt.offBits)
			}
			if int(fh.Size) != len(out.Data) || int(fh.Size) != 14+int(res.Size()) {
				t.Errorf("size %d, output %d bytes", fh.Size, len(out.Data))
			}
			if !bytes.HasPrefix(out.Data[14:], tt.dib) || out.Ext != "bmp" {
				t.Errorf("DIB not copied after the file header")
			}
		})
	}

	t.Run("already a file", func(t *testing.T) {
		b := nebuild.New()
		b.Add(typ(nefile.RT_BITMAP), nebuild.Int(1), fileBM)
		out, err := reconstruct(t, open(t, b), nefile.RT_BITMAP, 1)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.HasPrefix(out.Data, fileBM) || len(out.Data) != 64 {
			t.Errorf("file header added twice")
		}
	})
}

func TestBitmapErrors(t *testing.T) {
	odd := nebuild.DIB(4, 4, 8, false)
	binary.LittleEndian.PutUint32(odd, 20)

	tests := map[string][]byte{
		"palette truncated": nebuild.DIB(4, 4, 8, false)[:100],
		"header size":       odd,
		"too short":         {1, 2},
	}
	for name, dib := range tests {
		t.Run(name, func(t *testing.T) {
			b := nebuild.New()
			b.Add(typ(nefile.RT_BITMAP), nebuild.Int(1), dib)
			if _, err := reconstruct(t, open(t, b), nefile.RT_BITMAP, 1); !errors.Is(err, nefile.ErrReconstruction) {
				t.Errorf("got %v, want ErrReconstruction", err)
			}
		})
	}
}
