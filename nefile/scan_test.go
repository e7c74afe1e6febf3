/*Copyright (C) 2022 Mandiant, Inc. All Rights Reserved.*/

package nefile

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/mandiant/NEFile/internal/nebuild"
)

func TestScanHeaders(t *testing.T) {
	b := nebuild.New()
	b.Add(typ(RT_RCDATA), nebuild.Int(1), []byte("payload"))
	exe, _ := b.Build()

	t.Run("plain file", func(t *testing.T) {
		if got := ScanHeaders(exe); !reflect.DeepEqual(got, []int64{0x40}) {
			t.Errorf("offsets = %v", got)
		}
	})

	t.Run("embedded", func(t *testing.T) {
		// a header-shaped decoy whose tables point past the end of the data
		decoy := bytes.Repeat([]byte{0xff}, sizeofNEHeader)
		copy(decoy, "NE")
		decoy[0x36] = byte(OSWindows)

		blob := append(bytes.Repeat([]byte("\x00NE\n"), 0x40), decoy...)
		base := int64(len(blob))
		blob = append(blob, exe...)

		if got := ScanHeaders(blob); !reflect.DeepEqual(got, []int64{base + 0x40}) {
			t.Errorf("offsets = %v, want [%d]", got, base+0x40)
		}
	})

	t.Run("nothing", func(t *testing.T) {
		if got := ScanHeaders(nebuild.DOSProgram()); len(got) != 0 {
			t.Errorf("offsets = %v", got)
		}
	})
}

func TestScanFile(t *testing.T) {
	exe, _ := nebuild.New().Build()
	path := filepath.Join(t.TempDir(), "dump.bin")
	if err := os.WriteFile(path, append(make([]byte, 0x33), exe...), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := ScanFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []int64{0x73}) {
		t.Errorf("offsets = %v", got)
	}
	if _, err := ScanFile(path + ".missing"); err == nil {
		t.Errorf("scanning a missing file succeeded")
	}
}
