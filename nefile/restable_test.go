/*Copyright (C) 2022 Mandiant, Inc. All Rights Reserved.*/

package nefile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"reflect"
	"testing"

	"github.com/mandiant/NEFile/internal/nebuild"
)

func typ(t ResourceType) nebuild.Key { return nebuild.Int(uint16(t)) }

func TestEmptyResourceTable(t *testing.T) {
	t.Run("offset equals resident-name table", func(t *testing.T) {
		b := nebuild.New()
		b.OmitResourceTable = true
		data, _ := b.Build()
		f := open(t, data)
		if f.Header().HasResourceTable() {
			t.Errorf("header reports a resource table")
		}
		if n := f.Resources().Len(); n != 0 {
			t.Errorf("%d resources, want 0", n)
		}
		if len(f.Resources().Types()) != 0 {
			t.Errorf("types = %v", f.Resources().Types())
		}
	})

	t.Run("zero offset", func(t *testing.T) {
		data, lay := nebuild.New().Build()
		binary.LittleEndian.PutUint16(data[lay.HeaderOffset+0x24:], 0)
		if n := open(t, data).Resources().Len(); n != 0 {
			t.Errorf("%d resources, want 0", n)
		}
	})

	t.Run("table with no types", func(t *testing.T) {
		data, _ := nebuild.New().Build()
		res := open(t, data).Resources()
		if res.Len() != 0 || res.ShiftCount != 4 {
			t.Errorf("len %d, shift %d", res.Len(), res.ShiftCount)
		}
	})
}

func TestShiftedPayload(t *testing.T) {
	want := bytes.Repeat([]byte{0xa5}, 32)
	b := nebuild.New()
	b.Shift = 4
	b.DataOffset = 0x100
	b.Add(typ(RT_RCDATA), nebuild.Int(7), want)
	data, _ := b.Build()

	res, err := open(t, data).Resources().Lookup(TypeKey(RT_RCDATA), IDKey(7))
	if err != nil {
		t.Fatal(err)
	}
	if res.Offset != 0x10 || res.Length != 2 {
		t.Errorf("raw offset 0x%x length %d", res.Offset, res.Length)
	}
	if res.FileOffset() != 0x100 || res.Size() != 32 {
		t.Errorf("file offset 0x%x size %d", res.FileOffset(), res.Size())
	}
	got, err := res.Payload()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("payload = % x", got)
	}
}

func TestShiftCount(t *testing.T) {
	t.Run("high byte masked", func(t *testing.T) {
		b := nebuild.New()
		b.ShiftHighByte = 0xab
		b.Add(typ(RT_RCDATA), nebuild.Int(1), []byte("x"))
		data, _ := b.Build()
		table := open(t, data).Resources()
		if table.ShiftCount != 4 || table.RawShiftCount != 0xab04 {
			t.Errorf("shift %d, raw 0x%x", table.ShiftCount, table.RawShiftCount)
		}
	})

	t.Run("out of range", func(t *testing.T) {
		data, lay := nebuild.New().Build()
		binary.LittleEndian.PutUint16(data[lay.ResourceTableOffset:], 32)
		_, err := NewFile(bytes.NewReader(data), int64(len(data)))
		if !errors.Is(err, ErrCorruptTable) {
			t.Errorf("got %v, want ErrCorruptTable", err)
		}
	})
}

func TestNamedKeys(t *testing.T) {
	b := nebuild.New()
	b.Add(nebuild.Name("MYDATA"), nebuild.Name("HELLO"), []byte("named"))
	b.Add(nebuild.Name("MYDATA"), nebuild.Int(3), []byte("numbered"))
	b.Add(typ(RT_BITMAP), nebuild.Name("LOGO"), nebuild.DIB(2, 2, 1, false))
	b.Add(nebuild.Int(0x100), nebuild.Int(1), []byte("custom"))
	data, _ := b.Build()
	table := open(t, data).Resources()

	wantTypes := []ResourceKey{NameKey("MYDATA"), TypeKey(RT_BITMAP), TypeKey(0x100)}
	if got := table.Types(); !reflect.DeepEqual(got, wantTypes) {
		t.Errorf("types = %v, want %v", got, wantTypes)
	}
	if wantTypes[2].Kind != KeyNumeric || wantTypes[1].Kind != KeyKnown {
		t.Errorf("type keys not canonical: %+v", wantTypes)
	}

	ids := []ResourceKey{}
	for _, res := range table.Resources(NameKey("MYDATA")) {
		ids = append(ids, res.ID)
	}
	if !reflect.DeepEqual(ids, []ResourceKey{NameKey("HELLO"), IDKey(3)}) {
		t.Errorf("ids = %v", ids)
	}
	if _, err := table.Lookup(TypeKey(RT_BITMAP), NameKey("LOGO")); err != nil {
		t.Error(err)
	}
	if _, err := table.Lookup(TypeKey(RT_BITMAP), IDKey(1)); err == nil {
		t.Errorf("found a numeric ID that does not exist")
	}
	if _, err := table.Lookup(TypeKey(RT_ICON), IDKey(1)); err == nil {
		t.Errorf("found a type that does not exist")
	}
	if table.Len() != 4 {
		t.Errorf("len = %d", table.Len())
	}
}

func TestNameDecoding(t *testing.T) {
	tests := []struct {
		stored string
		want   string
	}{
		{"ABC\x00\xde\xad", "ABC"},
		{"\x80uro", "€uro"},
		{"caf\xe9", "café"},
	}
	for _, tt := range tests {
		b := nebuild.New()
		b.Add(typ(RT_RCDATA), nebuild.Name(tt.stored), []byte("x"))
		data, _ := b.Build()
		table := open(t, data).Resources()
		if _, err := table.Lookup(TypeKey(RT_RCDATA), NameKey(tt.want)); err != nil {
			t.Errorf("%q: %v (have %v)", tt.stored, err, table.Resources(TypeKey(RT_RCDATA))[0].ID)
		}
	}
}

func TestNameOffsetPastRegion(t *testing.T) {
	b := nebuild.New()
	b.Add(nebuild.Name("MYDATA"), nebuild.Int(1), []byte("x"))
	data, lay := b.Build()
	// still a name (bit 15 clear) but far beyond the resident-name table
	binary.LittleEndian.PutUint16(data[lay.TypeBlocks[0]:], 0x4000)

	_, err := NewFile(bytes.NewReader(data), int64(len(data)))
	if !errors.Is(err, ErrCorruptTable) {
		t.Fatalf("got %v, want ErrCorruptTable", err)
	}
	var fe *FormatError
	if !errors.As(err, &fe) || fe.Off != lay.ResourceTableOffset+0x4000 {
		t.Errorf("error %v does not point at the name", err)
	}
}

func TestTruncatedTypeBlock(t *testing.T) {
	b := nebuild.New()
	b.Add(typ(RT_RCDATA), nebuild.Int(1), []byte("x"))
	data, lay := b.Build()
	binary.LittleEndian.PutUint16(data[lay.TypeBlocks[0]+2:], 0x400)

	_, err := NewFile(bytes.NewReader(data), int64(len(data)))
	if !errors.Is(err, ErrCorruptTable) {
		t.Errorf("got %v, want ErrCorruptTable", err)
	}
}

// The format does not say what a repeated ID means. Which entry wins is an
// open question; the decoder keeps the later entry, records the collision and
// leaves the ID at its first position.
func TestDuplicateIDLastWins(t *testing.T) {
	b := nebuild.New()
	b.Add(typ(RT_RCDATA), nebuild.Int(1), []byte("first"))
	b.Add(typ(RT_RCDATA), nebuild.Int(2), []byte("other"))
	b.Add(typ(RT_RCDATA), nebuild.Int(1), []byte("second"))
	data, lay := b.Build()
	table := open(t, data).Resources()

	ress := table.Resources(TypeKey(RT_RCDATA))
	if len(ress) != 2 || ress[0].ID != IDKey(1) || ress[1].ID != IDKey(2) {
		t.Fatalf("resources = %v", ress)
	}
	payload, err := ress[0].Payload()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(payload, []byte("second")) {
		t.Errorf("kept %q, want the later entry", payload)
	}
	want := []Duplicate{{Type: TypeKey(RT_RCDATA), ID: IDKey(1), EntryOffset: lay.Entries[2]}}
	if !reflect.DeepEqual(table.Duplicates, want) {
		t.Errorf("duplicates = %+v, want %+v", table.Duplicates, want)
	}
}

func TestRepeatedTypeBlockMerges(t *testing.T) {
	b := nebuild.New()
	b.Add(typ(RT_RCDATA), nebuild.Int(1), []byte("a"))
	b.Add(typ(RT_BITMAP), nebuild.Int(1), nebuild.DIB(1, 1, 1, false))
	b.Add(typ(RT_RCDATA), nebuild.Int(2), []byte("b"))
	data, lay := b.Build()
	if len(lay.TypeBlocks) != 3 {
		t.Fatalf("builder wrote %d type blocks", len(lay.TypeBlocks))
	}
	table := open(t, data).Resources()

	if got := table.Types(); !reflect.DeepEqual(got, []ResourceKey{TypeKey(RT_RCDATA), TypeKey(RT_BITMAP)}) {
		t.Errorf("types = %v", got)
	}
	if n := len(table.Resources(TypeKey(RT_RCDATA))); n != 2 {
		t.Errorf("%d RT_RCDATA resources, want 2", n)
	}

	var order []string
	table.Each(func(res *Resource) error {
		order = append(order, res.String())
		return nil
	})
	if !reflect.DeepEqual(order, []string{"RT_RCDATA/1", "RT_RCDATA/2", "RT_BITMAP/1"}) {
		t.Errorf("order = %v", order)
	}
}

func TestEachStops(t *testing.T) {
	b := nebuild.New()
	b.Add(typ(RT_RCDATA), nebuild.Int(1), []byte("a"))
	b.Add(typ(RT_RCDATA), nebuild.Int(2), []byte("b"))
	data, _ := b.Build()

	stop := errors.New("stop")
	calls := 0
	err := open(t, data).Resources().Each(func(*Resource) error {
		calls++
		return stop
	})
	if err != stop || calls != 1 {
		t.Errorf("err %v after %d calls", err, calls)
	}
}
