/*Copyright (C) 2022 Mandiant, Inc. All Rights Reserved.*/

package nefile

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mandiant/NEFile/internal/nebuild"
)

type countingReader struct {
	r     io.ReaderAt
	reads atomic.Int64
}

func (c *countingReader) ReadAt(p []byte, off int64) (int, error) {
	c.reads.Add(1)
	return c.r.ReadAt(p, off)
}

func TestPayloadCached(t *testing.T) {
	b := nebuild.New()
	b.Add(typ(RT_RCDATA), nebuild.Int(1), []byte("cached payload"))
	data, _ := b.Build()
	cr := &countingReader{r: bytes.NewReader(data)}
	f, err := NewFile(cr, int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	res, err := f.Resources().Lookup(TypeKey(RT_RCDATA), IDKey(1))
	if err != nil {
		t.Fatal(err)
	}
	if res.Loaded() {
		t.Fatalf("payload loaded before it was asked for")
	}

	before := cr.reads.Load()
	first, err := res.Payload()
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			again, err := res.Payload()
			if err != nil || !bytes.Equal(again, first) {
				t.Errorf("repeat payload differs: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := cr.reads.Load() - before; n != 1 {
		t.Errorf("%d reads of the byte source, want 1", n)
	}
	if !res.Loaded() {
		t.Errorf("payload not marked loaded")
	}
}

func TestPayloadOutOfBounds(t *testing.T) {
	b := nebuild.New()
	b.Add(typ(RT_RCDATA), nebuild.Int(1), []byte("x")).Length = 0xffff
	data, _ := b.Build()
	res, err := open(t, data).Resources().Lookup(TypeKey(RT_RCDATA), IDKey(1))
	if err != nil {
		t.Fatal(err)
	}
	_, err = res.Payload()
	if !errors.Is(err, ErrOutOfBoundsResource) {
		t.Fatalf("got %v, want ErrOutOfBoundsResource", err)
	}
	var fe *FormatError
	if !errors.As(err, &fe) || fe.Off != res.FileOffset() {
		t.Errorf("error %v does not carry the resource offset", err)
	}
	if res.Loaded() {
		t.Errorf("failed payload marked loaded")
	}
}

func TestEmptyPayloadAtEOF(t *testing.T) {
	b := nebuild.New()
	b.Add(typ(RT_RCDATA), nebuild.Int(1), nil)
	data, _ := b.Build()
	res, err := open(t, data).Resources().Lookup(TypeKey(RT_RCDATA), IDKey(1))
	if err != nil {
		t.Fatal(err)
	}
	got, err := res.Payload()
	if err != nil || len(got) != 0 {
		t.Errorf("payload %q, err %v", got, err)
	}
}

func TestResourceFlags(t *testing.T) {
	tests := []struct {
		flags ResourceFlags
		want  string
	}{
		{0, "0"},
		{0x1c30, "MOVEABLE|PURE|DISCARDABLE(1)"},
		{0x0050, "MOVEABLE|PRELOAD"},
	}
	for _, tt := range tests {
		if got := tt.flags.String(); got != tt.want {
			t.Errorf("0x%04x = %q, want %q", uint16(tt.flags), got, tt.want)
		}
	}
}

func TestParseResourceType(t *testing.T) {
	tests := []struct {
		in   string
		want ResourceType
	}{
		{"RT_GROUP_ICON", RT_GROUP_ICON},
		{"icon", RT_ICON},
		{" string ", RT_STRING},
		{"14", RT_GROUP_ICON},
		{"0x100", 0x100},
	}
	for _, tt := range tests {
		got, err := ParseResourceType(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("%q = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
	if _, err := ParseResourceType("RT_NOPE"); err == nil {
		t.Errorf("unknown type parsed")
	}
}

func TestResourceKeyString(t *testing.T) {
	tests := []struct {
		key  ResourceKey
		want string
	}{
		{TypeKey(RT_GROUP_ICON), "RT_GROUP_ICON"},
		{TypeKey(13), "13"},
		{IDKey(3), "3"},
		{NameKey("LOGO"), "LOGO"},
	}
	for _, tt := range tests {
		if got := tt.key.String(); got != tt.want {
			t.Errorf("%+v = %q, want %q", tt.key, got, tt.want)
		}
	}
	if n, ok := IDKey(3).Number(); !ok || n != 3 {
		t.Errorf("IDKey(3).Number() = %d, %v", n, ok)
	}
	if _, ok := NameKey("x").Number(); ok {
		t.Errorf("named key has a number")
	}
	if rt, ok := TypeKey(RT_ICON).Type(); !ok || rt != RT_ICON {
		t.Errorf("TypeKey(RT_ICON).Type() = %v, %v", rt, ok)
	}
}
