/*Copyright (C) 2022 Mandiant, Inc. All Rights Reserved.*/

package nefile

import (
	"fmt"
	"io"
	"sync"
)

// A Resource is one entry of the resource table. Its data is read from the
// file the first time Payload is called and cached afterwards.
type Resource struct {
	Type   ResourceKey
	ID     ResourceKey
	Offset uint16 // in alignment units, see FileOffset
	Length uint16 // in alignment units, see Size
	Flags  ResourceFlags

	shift uint16
	r     io.ReaderAt
	limit int64

	mu     sync.Mutex
	loaded bool
	data   []byte
}

// Shift returns the alignment shift count applied to Offset and Length.
func (res *Resource) Shift() uint16 { return res.shift }

// FileOffset returns the absolute file offset of the resource data.
func (res *Resource) FileOffset() int64 {
	off, _ := shifted(res.Offset, res.shift)
	return off
}

// Size returns the length of the resource data in bytes. Because lengths are
// stored in alignment units, this may include padding after the real data.
func (res *Resource) Size() int64 {
	n, _ := shifted(res.Length, res.shift)
	return n
}

func (res *Resource) String() string {
	return fmt.Sprintf("%s/%s", res.Type, res.ID)
}

// Loaded reports whether the payload has already been read.
func (res *Resource) Loaded() bool {
	res.mu.Lock()
	defer res.mu.Unlock()
	return res.loaded
}

// Payload returns the resource data. The returned slice is shared between
// callers and must not be modified.
func (res *Resource) Payload() ([]byte, error) {
	res.mu.Lock()
	defer res.mu.Unlock()
	if res.loaded {
		return res.data, nil
	}

	off, okOff := shifted(res.Offset, res.shift)
	n, okLen := shifted(res.Length, res.shift)
	if !okOff || !okLen || !withinBounds(off, n, res.limit) {
		return nil, &FormatError{
			Off:  off,
			Msg:  fmt.Sprintf("%s data of 0x%x bytes extends past end of file (size 0x%x)", res, n, res.limit),
			Kind: ErrOutOfBoundsResource,
		}
	}

	data := make([]byte, n)
	if n > 0 {
		if _, err := res.r.ReadAt(data, off); err != nil {
			return nil, &FormatError{Off: off, Msg: fmt.Sprintf("reading %s: %v", res, err), Kind: ErrOutOfBoundsResource}
		}
	}
	res.data = data
	res.loaded = true
	return res.data, nil
}
