/*Copyright (C) 2022 Mandiant, Inc. All Rights Reserved.*/

package nefile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log"

	"github.com/elliotchance/orderedmap"
	"golang.org/x/text/encoding/charmap"
)

const (
	sizeofNameInfo     = 12
	integerKeyFlag     = 0x8000
	maxShiftCount      = 31
	maxResourceTableSz = 0x10000 // name offsets are 16-bit
)

// Duplicate records a resource entry that replaced an earlier entry with the
// same type and ID. The table keeps the later entry.
type Duplicate struct {
	Type        ResourceKey
	ID          ResourceKey
	EntryOffset int64 // file offset of the table entry that won
}

// ResourceTable is the decoded NE resource table. Types and the resources of
// each type iterate in the order they appear on disk.
type ResourceTable struct {
	Offset        int64  // file offset of the table, 0 when the file has none
	End           int64  // end of the region names may point into
	ShiftCount    uint16 // effective alignment shift
	RawShiftCount uint16 // as stored, before masking
	Duplicates    []Duplicate

	// ResourceKey -> *orderedmap.OrderedMap of ResourceKey -> *Resource
	types *orderedmap.OrderedMap
}

func emptyResourceTable() *ResourceTable {
	return &ResourceTable{types: orderedmap.NewOrderedMap()}
}

// Types returns the type keys in table order.
func (t *ResourceTable) Types() []ResourceKey {
	keys := make([]ResourceKey, 0, t.types.Len())
	for el := t.types.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Key.(ResourceKey))
	}
	return keys
}

// Resources returns the resources of one type in table order.
func (t *ResourceTable) Resources(typ ResourceKey) []*Resource {
	v, ok := t.types.Get(typ)
	if !ok {
		return nil
	}
	ids := v.(*orderedmap.OrderedMap)
	out := make([]*Resource, 0, ids.Len())
	for el := ids.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*Resource))
	}
	return out
}

// Lookup finds the resource with the given type and ID.
func (t *ResourceTable) Lookup(typ ResourceKey, id ResourceKey) (*Resource, error) {
	v, ok := t.types.Get(typ)
	if !ok {
		return nil, fmt.Errorf("no resources of type %s", typ)
	}
	res, ok := v.(*orderedmap.OrderedMap).Get(id)
	if !ok {
		return nil, fmt.Errorf("no resource of type %s with ID %s", typ, id)
	}
	return res.(*Resource), nil
}

// Len returns the total number of resources.
func (t *ResourceTable) Len() int {
	n := 0
	for el := t.types.Front(); el != nil; el = el.Next() {
		n += el.Value.(*orderedmap.OrderedMap).Len()
	}
	return n
}

// Each calls fn for every resource in table order and stops at the first error.
func (t *ResourceTable) Each(fn func(res *Resource) error) error {
	for el := t.types.Front(); el != nil; el = el.Next() {
		ids := el.Value.(*orderedmap.OrderedMap)
		for idEl := ids.Front(); idEl != nil; idEl = idEl.Next() {
			if err := fn(idEl.Value.(*Resource)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *ResourceTable) add(res *Resource, entryOff int64, logger *log.Logger) {
	var ids *orderedmap.OrderedMap
	if v, ok := t.types.Get(res.Type); ok {
		ids = v.(*orderedmap.OrderedMap)
	} else {
		ids = orderedmap.NewOrderedMap()
		t.types.Set(res.Type, ids)
	}
	if _, dup := ids.Get(res.ID); dup {
		t.Duplicates = append(t.Duplicates, Duplicate{Type: res.Type, ID: res.ID, EntryOffset: entryOff})
		logger.Printf("duplicate resource %s at table entry 0x%x; keeping the later entry", res, entryOff)
	}
	ids.Set(res.ID, res)
}

// tableReader walks the in-memory copy of the resource table.
type tableReader struct {
	buf  []byte
	pos  int
	base int64
}

func (tr *tableReader) u16() (uint16, error) {
	if tr.pos+2 > len(tr.buf) {
		return 0, corrupt(tr.base+int64(tr.pos), "resource table truncated", nil)
	}
	v := binary.LittleEndian.Uint16(tr.buf[tr.pos:])
	tr.pos += 2
	return v, nil
}

func (tr *tableReader) skip(n int) error {
	if tr.pos+n > len(tr.buf) {
		return corrupt(tr.base+int64(tr.pos), "resource table truncated", nil)
	}
	tr.pos += n
	return nil
}

// name decodes the length-prefixed string at off, relative to the table start.
func (tr *tableReader) name(off uint16) (string, error) {
	start := int(off)
	if start >= len(tr.buf) {
		return "", corrupt(tr.base+int64(start), "resource name offset outside the resource table", off)
	}
	n := int(tr.buf[start])
	if start+1+n > len(tr.buf) {
		return "", corrupt(tr.base+int64(start), "resource name runs past the resource table", n)
	}
	raw := tr.buf[start+1 : start+1+n]
	// Old resource compilers copied names out of uninitialized buffers, so
	// anything after a NUL is garbage.
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	return decodeText(raw)
}

func (tr *tableReader) key(raw uint16, isType bool) (ResourceKey, error) {
	if raw&integerKeyFlag == 0 {
		name, err := tr.name(raw)
		if err != nil {
			return ResourceKey{}, err
		}
		return NameKey(name), nil
	}
	n := raw &^ integerKeyFlag
	if isType {
		return TypeKey(ResourceType(n)), nil
	}
	return IDKey(n), nil
}

// decodeText decodes 8-bit text in the Windows ANSI code page.
func decodeText(raw []byte) (string, error) {
	out, err := charmap.Windows1252.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// readResourceTable decodes the table at start. Names must fall in [start, end).
func readResourceTable(r io.ReaderAt, start, end, fileSize int64, logger *log.Logger) (*ResourceTable, error) {
	if end <= start || end > fileSize {
		end = fileSize
	}
	if end-start > maxResourceTableSz {
		end = start + maxResourceTableSz
	}
	if !withinBounds(start, 2, fileSize) || end-start < 2 {
		return nil, corrupt(start, "resource table beyond end of file", nil)
	}

	buf := make([]byte, end-start)
	if _, err := r.ReadAt(buf, start); err != nil {
		return nil, corrupt(start, "reading resource table: "+err.Error(), nil)
	}
	tr := &tableReader{buf: buf, base: start}

	rawShift, _ := tr.u16()
	table := emptyResourceTable()
	table.Offset = start
	table.End = end
	table.RawShiftCount = rawShift
	// Some linkers wrote the shift as a byte and left junk in the high byte.
	table.ShiftCount = rawShift & 0x00ff
	if table.ShiftCount > maxShiftCount {
		return nil, corrupt(start, "resource alignment shift count out of range", table.ShiftCount)
	}

	for {
		rawType, err := tr.u16()
		if err != nil {
			return nil, err
		}
		if rawType == 0 {
			break
		}
		typ, err := tr.key(rawType, true)
		if err != nil {
			return nil, err
		}
		count, err := tr.u16()
		if err != nil {
			return nil, err
		}
		if err := tr.skip(4); err != nil {
			return nil, err
		}
		if tr.pos+int(count)*sizeofNameInfo > len(tr.buf) {
			return nil, corrupt(start+int64(tr.pos), fmt.Sprintf("type %s declares more resources than fit in the table", typ), count)
		}

		for i := 0; i < int(count); i++ {
			entryOff := start + int64(tr.pos)
			offset, _ := tr.u16()
			length, _ := tr.u16()
			flags, _ := tr.u16()
			rawID, _ := tr.u16()
			if err := tr.skip(4); err != nil {
				return nil, err
			}
			id, err := tr.key(rawID, false)
			if err != nil {
				return nil, err
			}
			table.add(&Resource{
				Type:   typ,
				ID:     id,
				Offset: offset,
				Length: length,
				Flags:  ResourceFlags(flags),
				shift:  table.ShiftCount,
				r:      r,
				limit:  fileSize,
			}, entryOff, logger)
		}
	}
	return table, nil
}
