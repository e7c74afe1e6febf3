/*Copyright (C) 2022 Mandiant, Inc. All Rights Reserved.*/

package resources

import (
	"bytes"
	"encoding/binary"

	"github.com/mandiant/NEFile/nefile"
)

const sizeofHotspot = 4

// groupCursorEntry is the GRPCURSORDIRENTRY. Height counts the XOR bitmap
// and the AND mask, so it is twice the cursor height.
type groupCursorEntry struct {
	Width      uint16
	Height     uint16
	Planes     uint16
	BPP        uint16
	BytesInRes uint32 // includes the hotspot
	ID         uint16
}

func groupCursorEntries(res *nefile.Resource) ([]groupCursorEntry, error) {
	data, err := res.Payload()
	if err != nil {
		return nil, err
	}
	n, raw, err := readGroupDir(res, data, iconDirTypeCursor, sizeofGroupCursorEntry)
	if err != nil {
		return nil, err
	}
	entries := make([]groupCursorEntry, n)
	binary.Read(bytes.NewReader(raw), binary.LittleEndian, entries)
	return entries, nil
}

func cursorDimension(v uint16) uint8 {
	if v >= 256 {
		return 0
	}
	return uint8(v)
}

// CursorGroup rebuilds an RT_GROUP_CURSOR and the RT_CURSOR images it
// names into a .cur file. Each RT_CURSOR starts with its hotspot, which
// moves into the file's directory entry.
var CursorGroup = Func(func(res *nefile.Resource, lib Library) (*Output, error) {
	entries, err := groupCursorEntries(res)
	if err != nil {
		return nil, err
	}
	images := make([]image, 0, len(entries))
	for _, e := range entries {
		if e.BytesInRes <= sizeofHotspot {
			return nil, fail(res, "cursor %d declares only 0x%x bytes", e.ID, e.BytesInRes)
		}
		data, err := member(res, lib, nefile.RT_CURSOR, e.ID, e.BytesInRes)
		if err != nil {
			return nil, err
		}
		images = append(images, image{
			entry: iconDirEntry{
				Width:  cursorDimension(e.Width),
				Height: cursorDimension(e.Height / 2),
				Planes: binary.LittleEndian.Uint16(data[0:]),
				BPP:    binary.LittleEndian.Uint16(data[2:]),
			},
			data: data[sizeofHotspot:],
		})
	}
	return &Output{Data: writeIconFile(iconDirTypeCursor, images), Ext: "cur"}, nil
})

func inCursorGroup(lib Library, id nefile.ResourceKey) bool {
	n, ok := id.Number()
	if !ok {
		return false
	}
	for _, group := range lib.Resources(nefile.TypeKey(nefile.RT_GROUP_CURSOR)) {
		entries, err := groupCursorEntries(group)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.ID == n {
				return true
			}
		}
	}
	return false
}

// hasHotspot reports whether data starts with a hotspot rather than
// directly with a DIB header.
func hasHotspot(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	switch binary.LittleEndian.Uint32(data) {
	case sizeofCoreHeader, sizeofInfoHeader, 108, 124:
		return false
	}
	return true
}

// Cursor exports an RT_CURSOR that no group refers to as a single-image
// .cur. Cursors named by a group return ErrInGroup.
var Cursor = Func(func(res *nefile.Resource, lib Library) (*Output, error) {
	if inCursorGroup(lib, res.ID) {
		return nil, ErrInGroup
	}
	data, err := res.Payload()
	if err != nil {
		return nil, err
	}
	var hotX, hotY uint16
	if hasHotspot(data) {
		hotX = binary.LittleEndian.Uint16(data[0:])
		hotY = binary.LittleEndian.Uint16(data[2:])
		data = data[sizeofHotspot:]
	}
	img, err := standaloneImage(res, data)
	if err != nil {
		return nil, err
	}
	img.entry.ColorCount = 0
	img.entry.Planes = hotX
	img.entry.BPP = hotY
	return &Output{Data: writeIconFile(iconDirTypeCursor, []image{img}), Ext: "cur"}, nil
})
