/*Copyright (C) 2022 Mandiant, Inc. All Rights Reserved.*/

package resources

import (
	"bytes"
	"encoding/binary"

	"github.com/mandiant/NEFile/nefile"
)

const (
	sizeofIconDir          = 6
	sizeofGroupIconEntry   = 14
	sizeofGroupCursorEntry = 14
	sizeofIconDirEntry     = 16

	iconDirTypeIcon   = 1
	iconDirTypeCursor = 2
)

type iconDir struct {
	Reserved uint16
	Type     uint16
	Count    uint16
}

// groupIconEntry is GRPICONDIRENTRY: an ICONDIRENTRY whose trailing image
// offset is replaced by the resource ID of the RT_ICON holding the image.
type groupIconEntry struct {
	Width      uint8
	Height     uint8
	ColorCount uint8
	Reserved   uint8
	Planes     uint16
	BPP        uint16
	BytesInRes uint32
	ID         uint16
}

// iconDirEntry is the ICONDIRENTRY of .ico and .cur files. For cursors
// Planes and BPP hold the hotspot.
type iconDirEntry struct {
	Width       uint8
	Height      uint8
	ColorCount  uint8
	Reserved    uint8
	Planes      uint16
	BPP         uint16
	BytesInRes  uint32
	ImageOffset uint32
}

type image struct {
	entry iconDirEntry
	data  []byte
}

// writeIconFile lays out an .ico or .cur file: directory, entries, then
// each image in directory order.
func writeIconFile(typ uint16, images []image) []byte {
	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, iconDir{Type: typ, Count: uint16(len(images))})
	offset := uint32(sizeofIconDir + sizeofIconDirEntry*len(images))
	for _, img := range images {
		e := img.entry
		e.BytesInRes = uint32(len(img.data))
		e.ImageOffset = offset
		binary.Write(&out, binary.LittleEndian, e)
		offset += e.BytesInRes
	}
	for _, img := range images {
		out.Write(img.data)
	}
	return out.Bytes()
}

// readGroupDir validates a group directory and returns its entry count and
// the bytes holding the entries.
func readGroupDir(res *nefile.Resource, data []byte, wantType uint16, entrySize int) (int, []byte, error) {
	if len(data) < sizeofIconDir {
		return 0, nil, fail(res, "group directory truncated")
	}
	var dir iconDir
	binary.Read(bytes.NewReader(data), binary.LittleEndian, &dir)
	if dir.Reserved != 0 || dir.Type != wantType {
		return 0, nil, fail(res, "bad group directory header (reserved %d, type %d)", dir.Reserved, dir.Type)
	}
	n := int(dir.Count)
	if sizeofIconDir+n*entrySize > len(data) {
		return 0, nil, fail(res, "directory declares %d entries but holds %d bytes", n, len(data))
	}
	return n, data[sizeofIconDir : sizeofIconDir+n*entrySize], nil
}

func groupIconEntries(res *nefile.Resource) ([]groupIconEntry, error) {
	data, err := res.Payload()
	if err != nil {
		return nil, err
	}
	n, raw, err := readGroupDir(res, data, iconDirTypeIcon, sizeofGroupIconEntry)
	if err != nil {
		return nil, err
	}
	entries := make([]groupIconEntry, n)
	binary.Read(bytes.NewReader(raw), binary.LittleEndian, entries)
	return entries, nil
}

// member looks up the image resource an entry points at and cuts it to
// the declared size, dropping the alignment padding after it.
func member(res *nefile.Resource, lib Library, typ nefile.ResourceType, id uint16, declared uint32) ([]byte, error) {
	img, err := lib.Lookup(nefile.TypeKey(typ), nefile.IDKey(id))
	if err != nil {
		return nil, fail(res, "%v", err)
	}
	data, err := img.Payload()
	if err != nil {
		return nil, fail(res, "reading %s: %v", img, err)
	}
	if declared == 0 || uint64(declared) > uint64(len(data)) {
		return nil, fail(res, "%s declares 0x%x bytes but holds 0x%x", img, declared, len(data))
	}
	return data[:declared], nil
}

// IconGroup rebuilds an RT_GROUP_ICON and the RT_ICON images it names into
// an .ico file.
var IconGroup = Func(func(res *nefile.Resource, lib Library) (*Output, error) {
	entries, err := groupIconEntries(res)
	if err != nil {
		return nil, err
	}
	images := make([]image, 0, len(entries))
	for _, e := range entries {
		data, err := member(res, lib, nefile.RT_ICON, e.ID, e.BytesInRes)
		if err != nil {
			return nil, err
		}
		images = append(images, image{
			entry: iconDirEntry{
				Width:      e.Width,
				Height:     e.Height,
				ColorCount: e.ColorCount,
				Planes:     e.Planes,
				BPP:        e.BPP,
			},
			data: data,
		})
	}
	return &Output{Data: writeIconFile(iconDirTypeIcon, images), Ext: "ico"}, nil
})

// inIconGroup reports whether any RT_GROUP_ICON names id. Groups that do not
// decode are ignored here; they fail on their own.
func inIconGroup(lib Library, id nefile.ResourceKey) bool {
	n, ok := id.Number()
	if !ok {
		return false
	}
	for _, group := range lib.Resources(nefile.TypeKey(nefile.RT_GROUP_ICON)) {
		entries, err := groupIconEntries(group)
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

func dimension(v int32) uint8 {
	if v < 0 {
		v = -v
	}
	if v >= 256 {
		return 0
	}
	return uint8(v)
}

// standaloneImage describes a lone DIB icon image from its header.
func standaloneImage(res *nefile.Resource, data []byte) (image, error) {
	h, err := parseDIBHeader(data)
	if err != nil {
		return image{}, fail(res, "%v", err)
	}
	size := h.iconSize()
	if size > len(data) {
		// the header lied or the mask is missing; keep everything we have
		size = len(data)
	}
	e := iconDirEntry{
		Width:  dimension(h.Width),
		Height: dimension(h.Height / 2),
		Planes: h.Planes,
		BPP:    h.BPP,
	}
	if h.BPP < 8 {
		e.ColorCount = uint8(1 << h.BPP)
	}
	return image{entry: e, data: data[:size]}, nil
}

// Icon exports an RT_ICON that no group refers to as a single-image .ico.
// Icons named by a group return ErrInGroup.
var Icon = Func(func(res *nefile.Resource, lib Library) (*Output, error) {
	if inIconGroup(lib, res.ID) {
		return nil, ErrInGroup
	}
	data, err := res.Payload()
	if err != nil {
		return nil, err
	}
	img, err := standaloneImage(res, data)
	if err != nil {
		return nil, err
	}
	return &Output{Data: writeIconFile(iconDirTypeIcon, []image{img}), Ext: "ico"}, nil
})
