/*Copyright (C) 2022 Mandiant, Inc. All Rights Reserved.*/

package resources

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/mandiant/NEFile/nefile"
)

const (
	versionInfoKey      = "VS_VERSION_INFO"
	fixedFileInfoSig    = 0xfeef04bd
	sizeofFixedFileInfo = 52
)

// FixedFileInfo is the decoded VS_FIXEDFILEINFO.
type FixedFileInfo struct {
	FileVersion    string `json:"file_version"`
	ProductVersion string `json:"product_version"`
	FileFlagsMask  uint32 `json:"file_flags_mask"`
	FileFlags      uint32 `json:"file_flags"`
	FileOS         uint32 `json:"file_os"`
	FileType       uint32 `json:"file_type"`
	FileSubtype    uint32 `json:"file_subtype"`
	FileDate       uint64 `json:"file_date"`
}

type rawFixedFileInfo struct {
	Signature        uint32
	StrucVersion     uint32
	FileVersionMS    uint32
	FileVersionLS    uint32
	ProductVersionMS uint32
	ProductVersionLS uint32
	FileFlagsMask    uint32
	FileFlags        uint32
	FileOS           uint32
	FileType         uint32
	FileSubtype      uint32
	FileDateMS       uint32
	FileDateLS       uint32
}

func versionString(ms, ls uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", ms>>16, ms&0xffff, ls>>16, ls&0xffff)
}

// StringPair is one key/value string of a StringFileInfo table.
type StringPair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// VersionStrings is one language block of StringFileInfo, keyed like
// "040904E4" (language then code page, in hex).
type VersionStrings struct {
	Language string       `json:"language"`
	Strings  []StringPair `json:"strings"`
}

// Translation is a language and code page pair from VarFileInfo.
type Translation struct {
	Language uint16 `json:"language"`
	CodePage uint16 `json:"code_page"`
}

// Version is a decoded RT_VERSION resource.
type Version struct {
	Fixed        *FixedFileInfo   `json:"fixed,omitempty"`
	StringTables []VersionStrings `json:"string_file_info,omitempty"`
	Translations []Translation    `json:"translations,omitempty"`
}

// versionNode is one node of the VS_VERSIONINFO tree. Offsets index the
// resource payload; nodes and values are aligned to 4 bytes from its start.
type versionNode struct {
	key      string
	value    []byte
	children []byte
	base     int // payload offset of children
}

func align4(v int) int { return (v + 3) &^ 3 }

// readVersionNode decodes the node at off in data and returns it with the
// offset of the following sibling.
func readVersionNode(data []byte, off, end int) (*versionNode, int, error) {
	if off+4 > end {
		return nil, 0, fmt.Errorf("version node at 0x%x truncated", off)
	}
	length := int(binary.LittleEndian.Uint16(data[off:]))
	valueLength := int(binary.LittleEndian.Uint16(data[off+2:]))
	nodeEnd := off + length
	if length < 4 || nodeEnd > end {
		return nil, 0, fmt.Errorf("version node at 0x%x has bad length 0x%x", off, length)
	}
	nul := bytes.IndexByte(data[off+4:nodeEnd], 0)
	if nul < 0 {
		return nil, 0, fmt.Errorf("version node at 0x%x has an unterminated key", off)
	}
	n := &versionNode{key: decodeANSI(data[off+4 : off+4+nul])}

	valueStart := align4(off + 4 + nul + 1)
	if valueStart+valueLength > nodeEnd {
		return nil, 0, fmt.Errorf("value of %q runs past its node", n.key)
	}
	n.value = data[valueStart : valueStart+valueLength]
	n.base = align4(valueStart + valueLength)
	if n.base < nodeEnd {
		n.children = data[n.base:nodeEnd]
	}
	return n, align4(nodeEnd), nil
}

// eachChild calls fn for each child of n.
func eachChild(data []byte, n *versionNode, fn func(*versionNode) error) error {
	end := n.base + len(n.children)
	for off := n.base; off+4 <= end; {
		child, next, err := readVersionNode(data, off, end)
		if err != nil {
			return err
		}
		if err := fn(child); err != nil {
			return err
		}
		off = next
	}
	return nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return decodeANSI(b)
}

// DecodeVersionInfo decodes a 16-bit VS_VERSIONINFO resource.
func DecodeVersionInfo(res *nefile.Resource) (*Version, error) {
	data, err := res.Payload()
	if err != nil {
		return nil, err
	}
	root, _, err := readVersionNode(data, 0, len(data))
	if err != nil {
		return nil, fail(res, "%v", err)
	}
	if root.key != versionInfoKey {
		return nil, fail(res, "root key is %q, want %q", root.key, versionInfoKey)
	}

	v := &Version{}
	if len(root.value) > 0 {
		if len(root.value) < sizeofFixedFileInfo {
			return nil, fail(res, "fixed file info truncated (0x%x bytes)", len(root.value))
		}
		var raw rawFixedFileInfo
		binary.Read(bytes.NewReader(root.value), binary.LittleEndian, &raw)
		if raw.Signature != fixedFileInfoSig {
			return nil, fail(res, "bad fixed file info signature 0x%08x", raw.Signature)
		}
		v.Fixed = &FixedFileInfo{
			FileVersion:    versionString(raw.FileVersionMS, raw.FileVersionLS),
			ProductVersion: versionString(raw.ProductVersionMS, raw.ProductVersionLS),
			FileFlagsMask:  raw.FileFlagsMask,
			FileFlags:      raw.FileFlags,
			FileOS:         raw.FileOS,
			FileType:       raw.FileType,
			FileSubtype:    raw.FileSubtype,
			FileDate:       uint64(raw.FileDateMS)<<32 | uint64(raw.FileDateLS),
		}
	}

	err = eachChild(data, root, func(block *versionNode) error {
		switch block.key {
		case "StringFileInfo":
			return eachChild(data, block, func(lang *versionNode) error {
				table := VersionStrings{Language: lang.key, Strings: []StringPair{}}
				err := eachChild(data, lang, func(s *versionNode) error {
					table.Strings = append(table.Strings, StringPair{Key: s.key, Value: cString(s.value)})
					return nil
				})
				v.StringTables = append(v.StringTables, table)
				return err
			})
		case "VarFileInfo":
			return eachChild(data, block, func(vr *versionNode) error {
				if vr.key != "Translation" {
					return nil
				}
				for i := 0; i+4 <= len(vr.value); i += 4 {
					v.Translations = append(v.Translations, Translation{
						Language: binary.LittleEndian.Uint16(vr.value[i:]),
						CodePage: binary.LittleEndian.Uint16(vr.value[i+2:]),
					})
				}
				return nil
			})
		}
		// unknown blocks are skipped by their length
		return nil
	})
	if err != nil {
		return nil, fail(res, "%v", err)
	}
	return v, nil
}

// VersionInfo exports an RT_VERSION resource as JSON.
var VersionInfo = Func(func(res *nefile.Resource, _ Library) (*Output, error) {
	v, err := DecodeVersionInfo(res)
	if err != nil {
		return nil, err
	}
	return jsonOutput(res, v)
})
