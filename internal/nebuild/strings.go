/*Copyright (C) 2022 Mandiant, Inc. All Rights Reserved.*/

package nebuild

import (
	"bytes"
	"encoding/binary"
)

// StringTable returns an RT_STRING block. Empty slots get a zero length.
func StringTable(slots [16]string) []byte {
	var out bytes.Buffer
	for _, s := range slots {
		out.Write(pascal(s))
	}
	return out.Bytes()
}

// VersionNode is one node of a 16-bit VS_VERSIONINFO tree.
type VersionNode struct {
	Key      string
	Value    []byte
	Children []VersionNode
}

func pad4(b *bytes.Buffer, start int) {
	for (b.Len()-start)%4 != 0 {
		b.WriteByte(0)
	}
}

// Encode lays the node out as wLength, wValueLength, key, padding, value,
// padding, children.
func (n VersionNode) Encode() []byte {
	var out bytes.Buffer
	out.Write([]byte{0, 0, 0, 0})
	out.WriteString(n.Key)
	out.WriteByte(0)
	pad4(&out, 0)
	out.Write(n.Value)
	for _, c := range n.Children {
		pad4(&out, 0)
		out.Write(c.Encode())
	}
	data := out.Bytes()
	binary.LittleEndian.PutUint16(data[0:], uint16(len(data)))
	binary.LittleEndian.PutUint16(data[2:], uint16(len(n.Value)))
	return data
}

// VersionString returns a NUL-terminated string value.
func VersionString(s string) []byte {
	return append([]byte(s), 0)
}

// FixedFileInfo returns a VS_FIXEDFILEINFO for the given versions, each as
// four 16-bit parts most significant first.
func FixedFileInfo(file, product [4]uint16) []byte {
	var out bytes.Buffer
	must(binary.Write(&out, binary.LittleEndian, [13]uint32{
		0xfeef04bd,
		0x00010000,
		uint32(file[0])<<16 | uint32(file[1]),
		uint32(file[2])<<16 | uint32(file[3]),
		uint32(product[0])<<16 | uint32(product[1]),
		uint32(product[2])<<16 | uint32(product[3]),
		0x3f,       // flags mask
		0,          // flags
		0x00000001, // VOS_DOS
		0x00000001, // VFT_APP
		0,
		0,
		0,
	}), "writing fixed file info")
	return out.Bytes()
}

// Translation returns a VarFileInfo Translation value.
func Translation(pairs ...[2]uint16) []byte {
	var out bytes.Buffer
	for _, p := range pairs {
		must(binary.Write(&out, binary.LittleEndian, p), "writing translation")
	}
	return out.Bytes()
}
