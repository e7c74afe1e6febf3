/*Copyright (C) 2022 Mandiant, Inc. All Rights Reserved.*/

package nefile

import (
	"encoding/binary"
	"io"
)

const (
	sizeofStubHeader   = 0x40
	offsetStubLfarlc   = 0x18
	offsetStubLfanew   = 0x3c
	stubMagic          = 0x5a4d // MZ
	stubMagicSwapped   = 0x4d5a // ZM
	minNewHeaderLfarlc = 0x40
)

// StubHeader is the part of the DOS (MZ) header that leads to the NE header.
type StubHeader struct {
	Magic            uint16
	RelocTableOffset uint16 // e_lfarlc
	NEHeaderOffset   uint32 // e_lfanew
}

// HasNewHeader reports whether the relocation table offset advertises an
// extended header. Windows loaders require e_lfarlc >= 0x40, but some
// linkers leave it zero, so this is a hint rather than a requirement.
func (s StubHeader) HasNewHeader() bool {
	return s.RelocTableOffset >= minNewHeaderLfarlc
}

func readStubHeader(r io.ReaderAt, size int64) (StubHeader, error) {
	var raw [sizeofStubHeader]byte
	if size < sizeofStubHeader {
		return StubHeader{}, &FormatError{Off: 0, Msg: "file smaller than a DOS header", Val: size, Kind: ErrUnrecognizedFile}
	}
	if _, err := r.ReadAt(raw[:], 0); err != nil {
		return StubHeader{}, &FormatError{Off: 0, Msg: "reading DOS header: " + err.Error(), Kind: ErrUnrecognizedFile}
	}

	stub := StubHeader{
		Magic:            binary.LittleEndian.Uint16(raw[0:]),
		RelocTableOffset: binary.LittleEndian.Uint16(raw[offsetStubLfarlc:]),
		NEHeaderOffset:   binary.LittleEndian.Uint32(raw[offsetStubLfanew:]),
	}
	if stub.Magic != stubMagic && stub.Magic != stubMagicSwapped {
		return StubHeader{}, &FormatError{Off: 0, Msg: "bad DOS signature", Val: stub.Magic, Kind: ErrUnrecognizedFile}
	}

	// A zero or out-of-range e_lfanew means there is no new-style header at all.
	if stub.NEHeaderOffset < 4 || !withinBounds(stub.NEHeaderOffset, sizeofNEHeader, size) {
		return StubHeader{}, &NotNEError{Off: int64(stub.NEHeaderOffset), Format: "DOS"}
	}
	return stub, nil
}
