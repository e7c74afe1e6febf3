/*Copyright (C) 2022 Mandiant, Inc. All Rights Reserved.*/

package nefile

import (
	"errors"
	"fmt"
)

var (
	// ErrUnrecognizedFile is returned when the file does not start with an MZ stub.
	ErrUnrecognizedFile = errors.New("unrecognized file: no MZ stub")
	// ErrNotNEFormat is returned when the stub is valid but does not lead to an NE header.
	// PE, LE/LX and plain DOS programs all end up here.
	ErrNotNEFormat = errors.New("not a New Executable")
	// ErrCorruptTable is returned when a header or table field resolves outside the file
	// or outside the table it belongs to.
	ErrCorruptTable = errors.New("truncated or corrupt table")
	// ErrOutOfBoundsResource is returned when a resource's data range exceeds the file.
	ErrOutOfBoundsResource = errors.New("resource data out of bounds")
	// ErrReconstruction is returned when a resource cannot be rebuilt into a valid output.
	ErrReconstruction = errors.New("resource reconstruction failed")
)

// FormatError describes a decoding failure at a file offset. Kind is one of the
// sentinel errors above, so callers can test it with errors.Is.
type FormatError struct {
	Off  int64
	Msg  string
	Val  any
	Kind error
}

func (e *FormatError) Error() string {
	msg := e.Msg
	if e.Val != nil {
		msg += fmt.Sprintf(" '%v'", e.Val)
	}
	msg += fmt.Sprintf(" at offset 0x%x", e.Off)
	if e.Kind != nil {
		return e.Kind.Error() + ": " + msg
	}
	return msg
}

func (e *FormatError) Unwrap() error { return e.Kind }

func corrupt(off int64, msg string, val any) error {
	return &FormatError{Off: off, Msg: msg, Val: val, Kind: ErrCorruptTable}
}

// NotNEError reports the format found where the NE header was expected.
type NotNEError struct {
	Off    int64
	Format string // "PE", "LE", "LX" or "DOS"
}

func (e *NotNEError) Error() string {
	switch e.Format {
	case "PE":
		return fmt.Sprintf("%v: found a Portable Executable header at offset 0x%x", ErrNotNEFormat, e.Off)
	case "LE", "LX":
		return fmt.Sprintf("%v: found a linear executable (%s) header at offset 0x%x", ErrNotNEFormat, e.Format, e.Off)
	}
	return fmt.Sprintf("%v: MZ stub has no NE header (plain DOS program, packed or corrupt)", ErrNotNEFormat)
}

func (e *NotNEError) Is(target error) bool { return target == ErrNotNEFormat }
