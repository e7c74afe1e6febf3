/*Copyright (C) 2022 Mandiant, Inc. All Rights Reserved.*/

// Package nefile implements access to 16-bit New Executable (NE) files and
// the resources stored in them.
package nefile

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

// Options adjusts how a file is decoded.
type Options struct {
	// Logger receives warnings about non-fatal oddities such as duplicate
	// resource IDs. Nil discards them.
	Logger *log.Logger
}

// A File is an opened NE file. The stub header, NE header and resource table
// are decoded when the file is opened; resource data is read on demand.
type File struct {
	name   string
	r      io.ReaderAt
	closer io.Closer
	size   int64

	stub      StubHeader
	header    *NEHeader
	resources *ResourceTable
}

// Open opens the named file.
// The caller must call f.Close when the file is no longer needed.
func Open(name string) (*File, error) {
	return OpenWithOptions(name, Options{})
}

// OpenWithOptions is Open with decoding options.
func OpenWithOptions(name string, opts Options) (*File, error) {
	r, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	fi, err := r.Stat()
	if err != nil {
		r.Close()
		return nil, err
	}
	f, err := newFile(r, fi.Size(), opts)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	f.name = name
	f.closer = r
	return f, nil
}

// NewFile decodes an NE file from r, which holds size bytes. The caller keeps
// ownership of r and must keep it usable while resources are being read.
func NewFile(r io.ReaderAt, size int64) (*File, error) {
	return newFile(r, size, Options{})
}

// NewFileWithOptions is NewFile with decoding options.
func NewFileWithOptions(r io.ReaderAt, size int64, opts Options) (*File, error) {
	return newFile(r, size, opts)
}

func newFile(r io.ReaderAt, size int64, opts Options) (*File, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	stub, err := readStubHeader(r, size)
	if err != nil {
		return nil, err
	}
	header, err := readNEHeader(r, int64(stub.NEHeaderOffset), size)
	if err != nil {
		return nil, err
	}

	resources := emptyResourceTable()
	if header.HasResourceTable() {
		end := size
		if header.ResidentNameTableOffset > header.ResourceTableOffset {
			end = header.ResidentNameTableStart()
		}
		resources, err = readResourceTable(r, header.ResourceTableStart(), end, size, logger)
		if err != nil {
			return nil, err
		}
	}

	return &File{
		r:         r,
		size:      size,
		stub:      stub,
		header:    header,
		resources: resources,
	}, nil
}

// Close releases the underlying file if it was opened by Open.
func (f *File) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}

// Name returns the path the file was opened from, or "" for NewFile.
func (f *File) Name() string {
	return f.name
}

// BaseName returns the final element of the file's path.
func (f *File) BaseName() string {
	if f.name == "" {
		return ""
	}
	return filepath.Base(f.name)
}

// Size returns the size of the file in bytes.
func (f *File) Size() int64 {
	return f.size
}

// Stub returns the DOS stub header.
func (f *File) Stub() StubHeader {
	return f.stub
}

// Header returns the NE header. The same value is returned on every call.
func (f *File) Header() *NEHeader {
	return f.header
}

// Resources returns the resource table. A file without resources has an
// empty table.
func (f *File) Resources() *ResourceTable {
	return f.resources
}
