/*Copyright (C) 2022 Mandiant, Inc. All Rights Reserved.*/

// Package export writes every resource of an NE file out as a standalone file.
package export

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/mandiant/NEFile/nefile"
	"github.com/mandiant/NEFile/nefile/resources"
)

// Writer receives reconstructed resources.
type Writer interface {
	WriteResource(name string, data []byte) error
}

// DirWriter writes each resource to a file in Dir.
type DirWriter struct {
	Dir string
}

// NewDirWriter creates dir if needed.
func NewDirWriter(dir string) (*DirWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DirWriter{Dir: dir}, nil
}

func (d *DirWriter) WriteResource(name string, data []byte) error {
	return os.WriteFile(filepath.Join(d.Dir, name), data, 0o644)
}

// Options control an export. The zero value exports everything with the
// default reconstructors.
type Options struct {
	Registry *resources.Registry  // nil uses resources.DefaultRegistry
	Types    []nefile.ResourceKey // only these types; empty means all
	Raw      bool                 // copy payloads unchanged
	Logger   *log.Logger          // nil discards
}

// Failure is a resource that could not be exported.
type Failure struct {
	Type  nefile.ResourceKey `json:"type"`
	ID    nefile.ResourceKey `json:"id"`
	Name  string             `json:"name,omitempty"`
	Err   error              `json:"-"`
	Error string             `json:"error"`
}

// Skip is a resource left out on purpose.
type Skip struct {
	Type   nefile.ResourceKey `json:"type"`
	ID     nefile.ResourceKey `json:"id"`
	Reason string             `json:"reason"`
}

// Summary reports what an export did. A failed resource does not stop the
// others from being exported.
type Summary struct {
	Source   string    `json:"source"`
	Written  []string  `json:"written"`
	Skipped  []Skip    `json:"skipped,omitempty"`
	Failures []Failure `json:"failures,omitempty"`
}

// Err joins the failures, or returns nil if there were none.
func (s *Summary) Err() error {
	errs := make([]error, 0, len(s.Failures))
	for _, f := range s.Failures {
		errs = append(errs, f.Err)
	}
	return errors.Join(errs...)
}

// sanitize keeps names usable as file names on every platform.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		}
		return '_'
	}, s)
}

// FileName returns the output name for a resource: {source}-{TYPE}-{id}.{ext}
func FileName(source string, typ, id nefile.ResourceKey, ext string) string {
	return fmt.Sprintf("%s-%s-%s.%s", source, sanitize(typ.String()), sanitize(id.String()), ext)
}

func wanted(types []nefile.ResourceKey, typ nefile.ResourceKey) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if t == typ {
			return true
		}
	}
	return false
}

// Export reconstructs every resource of f in table order and hands it to w.
// sourceName prefixes the output names; it defaults to f's base name.
func Export(f *nefile.File, sourceName string, w Writer, opts Options) *Summary {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	registry := opts.Registry
	if registry == nil {
		registry = resources.DefaultRegistry()
	}
	if sourceName == "" {
		sourceName = f.BaseName()
	}
	if sourceName == "" {
		sourceName = "resource"
	}
	sourceName = sanitize(sourceName)

	summary := &Summary{Source: sourceName, Written: []string{}}
	table := f.Resources()
	fail := func(res *nefile.Resource, name string, err error) {
		logger.Printf("%s: %s: %v", sourceName, res, err)
		summary.Failures = append(summary.Failures, Failure{Type: res.Type, ID: res.ID, Name: name, Err: err, Error: err.Error()})
	}

	table.Each(func(res *nefile.Resource) error {
		if !wanted(opts.Types, res.Type) {
			summary.Skipped = append(summary.Skipped, Skip{Type: res.Type, ID: res.ID, Reason: "type filtered"})
			return nil
		}

		rc := registry.Lookup(res.Type)
		if opts.Raw {
			rc = resources.Raw
		}
		out, err := rc.Reconstruct(res, table)
		if errors.Is(err, resources.ErrInGroup) {
			summary.Skipped = append(summary.Skipped, Skip{Type: res.Type, ID: res.ID, Reason: err.Error()})
			return nil
		}
		if err != nil {
			fail(res, "", err)
			return nil
		}

		name := FileName(sourceName, res.Type, res.ID, out.Ext)
		if err := w.WriteResource(name, out.Data); err != nil {
			fail(res, name, err)
			return nil
		}
		summary.Written = append(summary.Written, name)
		return nil
	})
	return summary
}
