/*Copyright (C) 2022 Mandiant, Inc. All Rights Reserved.*/

// Package resources rebuilds NE resources into standalone files.
//
// Most resource types are stored without the file header their standard
// format needs: bitmaps lack a BITMAPFILEHEADER and icons are split into a
// group directory plus one resource per image. A Reconstructor restores the
// missing structure. A Registry picks the reconstructor for a resource type.
package resources

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mandiant/NEFile/nefile"
)

// ErrInGroup is returned for an icon or cursor image that is exported as
// part of a group resource rather than on its own.
var ErrInGroup = errors.New("exported as part of a group")

// Output is a reconstructed resource. Ext has no leading dot.
type Output struct {
	Data []byte
	Ext  string
}

// Library gives reconstructors access to the other resources in the file.
// *nefile.ResourceTable implements it.
type Library interface {
	Lookup(typ, id nefile.ResourceKey) (*nefile.Resource, error)
	Resources(typ nefile.ResourceKey) []*nefile.Resource
}

// A Reconstructor turns a resource into a standalone file.
type Reconstructor interface {
	Reconstruct(res *nefile.Resource, lib Library) (*Output, error)
}

// Func adapts a function to a Reconstructor.
type Func func(res *nefile.Resource, lib Library) (*Output, error)

func (f Func) Reconstruct(res *nefile.Resource, lib Library) (*Output, error) {
	return f(res, lib)
}

// Registry maps resource types to reconstructors. Types without an entry
// use the fallback, which copies the payload unchanged.
type Registry struct {
	mu       sync.RWMutex
	byType   map[nefile.ResourceKey]Reconstructor
	fallback Reconstructor
}

// NewRegistry returns a registry with no entries and the raw fallback.
func NewRegistry() *Registry {
	return &Registry{
		byType:   make(map[nefile.ResourceKey]Reconstructor),
		fallback: Raw,
	}
}

// DefaultRegistry returns a new registry holding the built-in reconstructors.
// Callers may Register more on the returned value.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(nefile.TypeKey(nefile.RT_GROUP_ICON), IconGroup)
	r.Register(nefile.TypeKey(nefile.RT_ICON), Icon)
	r.Register(nefile.TypeKey(nefile.RT_GROUP_CURSOR), CursorGroup)
	r.Register(nefile.TypeKey(nefile.RT_CURSOR), Cursor)
	r.Register(nefile.TypeKey(nefile.RT_BITMAP), Bitmap)
	r.Register(nefile.TypeKey(nefile.RT_STRING), StringTable)
	r.Register(nefile.TypeKey(nefile.RT_VERSION), VersionInfo)
	return r
}

// Register sets the reconstructor for typ, replacing any earlier one.
func (r *Registry) Register(typ nefile.ResourceKey, rc Reconstructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[typ] = rc
}

// Lookup returns the reconstructor for typ, or the fallback.
func (r *Registry) Lookup(typ nefile.ResourceKey) Reconstructor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rc, ok := r.byType[typ]; ok {
		return rc
	}
	return r.fallback
}

// Reconstruct runs the reconstructor registered for res.Type.
func (r *Registry) Reconstruct(res *nefile.Resource, lib Library) (*Output, error) {
	return r.Lookup(res.Type).Reconstruct(res, lib)
}

func fail(res *nefile.Resource, format string, args ...any) error {
	return &nefile.FormatError{
		Off:  res.FileOffset(),
		Msg:  fmt.Sprintf("%s: %s", res, fmt.Sprintf(format, args...)),
		Kind: nefile.ErrReconstruction,
	}
}
