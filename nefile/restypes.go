/*Copyright (C) 2022 Mandiant, Inc. All Rights Reserved.*/

package nefile

import (
	"fmt"
	"strconv"
	"strings"
)

// ResourceType is a predefined resource type number.
type ResourceType uint16

const (
	RT_CURSOR       ResourceType = 1
	RT_BITMAP       ResourceType = 2
	RT_ICON         ResourceType = 3
	RT_MENU         ResourceType = 4
	RT_DIALOG       ResourceType = 5
	RT_STRING       ResourceType = 6
	RT_FONTDIR      ResourceType = 7
	RT_FONT         ResourceType = 8
	RT_ACCELERATOR  ResourceType = 9
	RT_RCDATA       ResourceType = 10
	RT_MESSAGETABLE ResourceType = 11
	RT_GROUP_CURSOR ResourceType = 12
	// There is no type 13.
	RT_GROUP_ICON   ResourceType = 14
	RT_NAMETABLE    ResourceType = 15
	RT_VERSION      ResourceType = 16
	RT_DLGINCLUDE   ResourceType = 17
)

// knownTypes is never modified after initialization.
var knownTypes = map[ResourceType]string{
	RT_CURSOR:       "RT_CURSOR",
	RT_BITMAP:       "RT_BITMAP",
	RT_ICON:         "RT_ICON",
	RT_MENU:         "RT_MENU",
	RT_DIALOG:       "RT_DIALOG",
	RT_STRING:       "RT_STRING",
	RT_FONTDIR:      "RT_FONTDIR",
	RT_FONT:         "RT_FONT",
	RT_ACCELERATOR:  "RT_ACCELERATOR",
	RT_RCDATA:       "RT_RCDATA",
	RT_MESSAGETABLE: "RT_MESSAGETABLE",
	RT_GROUP_CURSOR: "RT_GROUP_CURSOR",
	RT_GROUP_ICON:   "RT_GROUP_ICON",
	RT_NAMETABLE:    "RT_NAMETABLE",
	RT_VERSION:      "RT_VERSION",
	RT_DLGINCLUDE:   "RT_DLGINCLUDE",
}

func (t ResourceType) String() string {
	if name, ok := knownTypes[t]; ok {
		return name
	}
	return strconv.Itoa(int(t))
}

// Known reports whether t is one of the predefined types.
func (t ResourceType) Known() bool {
	_, ok := knownTypes[t]
	return ok
}

// ParseResourceType accepts "RT_ICON", "ICON" (case-insensitive) or a number.
func ParseResourceType(s string) (ResourceType, error) {
	s = strings.TrimSpace(s)
	upper := strings.ToUpper(s)
	for t, name := range knownTypes {
		if upper == name || "RT_"+upper == name {
			return t, nil
		}
	}
	n, err := strconv.ParseUint(s, 0, 15)
	if err != nil {
		return 0, fmt.Errorf("unknown resource type %q", s)
	}
	return ResourceType(n), nil
}

// KeyKind says which variant a ResourceKey holds.
type KeyKind uint8

const (
	KeyNumeric KeyKind = iota // an integer not in the predefined type set, or any integer ID
	KeyKnown                  // a predefined resource type
	KeyNamed                  // a name string
)

// ResourceKey identifies a resource type or a resource ID. It is comparable
// and canonical: a type number that matches a predefined type is always
// stored as KeyKnown, so keys built with TypeKey compare equal to decoded ones.
type ResourceKey struct {
	Kind KeyKind
	ID   uint16
	Name string
}

// TypeKey returns the canonical key for a numeric type.
func TypeKey(t ResourceType) ResourceKey {
	if t.Known() {
		return ResourceKey{Kind: KeyKnown, ID: uint16(t)}
	}
	return ResourceKey{Kind: KeyNumeric, ID: uint16(t)}
}

// IDKey returns the key for a numeric resource ID.
func IDKey(id uint16) ResourceKey {
	return ResourceKey{Kind: KeyNumeric, ID: id}
}

// NameKey returns the key for a named type or resource.
func NameKey(name string) ResourceKey {
	return ResourceKey{Kind: KeyNamed, Name: name}
}

// IsNamed reports whether the key is a name string.
func (k ResourceKey) IsNamed() bool { return k.Kind == KeyNamed }

// Type returns the predefined type held by the key, if any.
func (k ResourceKey) Type() (ResourceType, bool) {
	if k.Kind != KeyKnown {
		return 0, false
	}
	return ResourceType(k.ID), true
}

// Number returns the integer held by the key, if it holds one.
func (k ResourceKey) Number() (uint16, bool) {
	if k.Kind == KeyNamed {
		return 0, false
	}
	return k.ID, true
}

func (k ResourceKey) String() string {
	switch k.Kind {
	case KeyKnown:
		return ResourceType(k.ID).String()
	case KeyNamed:
		return k.Name
	}
	return strconv.Itoa(int(k.ID))
}

// MarshalText lets keys appear as JSON object keys and strings.
func (k ResourceKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ResourceFlags are the per-resource memory flags. They only matter to a 16-bit loader.
type ResourceFlags uint16

const (
	ResourceMoveable ResourceFlags = 0x0010
	ResourcePure     ResourceFlags = 0x0020
	ResourcePreload  ResourceFlags = 0x0040
	// The high nibble is the discard priority.
	resourceDiscardMask ResourceFlags = 0xf000
)

// DiscardPriority returns the discard priority held in the top four bits.
func (f ResourceFlags) DiscardPriority() uint8 {
	return uint8((f & resourceDiscardMask) >> 12)
}

func (f ResourceFlags) String() string {
	var names []string
	if f&ResourceMoveable != 0 {
		names = append(names, "MOVEABLE")
	}
	if f&ResourcePure != 0 {
		names = append(names, "PURE")
	}
	if f&ResourcePreload != 0 {
		names = append(names, "PRELOAD")
	}
	if p := f.DiscardPriority(); p != 0 {
		names = append(names, fmt.Sprintf("DISCARDABLE(%d)", p))
	}
	if len(names) == 0 {
		return "0"
	}
	return strings.Join(names, "|")
}
