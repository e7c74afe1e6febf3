/*Copyright (C) 2022 Mandiant, Inc. All Rights Reserved.*/
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/profile"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/mandiant/NEFile/export"
	"github.com/mandiant/NEFile/internal/nebuild"
	"github.com/mandiant/NEFile/nefile"
)

func rt(t nefile.ResourceType) nebuild.Key { return nebuild.Int(uint16(t)) }

func sampleExecutable() []byte {
	icon := nebuild.DIB(16, 16, 4, true)
	var slots [16]string
	slots[1] = "Sample string"

	b := nebuild.New()
	b.Add(rt(nefile.RT_ICON), nebuild.Int(1), icon)
	b.Add(rt(nefile.RT_GROUP_ICON), nebuild.Name("APPICON"), nebuild.GroupIcon(nebuild.IconEntry(1, icon)))
	b.Add(rt(nefile.RT_STRING), nebuild.Int(1), nebuild.StringTable(slots))
	b.Add(rt(nefile.RT_VERSION), nebuild.Int(1), nebuild.VersionNode{
		Key:   "VS_VERSION_INFO",
		Value: nebuild.FixedFileInfo([4]uint16{1, 2, 3, 4}, [4]uint16{1, 2, 0, 0}),
		Children: []nebuild.VersionNode{
			{Key: "StringFileInfo", Children: []nebuild.VersionNode{
				{Key: "040904E4", Children: []nebuild.VersionNode{
					{Key: "ProductName", Value: nebuild.VersionString("Sample")},
				}},
			}},
		},
	}.Encode())
	data, _ := b.Build()
	return data
}

func writeSample(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestMainImpl(t *testing.T) {
	defer profile.Start(profile.ProfilePath(t.TempDir()), profile.Quiet).Stop()

	path := writeSample(t, t.TempDir(), "SAMPLE.EXE", sampleExecutable())
	data, err := mainImpl(path)
	if err != nil {
		t.Fatalf("mainImpl failed on %s: %s", path, err)
	}

	if data.Header.Offset != 0x40 {
		t.Errorf("header offset = 0x%x", data.Header.Offset)
	}
	if data.Header.TargetOS != nefile.OSWindows.String() {
		t.Errorf("target OS = %s", data.Header.TargetOS)
	}
	if data.Header.WindowsVersion != "3.10" {
		t.Errorf("windows version = %s", data.Header.WindowsVersion)
	}
	if data.ShiftCount != 4 {
		t.Errorf("shift count = %d", data.ShiftCount)
	}
	if len(data.Resources) != 4 {
		t.Fatalf("got %d resources, want 4", len(data.Resources))
	}
	if data.Resources[1].Type != "RT_GROUP_ICON" || data.Resources[1].ID != "APPICON" {
		t.Errorf("second resource = %+v", data.Resources[1])
	}
	if len(data.Strings) != 1 || data.Strings[0].ID != 1 || data.Strings[0].Text != "Sample string" {
		t.Errorf("strings = %+v", data.Strings)
	}
	if data.Version == nil || data.Version.Fixed == nil || data.Version.Fixed.FileVersion != "1.2.3.4" {
		t.Errorf("version = %+v", data.Version)
	}
	if len(data.Warnings) != 0 {
		t.Errorf("unexpected warnings %v", data.Warnings)
	}
}

func TestMainImplEmbeddedHeader(t *testing.T) {
	sample := sampleExecutable()
	wrapped := append(bytes.Repeat([]byte{0x90}, 0x200), sample[0x40:]...)
	path := writeSample(t, t.TempDir(), "wrapped.bin", wrapped)

	_, err := mainImpl(path)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.Is(err, nefile.ErrUnrecognizedFile) && !errors.Is(err, nefile.ErrNotNEFormat) {
		t.Errorf("unexpected error %v", err)
	}

	offsets, err := nefile.ScanFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(offsets) != 1 || offsets[0] != 0x200 {
		t.Errorf("scan found %v, want [0x200]", offsets)
	}
}

func TestMainImplMissingFile(t *testing.T) {
	if _, err := mainImpl(filepath.Join(t.TempDir(), "missing.exe")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestExportFiles(t *testing.T) {
	in := t.TempDir()
	good := writeSample(t, in, "GOOD.EXE", sampleExecutable())
	bad := writeSample(t, in, "bad.txt", []byte("not an executable at all"))

	out := t.TempDir()
	w, err := export.NewDirWriter(out)
	if err != nil {
		t.Fatal(err)
	}
	results, err := exportFiles(context.Background(), []string{good, bad}, w, export.Options{}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].Path != good || results[1].Path != bad {
		t.Fatalf("results out of order: %+v", results)
	}
	if results[0].failed() {
		t.Errorf("good file failed: %+v", results[0])
	}
	if !results[1].failed() || results[1].Summary != nil {
		t.Errorf("bad file should fail to open: %+v", results[1])
	}

	for _, name := range []string{
		"GOOD.EXE-RT_GROUP_ICON-APPICON.ico",
		"GOOD.EXE-RT_STRING-1.json",
		"GOOD.EXE-RT_VERSION-1.json",
	} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Errorf("missing output %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(out, "GOOD.EXE-RT_ICON-1.ico")); err == nil {
		t.Error("grouped icon was exported on its own")
	}
}

func TestExportFilesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	path := writeSample(t, t.TempDir(), "GOOD.EXE", sampleExecutable())
	w, err := export.NewDirWriter(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := exportFiles(ctx, []string{path}, w, export.Options{}, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestLoadConfig(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	cfgPath := writeSample(t, root, configFileName, []byte(`
[export]
dir = "resources"
types = ["RT_ICON", "group_icon", "42", "CUSTOM"]
jobs = 0

[output]
format = "human"
color = "off"
`))

	found, ok, err := findConfig(nested)
	if err != nil || !ok || found != cfgPath {
		t.Fatalf("findConfig = %q, %t, %v", found, ok, err)
	}

	c, path, err := loadConfig(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if path != cfgPath || c.Export.Dir != "resources" || c.Export.Jobs != 1 || c.Output.Format != formatHuman {
		t.Errorf("config = %+v from %q", c, path)
	}

	want := []nefile.ResourceKey{
		nefile.TypeKey(nefile.RT_ICON),
		nefile.TypeKey(nefile.RT_GROUP_ICON),
		nefile.TypeKey(42),
		nefile.NameKey("CUSTOM"),
	}
	got := c.exportTypes()
	if len(got) != len(want) {
		t.Fatalf("exportTypes = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("exportTypes[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLoadConfigUnknownKey(t *testing.T) {
	path := writeSample(t, t.TempDir(), configFileName, []byte("[export]\ndirectory = \"x\"\n"))
	_, _, err := loadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "unknown keys") {
		t.Errorf("err = %v", err)
	}
}

func TestEmit(t *testing.T) {
	payload := ScanResult{File: "a.exe", Offsets: []int64{0x40}}

	var buf bytes.Buffer
	if err := emit(&buf, formatJSON, payload, nil); err != nil {
		t.Fatal(err)
	}
	var decoded ScanResult
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil || decoded.File != "a.exe" {
		t.Errorf("json output %q: %v", buf.String(), err)
	}

	buf.Reset()
	if err := emit(&buf, formatMsgpack, payload, nil); err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := msgpack.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatal(err)
	}
	if m["file"] != "a.exe" {
		t.Errorf("msgpack keys should follow json tags: %v", m)
	}

	buf.Reset()
	called := false
	if err := emit(&buf, formatHuman, payload, func(w io.Writer) { called = true }); err != nil || !called {
		t.Errorf("human printer not used")
	}
}

func TestTextToJson(t *testing.T) {
	got := TextToJson("error", `bad "quote"`+"\n")
	var m map[string]string
	if err := json.Unmarshal([]byte(got), &m); err != nil {
		t.Fatalf("TextToJson produced invalid JSON %q: %v", got, err)
	}
	if m["error"] != "bad \"quote\"\n" {
		t.Errorf("round trip = %q", m["error"])
	}
}
