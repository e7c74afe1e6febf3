/*Copyright (C) 2022 Mandiant, Inc. All Rights Reserved.*/

package nefile

import (
	"fmt"
	"os"
	"sync"
)

// "NE", 52 bytes of header, then the target OS byte at 0x36.
const neHeaderPattern = "{ 4E 45 [52-52] (00|01|02|03|04|05|81|82) }"

var (
	neHeaderRegexOnce sync.Once
	neHeaderRegex     *RegexAndNeedle
	neHeaderRegexErr  error
)

func headerRegex() (*RegexAndNeedle, error) {
	neHeaderRegexOnce.Do(func() {
		neHeaderRegex, neHeaderRegexErr = RegexpPatternFromYaraPattern(neHeaderPattern)
	})
	return neHeaderRegex, neHeaderRegexErr
}

// ScanHeaders returns the offsets of every plausible NE header in data,
// whether or not an MZ stub points at it. This finds executables embedded in
// installers, memory dumps and archives. A candidate is kept only if every
// table it declares lands inside data.
func ScanHeaders(data []byte) []int64 {
	re, err := headerRegex()
	if err != nil {
		// the pattern is a constant
		panic(err)
	}

	var found []int64
	for _, off := range FindRegex(data, re) {
		if off+sizeofNEHeader > len(data) {
			continue
		}
		h, err := decodeNEHeader(data[off:off+sizeofNEHeader], int64(off))
		if err != nil {
			continue
		}
		if h.validate(int64(len(data))) != nil {
			continue
		}
		found = append(found, int64(off))
	}
	return found
}

// ScanFile reads the named file and calls ScanHeaders on its contents.
func ScanFile(name string) ([]int64, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", name, err)
	}
	return ScanHeaders(data), nil
}
