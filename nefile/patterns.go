/*Copyright (C) 2022 Mandiant, Inc. All Rights Reserved.*/

package nefile

import (
	"bytes"
	"errors"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
	"rsc.io/binaryregexp"
)

func isHexRune(c rune) bool {
	return strings.ContainsRune("0123456789abcdef", c)
}

func isHex(s string) bool {
	for _, c := range s {
		if !isHexRune(c) {
			return false
		}
	}
	return true
}

// keepLongest promotes the fixed run just finished to the needle if it is the
// longest seen so far, and starts a new run.
func keepLongest(needle, run []byte) ([]byte, []byte) {
	if len(run) > len(needle) {
		needle = slices.Clone(run)
	}
	return needle, run[:0]
}

// RegexpPatternFromYaraPattern translates a yara-style hex pattern, like:
//
//	{ 4E 45 ?? ?? 0? [2-4] (81|82) }
//
// to a regular expression compatible with the binaryregexp module, like:
//
//	(?s)\x4E\x45..[\x00-\x0F].{2,4}(\x81|\x82)
//
// The longest run of fixed bytes becomes the needle FindRegex searches for
// before running the regular expression.
func RegexpPatternFromYaraPattern(pattern string) (*RegexAndNeedle, error) {
	if !strings.HasPrefix(pattern, "{") {
		return nil, errors.New("missing prefix")
	}
	if !strings.HasSuffix(pattern, "}") {
		return nil, errors.New("missing suffix")
	}

	pattern = strings.Trim(pattern, "{}")
	pattern = strings.ReplaceAll(pattern, " ", "")
	pattern = strings.ToLower(pattern)

	patLen := 0
	needle := make([]byte, 0)
	run := make([]byte, 0)

	var re strings.Builder
	for i := 0; i < len(pattern); {
		if i+1 >= len(pattern) {
			return nil, errors.New("odd number of nibbles")
		}
		c := pattern[i : i+1]
		d := pattern[i+1 : i+2]

		// input: ??
		// output: .
		if c == "?" {
			if d != "?" {
				return nil, errors.New("cannot mask the first nibble")
			}
			re.WriteString(".")
			i += 2
			patLen++
			needle, run = keepLongest(needle, run)
			continue
		}

		// input: [x-y]
		// output: .{x,y}
		if c == "[" {
			end := strings.Index(pattern[i:], "]")
			if end == -1 {
				return nil, errors.New("unbalanced [")
			}
			low, high, found := strings.Cut(pattern[i+1:i+end], "-")
			if !found {
				return nil, errors.New("[] didn't contain a dash")
			}
			lo, err := strconv.Atoi(low)
			if err != nil {
				return nil, errors.New("invalid number")
			}
			if _, err := strconv.Atoi(high); err != nil {
				return nil, errors.New("invalid number")
			}
			re.WriteString(".{" + low + "," + high + "}")
			i += end + 1
			patLen += lo
			needle, run = keepLongest(needle, run)
			continue
		}

		// input: (AA|BB|CC)
		// output: (\xAA|\xBB|\xCC)
		if c == "(" {
			end := strings.Index(pattern[i:], ")")
			if end == -1 {
				return nil, errors.New("unbalanced (")
			}
			choices := strings.Split(pattern[i+1:i+end], "|")
			re.WriteString("(")
			for j, choice := range choices {
				if len(choice) != 2 || !isHex(choice) {
					return nil, errors.New("choice not hex")
				}
				if j != 0 {
					re.WriteString("|")
				}
				re.WriteString(`\x` + strings.ToUpper(choice))
			}
			re.WriteString(")")
			i += end + 1
			patLen++
			needle, run = keepLongest(needle, run)
			continue
		}

		// input: 0?
		// output: [\x00-\x0F]
		if d == "?" {
			if !isHex(c) {
				return nil, errors.New("not hex digit")
			}
			hi := strings.ToUpper(c)
			re.WriteString(`[\x` + hi + `0-\x` + hi + `F]`)
			i += 2
			patLen++
			needle, run = keepLongest(needle, run)
			continue
		}

		// input: AB
		// output: \xAB
		if isHex(c) && isHex(d) {
			byt, err := strconv.ParseUint(c+d, 16, 8)
			if err != nil {
				return nil, errors.New("not hex digit")
			}
			re.WriteString(`\x` + strings.ToUpper(c+d))
			run = append(run, byte(byt))
			i += 2
			patLen++
			continue
		}

		return nil, errors.New("unexpected value")
	}
	needle, _ = keepLongest(needle, run)
	if len(needle) == 0 {
		return nil, errors.New("pattern has no fixed bytes")
	}

	// (?s) so that . also matches 0x0A
	raw := "(?s)" + re.String()
	r, err := binaryregexp.Compile(raw)
	if err != nil {
		return nil, err
	}
	return &RegexAndNeedle{patLen, raw, r, needle}, nil
}

// FindRegex returns the start offsets of every match of regexInfo in data.
func FindRegex(data []byte, regexInfo *RegexAndNeedle) []int {
	matches := make([]int, 0)
	seen := make(map[int]bool)

	for from := 0; from < len(data); {
		idx := bytes.Index(data[from:], regexInfo.needle)
		if idx < 0 {
			break
		}
		needleMatch := from + idx
		from = needleMatch + 1

		// the needle may sit anywhere inside the pattern, so scan a window
		// reaching one pattern length either side of it
		start := needleMatch - regexInfo.len
		if start < 0 {
			start = 0
		}
		end := needleMatch + len(regexInfo.needle) + regexInfo.len
		if end > len(data) {
			end = len(data)
		}

		for _, reMatch := range regexInfo.re.FindAllIndex(data[start:end], -1) {
			off := reMatch[0] + start
			if !seen[off] {
				seen[off] = true
				matches = append(matches, off)
			}
		}
	}
	slices.Sort(matches)
	return matches
}

type RegexAndNeedle struct {
	len    int
	rawre  string
	re     *binaryregexp.Regexp
	needle []byte // longest fixed sub-sequence of the pattern
}

// String returns the translated regular expression.
func (r *RegexAndNeedle) String() string {
	return r.rawre
}
