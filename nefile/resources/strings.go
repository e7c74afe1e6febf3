/*Copyright (C) 2022 Mandiant, Inc. All Rights Reserved.*/

package resources

import (
	"bytes"
	"encoding/json"

	"github.com/mandiant/NEFile/nefile"
	"golang.org/x/text/encoding/charmap"
)

const stringsPerBlock = 16

// String is one entry of a string table.
type String struct {
	ID   uint16 `json:"id"`
	Text string `json:"text"`
}

// StringBlock is a decoded RT_STRING resource.
type StringBlock struct {
	Block   uint16   `json:"block"`
	Strings []String `json:"strings"`
}

func decodeANSI(raw []byte) string {
	out, err := charmap.Windows1252.NewDecoder().Bytes(raw)
	if err != nil {
		// every byte maps in Windows-1252
		return string(raw)
	}
	return string(out)
}

// DecodeStringTable decodes an RT_STRING block. Block n holds the strings
// with IDs (n-1)*16 through (n-1)*16+15; empty slots are left out.
func DecodeStringTable(res *nefile.Resource) (*StringBlock, error) {
	n, ok := res.ID.Number()
	if !ok || n == 0 || n > 0x10000/stringsPerBlock {
		return nil, fail(res, "string table block ID must be a number from 1 to %d", 0x10000/stringsPerBlock)
	}
	data, err := res.Payload()
	if err != nil {
		return nil, err
	}

	block := &StringBlock{Block: n, Strings: []String{}}
	base := (n - 1) * stringsPerBlock
	pos := 0
	for slot := uint16(0); slot < stringsPerBlock; slot++ {
		if pos >= len(data) {
			return nil, fail(res, "string table ends before slot %d", slot)
		}
		size := int(data[pos])
		pos++
		if pos+size > len(data) {
			return nil, fail(res, "string %d runs past the end of the block", base+slot)
		}
		if size > 0 {
			block.Strings = append(block.Strings, String{ID: base + slot, Text: decodeANSI(data[pos : pos+size])})
		}
		pos += size
	}
	return block, nil
}

// StringTable exports an RT_STRING block as JSON.
var StringTable = Func(func(res *nefile.Resource, _ Library) (*Output, error) {
	block, err := DecodeStringTable(res)
	if err != nil {
		return nil, err
	}
	return jsonOutput(res, block)
})

func jsonOutput(res *nefile.Resource, v any) (*Output, error) {
	var out bytes.Buffer
	enc := json.NewEncoder(&out)
	enc.SetIndent("", "\t")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fail(res, "encoding JSON: %v", err)
	}
	return &Output{Data: out.Bytes(), Ext: "json"}, nil
}
