/*Copyright (C) 2022 Mandiant, Inc. All Rights Reserved.*/

package resources

import "github.com/mandiant/NEFile/nefile"

// Raw copies the payload unchanged.
var Raw = Func(func(res *nefile.Resource, _ Library) (*Output, error) {
	data, err := res.Payload()
	if err != nil {
		return nil, err
	}
	ext := "bin"
	if t, ok := res.Type.Type(); ok && t == nefile.RT_FONT {
		ext = "fnt"
	}
	return &Output{Data: data, Ext: ext}, nil
})
