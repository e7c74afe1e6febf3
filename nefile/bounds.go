/*Copyright (C) 2022 Mandiant, Inc. All Rights Reserved.*/

package nefile

import (
	"fortio.org/safecast"
	"golang.org/x/exp/constraints"
)

// withinBounds reports whether n bytes starting at off fit in [0, limit).
func withinBounds[O constraints.Integer, N constraints.Integer](off O, n N, limit int64) bool {
	start, err := safecast.Conv[int64](off)
	if err != nil || start < 0 {
		return false
	}
	length, err := safecast.Conv[int64](n)
	if err != nil || length < 0 {
		return false
	}
	if start > limit {
		return false
	}
	return length <= limit-start
}

// shifted computes v << shift as an int64, failing on overflow.
func shifted(v uint16, shift uint16) (int64, bool) {
	if shift >= 48 {
		return 0, v == 0
	}
	return int64(v) << shift, true
}
