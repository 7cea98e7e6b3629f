// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package twiddle byte-swaps fixed-width scalar arrays in place. It is
// the only place in this module that flips bytes: decoded Attributes
// point directly into the tuple/log buffer, so swapping happens where
// the buffer already lives, with no per-cell allocation.
package twiddle

import (
	"github.com/clusterdb/backupreader/internal/restoreerr"
	"github.com/clusterdb/backupreader/internal/schema"
)

// Attribute swaps attr.Value in place, treating it as arraySize
// elements of attr.Desc.SizeBits width. If arraySize is 0, it defaults
// to attr.Desc.ArraySize. hostByteOrder true or an 8-bit width is a
// no-op. Widths other than 8/16/32/64 are a KindFormat error.
func Attribute(attr *schema.Attribute, hostByteOrder bool, arraySize int) error {
	if hostByteOrder {
		return nil
	}
	if arraySize == 0 {
		arraySize = attr.Desc.ArraySize
	}

	switch attr.Desc.SizeBits {
	case 8:
		return nil
	case 16:
		return swap(attr.Value, 2, arraySize)
	case 32:
		return swap(attr.Value, 4, arraySize)
	case 64:
		return swap(attr.Value, 8, arraySize)
	default:
		return restoreerr.Newf(restoreerr.KindFormat, "twiddle.Attribute",
			"unsupported scalar width %d bits", attr.Desc.SizeBits)
	}
}

// WordsInPlace byte-swaps buf as a sequence of 32-bit words. Dictionary
// blobs and other section payloads that are opaque to this package are
// still transmitted word-at-a-time in the producer's native order, so
// the caller swaps every word before handing the blob to a decoder that
// assumes host order.
func WordsInPlace(buf []byte) error {
	if len(buf)%4 != 0 {
		return restoreerr.Newf(restoreerr.KindFormat, "twiddle.WordsInPlace",
			"buffer length %d is not a multiple of 4", len(buf))
	}
	return swap(buf, 4, len(buf)/4)
}

// swap reverses the byte order of count elements of width bytes each,
// starting at buf[0].
func swap(buf []byte, width, count int) error {
	need := width * count
	if len(buf) < need {
		return restoreerr.Newf(restoreerr.KindIO, "twiddle.swap",
			"buffer too short: need %d bytes, have %d", need, len(buf))
	}
	for i := 0; i < count; i++ {
		base := i * width
		elem := buf[base : base+width]
		for l, r := 0, width-1; l < r; l, r = l+1, r-1 {
			elem[l], elem[r] = elem[r], elem[l]
		}
	}
	return nil
}
