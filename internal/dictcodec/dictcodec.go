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

// Package dictcodec is a reference implementation of the dictionary-info
// decoder the core treats as an external black box
// (schema.ParseTableInfo). A real deployment against an actual cluster
// would inject the cluster's own dictionary decoder instead; this one
// exists so the CLI and test fixtures have a concrete, self-consistent
// wire format to encode and decode against.
package dictcodec

import (
	"encoding/binary"
	"fmt"

	"github.com/clusterdb/backupreader/internal/schema"
)

const (
	flagNullable   = 1 << 0
	flagPrimaryKey = 1 << 1
)

// ColumnSpec is one column's shape, used both to build a blob and as
// the decoded view handed back to schema.BuildTable.
type ColumnSpec struct {
	SizeBitsVal   int
	ArrayLenVal   int
	NullableVal   bool
	PrimaryKeyVal bool
}

func (c ColumnSpec) SizeBits() int    { return c.SizeBitsVal }
func (c ColumnSpec) ArrayLength() int { return c.ArrayLenVal }
func (c ColumnSpec) Nullable() bool   { return c.NullableVal }
func (c ColumnSpec) PrimaryKey() bool { return c.PrimaryKeyVal }

// TableSpec is the decoded dictionary view: schema.TableImpl.
type TableSpec struct {
	ID      uint32
	Name    string
	ColSpec []ColumnSpec
}

func (t *TableSpec) TableID() uint32             { return t.ID }
func (t *TableSpec) TableName() string           { return t.Name }
func (t *TableSpec) Columns() []schema.ColumnInfo {
	out := make([]schema.ColumnInfo, len(t.ColSpec))
	for i, c := range t.ColSpec {
		out[i] = c
	}
	return out
}

func pad4(n int) int { return (n + 3) / 4 * 4 }

// Encode serializes a TableSpec into the word-oriented blob layout
// ParseTableInfo decodes: [tableId][nameLen][name, padded][colCount]
// then, per column, [sizeBits][arrayLen][flags].
func Encode(t *TableSpec) []byte {
	nameBytes := []byte(t.Name)
	nameWords := pad4(len(nameBytes))

	buf := make([]byte, 4+4+nameWords+4+len(t.ColSpec)*12)
	off := 0
	binary.BigEndian.PutUint32(buf[off:], t.ID)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], uint32(len(nameBytes)))
	off += 4
	copy(buf[off:], nameBytes)
	off += nameWords
	binary.BigEndian.PutUint32(buf[off:], uint32(len(t.ColSpec)))
	off += 4

	for _, c := range t.ColSpec {
		binary.BigEndian.PutUint32(buf[off:], uint32(c.SizeBitsVal))
		off += 4
		binary.BigEndian.PutUint32(buf[off:], uint32(c.ArrayLenVal))
		off += 4
		var flags uint32
		if c.NullableVal {
			flags |= flagNullable
		}
		if c.PrimaryKeyVal {
			flags |= flagPrimaryKey
		}
		binary.BigEndian.PutUint32(buf[off:], flags)
		off += 4
	}
	return buf
}

// Parse decodes a blob produced by Encode back into a schema.TableImpl.
// It satisfies schema.ParseTableInfo.
func Parse(data []byte) (schema.TableImpl, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("dictionary blob too short: %d bytes", len(data))
	}
	off := 0
	id := binary.BigEndian.Uint32(data[off:])
	off += 4
	nameLen := int(binary.BigEndian.Uint32(data[off:]))
	off += 4
	nameWords := pad4(nameLen)
	if off+nameWords > len(data) {
		return nil, fmt.Errorf("dictionary blob truncated in table name")
	}
	name := string(data[off : off+nameLen])
	off += nameWords

	if off+4 > len(data) {
		return nil, fmt.Errorf("dictionary blob truncated before column count")
	}
	colCount := int(binary.BigEndian.Uint32(data[off:]))
	off += 4

	cols := make([]ColumnSpec, 0, colCount)
	for i := 0; i < colCount; i++ {
		if off+12 > len(data) {
			return nil, fmt.Errorf("dictionary blob truncated at column %d", i)
		}
		sizeBits := int(binary.BigEndian.Uint32(data[off:]))
		arrayLen := int(binary.BigEndian.Uint32(data[off+4:]))
		flags := binary.BigEndian.Uint32(data[off+8:])
		off += 12
		cols = append(cols, ColumnSpec{
			SizeBitsVal:   sizeBits,
			ArrayLenVal:   arrayLen,
			NullableVal:   flags&flagNullable != 0,
			PrimaryKeyVal: flags&flagPrimaryKey != 0,
		})
	}

	return &TableSpec{ID: id, Name: name, ColSpec: cols}, nil
}
