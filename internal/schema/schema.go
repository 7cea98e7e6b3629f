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

// Package schema holds the reconstructed-schema entities shared by
// every reader: AttributeDesc, Table, and Metadata, plus the Attribute,
// Tuple, and LogEntry value types the data and log readers yield.
package schema

import (
	"github.com/clusterdb/backupreader/internal/restoreerr"
)

// ColumnInfo is the per-column view the external dictionary decoder
// (parseTableInfo) must provide. It is a black box to this package:
// BuildTable only ever reads from it, never constructs one.
type ColumnInfo interface {
	// SizeBits is the element width in bits; must be 8, 16, 32, or 64.
	SizeBits() int
	// ArrayLength is the declared number of elements (1 for scalars).
	ArrayLength() int
	Nullable() bool
	PrimaryKey() bool
}

// TableImpl is the decoded dictionary view produced by the external,
// out-of-scope parseTableInfo function from a raw dictionary blob.
type TableImpl interface {
	TableID() uint32
	TableName() string
	Columns() []ColumnInfo
}

// ParseTableInfo decodes a raw dictionary blob into a TableImpl. The
// concrete implementation is injected by the caller so the core stays
// decoupled from the dictionary wire format.
type ParseTableInfo func(data []byte) (TableImpl, error)

// AttributeDesc describes one column's decode layout.
type AttributeDesc struct {
	AttrId       int  // dense, 0-based, declaration order
	SizeBits     int  // element width: 8, 16, 32, or 64
	ArraySize    int  // declared element count
	Nullable     bool
	PrimaryKey   bool
	NullBitIndex int // valid iff Nullable
}

// SizeInWords returns the number of 32-bit words this attribute's
// fixed-width payload occupies.
func (d *AttributeDesc) SizeInWords() int {
	bits := d.SizeBits * d.ArraySize
	bytes := (bits + 7) / 8
	return (bytes + 3) / 4
}

// Table is one decoded relation: its columns in declaration order plus
// the three categorization vectors the tuple decoder drives off of.
type Table struct {
	TableId       uint32
	Name          string
	BackupVersion uint32

	AllAttributesDesc []*AttributeDesc // declaration order, attrId == index

	FixedKeys       []*AttributeDesc // primary-key columns
	FixedAttribs    []*AttributeDesc // non-nullable, non-key columns
	VariableAttribs []*AttributeDesc // nullable columns

	NoOfNullable    int
	NullBitmaskSize int // words, ceil(NoOfNullable/32)
}

// Attr returns the AttributeDesc at the given attrId, or nil if out of range.
func (t *Table) Attr(attrId int) *AttributeDesc {
	if attrId < 0 || attrId >= len(t.AllAttributesDesc) {
		return nil
	}
	return t.AllAttributesDesc[attrId]
}

// BuildTable constructs a Table from an already-decoded dictionary
// view, assigning attrId by declaration order and partitioning columns
// into fixedKeys / fixedAttribs / variableAttribs in the order
// encountered. This partition and the nullBitIndex assignment order
// are part of the on-disk contract and must stay stable.
func BuildTable(impl TableImpl) (*Table, error) {
	cols := impl.Columns()
	t := &Table{
		TableId: impl.TableID(),
		Name:    impl.TableName(),
	}

	for i, c := range cols {
		switch c.SizeBits() {
		case 8, 16, 32, 64:
		default:
			return nil, restoreerr.Newf(restoreerr.KindSchema, "schema.BuildTable",
				"column %d of table %s has invalid size %d bits", i, t.Name, c.SizeBits())
		}

		d := &AttributeDesc{
			AttrId:     i,
			SizeBits:   c.SizeBits(),
			ArraySize:  c.ArrayLength(),
			Nullable:   c.Nullable(),
			PrimaryKey: c.PrimaryKey(),
		}
		t.AllAttributesDesc = append(t.AllAttributesDesc, d)

		switch {
		case d.PrimaryKey:
			t.FixedKeys = append(t.FixedKeys, d)
		case !d.Nullable:
			t.FixedAttribs = append(t.FixedAttribs, d)
		default:
			d.NullBitIndex = t.NoOfNullable
			t.NoOfNullable++
			t.NullBitmaskSize = (t.NoOfNullable + 31) / 32
			t.VariableAttribs = append(t.VariableAttribs, d)
		}
	}

	return t, nil
}

// Metadata is the schema plus checkpoint range decoded from one
// control file: every table keyed by tableId, and the GCP window the
// backup is consistent within.
type Metadata struct {
	tables   map[uint32]*Table
	order    []uint32
	StartGCP uint32
	StopGCP  uint32
}

// NewMetadata builds a Metadata from tables in declaration order plus
// the decoded GCP range.
func NewMetadata(tables []*Table, startGCP, stopGCP uint32) *Metadata {
	m := &Metadata{
		tables:   make(map[uint32]*Table, len(tables)),
		order:    make([]uint32, 0, len(tables)),
		StartGCP: startGCP,
		StopGCP:  stopGCP,
	}
	for _, t := range tables {
		m.tables[t.TableId] = t
		m.order = append(m.order, t.TableId)
	}
	return m
}

// Tables enumerates the decoded tables in the order they appeared in
// the control file.
func (m *Metadata) Tables() []*Table {
	out := make([]*Table, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.tables[id])
	}
	return out
}

// Table looks a table up by id.
func (m *Metadata) Table(tableId uint32) (*Table, bool) {
	t, ok := m.tables[tableId]
	return t, ok
}

