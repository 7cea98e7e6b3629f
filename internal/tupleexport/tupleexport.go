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

// Package tupleexport writes decoded tuples to a Parquet file, one per
// source table, as a bulk-load alternative to the row-at-a-time
// applier path.
package tupleexport

import (
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/clusterdb/backupreader/internal/schema"
)

// Writer accumulates decoded tuples for one table and flushes them to
// a Parquet file. Every column is written nullable and byte-array
// typed: the core decoder hands back raw attribute bytes, not typed Go
// values, so the export keeps that representation rather than
// guessing a narrower Parquet type per column.
type Writer struct {
	f      *os.File
	table  *schema.Table
	pw     *parquet.GenericWriter[map[string]any]
	schema *parquet.Schema
}

// New builds a Writer for table, writing to a fresh file at path.
func New(path string, table *schema.Table) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create parquet file %s: %w", path, err)
	}

	nodes := make(map[string]parquet.Node, len(table.AllAttributesDesc))
	for _, d := range table.AllAttributesDesc {
		nodes[columnName(d.AttrId)] = parquet.Optional(parquet.Leaf(parquet.ByteArrayType))
	}
	sch := parquet.NewSchema(table.Name, parquet.Group(nodes))

	pw := parquet.NewGenericWriter[map[string]any](f,
		sch,
		parquet.Compression(&parquet.Zstd),
		parquet.MaxRowsPerRowGroup(80_000),
	)

	return &Writer{f: f, table: table, pw: pw, schema: sch}, nil
}

// WriteTuple appends one decoded tuple as a Parquet row.
func (w *Writer) WriteTuple(tuple *schema.Tuple) error {
	if tuple.Table.TableId != w.table.TableId {
		return fmt.Errorf("tuple for table %s does not match writer's table %s", tuple.Table.Name, w.table.Name)
	}
	row := make(map[string]any, len(w.table.AllAttributesDesc))
	for _, d := range w.table.AllAttributesDesc {
		attr := tuple.Attr(d.AttrId)
		name := columnName(d.AttrId)
		if attr.Null {
			row[name] = nil
		} else {
			row[name] = attr.Value
		}
	}
	if _, err := w.pw.Write([]map[string]any{row}); err != nil {
		return fmt.Errorf("write row for table %s: %w", w.table.Name, err)
	}
	return nil
}

// Close flushes the writer and closes the underlying file.
func (w *Writer) Close() error {
	if err := w.pw.Close(); err != nil {
		_ = w.f.Close()
		return fmt.Errorf("close parquet writer for table %s: %w", w.table.Name, err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("close parquet file for table %s: %w", w.table.Name, err)
	}
	return nil
}

func columnName(attrID int) string {
	return fmt.Sprintf("attr_%d", attrID)
}
