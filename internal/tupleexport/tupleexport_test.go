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

package tupleexport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/clusterdb/backupreader/internal/dictcodec"
	"github.com/clusterdb/backupreader/internal/schema"
)

func TestWriterWritesAndClosesCleanly(t *testing.T) {
	impl := &dictcodec.TableSpec{
		ID:   1,
		Name: "orders",
		ColSpec: []dictcodec.ColumnSpec{
			{SizeBitsVal: 32, ArrayLenVal: 1, PrimaryKeyVal: true},
			{SizeBitsVal: 32, ArrayLenVal: 1, NullableVal: true},
		},
	}
	tbl, err := schema.BuildTable(impl)
	if err != nil {
		t.Fatalf("BuildTable: %v", err)
	}

	path := filepath.Join(t.TempDir(), "orders.parquet")
	w, err := New(path, tbl)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tuple := &schema.Tuple{
		Table: tbl,
		Attributes: []schema.Attribute{
			{Desc: tbl.Attr(0), Value: []byte{1, 0, 0, 0}},
			{Desc: tbl.Attr(1), Null: true},
		},
	}
	if err := w.WriteTuple(tuple); err != nil {
		t.Fatalf("WriteTuple: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("expected a non-empty parquet file")
	}
}

func TestWriterRejectsMismatchedTable(t *testing.T) {
	impl := &dictcodec.TableSpec{ID: 1, Name: "orders", ColSpec: []dictcodec.ColumnSpec{{SizeBitsVal: 32, ArrayLenVal: 1}}}
	tbl, err := schema.BuildTable(impl)
	if err != nil {
		t.Fatalf("BuildTable: %v", err)
	}
	other := &schema.Table{TableId: 2, Name: "other"}

	path := filepath.Join(t.TempDir(), "orders.parquet")
	w, err := New(path, tbl)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	tuple := &schema.Tuple{Table: other}
	if err := w.WriteTuple(tuple); err == nil {
		t.Fatal("expected an error writing a tuple for a different table")
	}
}
