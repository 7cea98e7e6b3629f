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

package applier

import (
	"strings"
	"testing"

	"github.com/clusterdb/backupreader/internal/dictcodec"
	"github.com/clusterdb/backupreader/internal/schema"
)

func testTable(t *testing.T) *schema.Table {
	t.Helper()
	impl := &dictcodec.TableSpec{
		ID:   1,
		Name: "orders",
		ColSpec: []dictcodec.ColumnSpec{
			{SizeBitsVal: 32, ArrayLenVal: 1, PrimaryKeyVal: true},
			{SizeBitsVal: 32, ArrayLenVal: 1},
		},
	}
	tbl, err := schema.BuildTable(impl)
	if err != nil {
		t.Fatalf("BuildTable: %v", err)
	}
	return tbl
}

func TestColumnName(t *testing.T) {
	if got := columnName(3); got != "attr_3" {
		t.Fatalf("columnName(3) = %q, want attr_3", got)
	}
}

func TestUpsertSQLExcludesKeyColumnsFromSet(t *testing.T) {
	sql, args := upsertSQL("restore", "orders", []string{"attr_0", "attr_1"}, []any{1, 2}, []string{"attr_0"})

	if !strings.Contains(sql, `INSERT INTO "restore"."orders"`) {
		t.Fatalf("unexpected target in SQL: %s", sql)
	}
	if !strings.Contains(sql, "ON CONFLICT (attr_0)") {
		t.Fatalf("expected ON CONFLICT on the key column: %s", sql)
	}
	if strings.Contains(sql, "attr_0 = EXCLUDED.attr_0") {
		t.Fatalf("key column must not appear in the SET clause: %s", sql)
	}
	if !strings.Contains(sql, "attr_1 = EXCLUDED.attr_1") {
		t.Fatalf("expected non-key column in the SET clause: %s", sql)
	}
	if len(args) != 2 {
		t.Fatalf("got %d args, want 2", len(args))
	}
}

func TestDeleteSQLConditionsOnAllKeyColumns(t *testing.T) {
	sql, args := deleteSQL("restore", "orders", []string{"attr_0", "attr_1"}, []any{1, 2})
	if !strings.Contains(sql, `DELETE FROM "restore"."orders"`) {
		t.Fatalf("unexpected target in SQL: %s", sql)
	}
	if !strings.Contains(sql, "attr_0 = $1 AND attr_1 = $2") {
		t.Fatalf("unexpected WHERE clause: %s", sql)
	}
	if len(args) != 2 {
		t.Fatalf("got %d args, want 2", len(args))
	}
}

func TestColumnsAndValuesMarksPrimaryKey(t *testing.T) {
	tbl := testTable(t)
	tuple := &schema.Tuple{
		Table:      tbl,
		Attributes: []schema.Attribute{{Desc: tbl.Attr(0), Value: []byte{1, 0, 0, 0}}, {Desc: tbl.Attr(1), Null: true}},
	}

	cols, vals, keyCols := columnsAndValues(tbl, tuple)
	if len(cols) != 2 || len(vals) != 2 {
		t.Fatalf("got cols=%v vals=%v", cols, vals)
	}
	if len(keyCols) != 1 || keyCols[0] != "attr_0" {
		t.Fatalf("got keyCols=%v, want [attr_0]", keyCols)
	}
	if vals[1] != nil {
		t.Fatalf("expected a null value for a Null attribute, got %v", vals[1])
	}
}

func TestKeyColumnsAndValuesOnlyUsesFixedKeys(t *testing.T) {
	tbl := testTable(t)
	attrs := []schema.Attribute{
		{Desc: tbl.Attr(0), Value: []byte{9, 0, 0, 0}},
		{Desc: tbl.Attr(1), Value: []byte{1, 0, 0, 0}},
	}
	keyCols, keyVals := keyColumnsAndValues(tbl, attrs)
	if len(keyCols) != 1 || keyCols[0] != "attr_0" {
		t.Fatalf("got keyCols=%v, want [attr_0]", keyCols)
	}
	if len(keyVals) != 1 {
		t.Fatalf("got keyVals=%v", keyVals)
	}
}
