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

package cdcstream

import (
	"testing"

	"github.com/clusterdb/backupreader/internal/dictcodec"
	"github.com/clusterdb/backupreader/internal/schema"
)

func TestCodecEncodeDecodeRoundTrip(t *testing.T) {
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

	entry := &schema.LogEntry{
		Table: tbl,
		Type:  schema.EventUpdate,
		Values: []schema.Attribute{
			{Desc: tbl.Attr(0), Value: []byte{1, 2, 3, 4}},
			{Desc: tbl.Attr(1), Null: true},
		},
	}

	codec, err := NewCodec()
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	encoded, err := codec.Encode(entry)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	msg, err := codec.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Table != "orders" || msg.Type != "UPDATE" {
		t.Fatalf("got table=%q type=%q", msg.Table, msg.Type)
	}
	if len(msg.Values) != 2 {
		t.Fatalf("got %d values, want 2", len(msg.Values))
	}
	if msg.Values[0].Null || string(msg.Values[0].Value) != string([]byte{1, 2, 3, 4}) {
		t.Fatalf("unexpected value 0: %+v", msg.Values[0])
	}
	if !msg.Values[1].Null || len(msg.Values[1].Value) != 0 {
		t.Fatalf("unexpected value 1: %+v", msg.Values[1])
	}
}
