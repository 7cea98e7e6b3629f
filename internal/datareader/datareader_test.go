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

package datareader

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clusterdb/backupreader/internal/backupfile"
	"github.com/clusterdb/backupreader/internal/dictcodec"
	"github.com/clusterdb/backupreader/internal/restoreerr"
	"github.com/clusterdb/backupreader/internal/restoresink"
	"github.com/clusterdb/backupreader/internal/schema"
	"github.com/clusterdb/backupreader/internal/testfixture"
	"github.com/clusterdb/backupreader/internal/wire"
)

// buildTable mirrors the fixture used across the reader tests: one
// primary-key int32 column, one fixed int16 column, one nullable int32
// column.
func buildTable(t *testing.T) *schema.Table {
	t.Helper()
	impl := &dictcodec.TableSpec{
		ID:   1,
		Name: "orders",
		ColSpec: []dictcodec.ColumnSpec{
			{SizeBitsVal: 32, ArrayLenVal: 1, PrimaryKeyVal: true},
			{SizeBitsVal: 16, ArrayLenVal: 1},
			{SizeBitsVal: 32, ArrayLenVal: 1, NullableVal: true},
		},
	}
	tbl, err := schema.BuildTable(impl)
	require.NoError(t, err)
	return tbl
}

func TestDataReaderDecodesFixedAndVariableTuples(t *testing.T) {
	for _, hostByteOrder := range []bool{true, false} {
		t.Run(map[bool]string{true: "same-order", false: "swapped"}[hostByteOrder], func(t *testing.T) {
			tbl := buildTable(t)

			fb := testfixture.NewBuilder(wire.DataFile, 42, 8, hostByteOrder)
			fb.PutWords(uint32(wire.Fragment), wire.FragmentHeaderWords, tbl.TableId, 0, 0)

			// tuple 1: variable column present, value 99.
			variable := uint32(99)
			writeOneTuple(fb, hostByteOrder, 1001, 7, &variable)
			// tuple 2: variable column null.
			writeOneTuple(fb, hostByteOrder, 1002, 8, nil)

			fb.PutWords(0) // end of fragment
			fb.PutWords(uint32(wire.FragmentFooterSection), wire.FragmentFooterWords, tbl.TableId, 0, 2, 0)

			path := filepath.Join(t.TempDir(), "data.bin")
			require.NoError(t, os.WriteFile(path, fb.Bytes(), 0o600))

			metadata := schema.NewMetadata([]*schema.Table{tbl}, 7, 11)
			dr, err := New(path, 42, metadata, restoresink.Noop)
			require.NoError(t, err)
			defer dr.Close()

			gotTbl, fragId, err := dr.NextFragment()
			require.NoError(t, err)
			require.Equal(t, tbl.TableId, gotTbl.TableId)
			require.Equal(t, uint32(0), fragId)

			tup1, err := dr.NextTuple()
			require.NoError(t, err)
			require.Equal(t, uint32(1001), binary.NativeEndian.Uint32(tup1.Attributes[0].Value))
			require.Equal(t, uint16(7), binary.NativeEndian.Uint16(tup1.Attributes[1].Value))
			require.False(t, tup1.Attributes[2].Null)
			require.Equal(t, uint32(99), binary.NativeEndian.Uint32(tup1.Attributes[2].Value))

			tup2, err := dr.NextTuple()
			require.NoError(t, err)
			require.Equal(t, uint32(1002), binary.NativeEndian.Uint32(tup2.Attributes[0].Value))
			require.True(t, tup2.Attributes[2].Null)

			_, err = dr.NextTuple()
			require.ErrorIs(t, err, io.EOF)

			_, _, err = dr.NextFragment()
			require.ErrorIs(t, err, io.EOF)
		})
	}
}

// writeOneTuple writes one tuple's bitmask, fixed columns, and variable
// columns in wire order.
func writeOneTuple(b *testfixture.Builder, hostByteOrder bool, keyValue uint32, fixedValue uint16, variableValue *uint32) {
	var bitmask [4]byte
	if variableValue == nil {
		binary.NativeEndian.PutUint32(bitmask[:], 1)
	}

	var keyBytes [4]byte
	binary.NativeEndian.PutUint32(keyBytes[:], keyValue)

	var fixedBytes [2]byte
	binary.NativeEndian.PutUint16(fixedBytes[:], fixedValue)

	bodyLen := 4 + 4 + 4
	var varValue [4]byte
	if variableValue != nil {
		binary.NativeEndian.PutUint32(varValue[:], *variableValue)
		bodyLen += 8 + 4
	}

	b.PutWords(uint32(bodyLen / 4))
	b.PutPayload(bitmask[:], 4)
	b.PutPayload(keyBytes[:], 4)
	b.PutPayload(fixedBytes[:], 2)
	b.PutPayload([]byte{0, 0}, 1) // word padding after the 16-bit fixed attrib
	if variableValue != nil {
		b.PutWords(1, 2) // (sz, attrId) header, framing words; sz=1 word of 32-bit payload
		b.PutPayload(varValue[:], 4)
	}
}

// TestNewFromLocatorOpensDerivedDataPath checks that NewFromLocator
// opens the file at the locator's conventional data-file name rather
// than requiring the caller to build the path directly.
func TestNewFromLocatorOpensDerivedDataPath(t *testing.T) {
	tbl := buildTable(t)

	fb := testfixture.NewBuilder(wire.DataFile, 42, 8, true)
	fb.PutWords(uint32(wire.Fragment), wire.FragmentHeaderWords, tbl.TableId, 0, 0)
	writeOneTuple(fb, true, 1001, 7, nil)
	fb.PutWords(0)
	fb.PutWords(uint32(wire.FragmentFooterSection), wire.FragmentFooterWords, tbl.TableId, 0, 1, 0)

	dir := t.TempDir()
	loc := backupfile.FileLocator{Dir: dir, NodeId: 5, BackupId: 42}
	require.NoError(t, os.WriteFile(loc.DataPath(3), fb.Bytes(), 0o600))

	metadata := schema.NewMetadata([]*schema.Table{tbl}, 7, 11)
	dr, err := NewFromLocator(loc, 3, metadata, restoresink.Noop)
	require.NoError(t, err)
	defer dr.Close()

	_, _, err = dr.NextFragment()
	require.NoError(t, err)
	_, err = dr.NextTuple()
	require.NoError(t, err)
}

func TestDataReaderRejectsFooterTableMismatch(t *testing.T) {
	tbl := buildTable(t)
	other := buildTable(t)
	other.TableId = 2

	fb := testfixture.NewBuilder(wire.DataFile, 42, 8, true)
	fb.PutWords(uint32(wire.Fragment), wire.FragmentHeaderWords, tbl.TableId, 0, 0)
	fb.PutWords(0) // no tuples
	fb.PutWords(uint32(wire.FragmentFooterSection), wire.FragmentFooterWords, other.TableId, 0, 0, 0)

	path := filepath.Join(t.TempDir(), "bad-footer.bin")
	require.NoError(t, os.WriteFile(path, fb.Bytes(), 0o600))

	metadata := schema.NewMetadata([]*schema.Table{tbl, other}, 7, 11)
	dr, err := New(path, 42, metadata, restoresink.Noop)
	require.NoError(t, err)
	defer dr.Close()

	_, _, err = dr.NextFragment()
	require.NoError(t, err)

	_, err = dr.NextTuple()
	require.Error(t, err)
	require.True(t, restoreerr.Is(err, restoreerr.KindConsistency))
}

func TestDataReaderRejectsUnknownTable(t *testing.T) {
	tbl := buildTable(t)

	fb := testfixture.NewBuilder(wire.DataFile, 42, 8, true)
	fb.PutWords(uint32(wire.Fragment), wire.FragmentHeaderWords, 999, 0, 0)

	path := filepath.Join(t.TempDir(), "unknown-table.bin")
	require.NoError(t, os.WriteFile(path, fb.Bytes(), 0o600))

	metadata := schema.NewMetadata([]*schema.Table{tbl}, 7, 11)
	dr, err := New(path, 42, metadata, restoresink.Noop)
	require.NoError(t, err)
	defer dr.Close()

	_, _, err = dr.NextFragment()
	require.Error(t, err)
	require.True(t, restoreerr.Is(err, restoreerr.KindUnknownTable))
}

// buildWideTable has a primary key plus one nullable int16[4] variable
// column, to exercise variable-data decoding at a width other than 32
// bits (where the element width and the header's sz word happen to
// coincide, masking a wrong arraySize computation).
func buildWideTable(t *testing.T) *schema.Table {
	t.Helper()
	impl := &dictcodec.TableSpec{
		ID:   1,
		Name: "wide",
		ColSpec: []dictcodec.ColumnSpec{
			{SizeBitsVal: 32, ArrayLenVal: 1, PrimaryKeyVal: true},
			{SizeBitsVal: 16, ArrayLenVal: 4, NullableVal: true},
		},
	}
	tbl, err := schema.BuildTable(impl)
	require.NoError(t, err)
	return tbl
}

// writeWideTuple writes one tuple of buildWideTable's shape, with the
// variable column's header sz word set from len(values) rather than
// the declared array length, so a reader that conflates the two is
// caught.
func writeWideTuple(b *testfixture.Builder, hostByteOrder bool, keyValue uint32, values []uint16) {
	var bitmask [4]byte // column present, not null

	var keyBytes [4]byte
	binary.NativeEndian.PutUint32(keyBytes[:], keyValue)

	payload := make([]byte, len(values)*2)
	for i, v := range values {
		binary.NativeEndian.PutUint16(payload[i*2:], v)
	}
	sz := len(payload) / 4

	bodyLen := 4 + 4 + 8 + len(payload)
	b.PutWords(uint32(bodyLen / 4))
	b.PutPayload(bitmask[:], 4)
	b.PutPayload(keyBytes[:], 4)
	b.PutWords(uint32(sz), 1) // (sz, attrId); attrId 1 is the variable column
	b.PutPayload(payload, 2)
}

func TestDataReaderDecodesWideVariableColumn(t *testing.T) {
	for _, hostByteOrder := range []bool{true, false} {
		t.Run(map[bool]string{true: "same-order", false: "swapped"}[hostByteOrder], func(t *testing.T) {
			tbl := buildWideTable(t)

			fb := testfixture.NewBuilder(wire.DataFile, 42, 8, hostByteOrder)
			fb.PutWords(uint32(wire.Fragment), wire.FragmentHeaderWords, tbl.TableId, 0, 0)

			values := []uint16{10, 20, 30, 40}
			writeWideTuple(fb, hostByteOrder, 55, values)

			fb.PutWords(0)
			fb.PutWords(uint32(wire.FragmentFooterSection), wire.FragmentFooterWords, tbl.TableId, 0, 1, 0)

			path := filepath.Join(t.TempDir(), "wide.bin")
			require.NoError(t, os.WriteFile(path, fb.Bytes(), 0o600))

			metadata := schema.NewMetadata([]*schema.Table{tbl}, 7, 11)
			dr, err := New(path, 42, metadata, restoresink.Noop)
			require.NoError(t, err)
			defer dr.Close()

			_, _, err = dr.NextFragment()
			require.NoError(t, err)

			tup, err := dr.NextTuple()
			require.NoError(t, err)
			require.Equal(t, uint32(55), binary.NativeEndian.Uint32(tup.Attributes[0].Value))
			require.False(t, tup.Attributes[1].Null)
			require.Len(t, tup.Attributes[1].Value, 8)
			for i, want := range values {
				got := binary.NativeEndian.Uint16(tup.Attributes[1].Value[i*2 : i*2+2])
				require.Equal(t, want, got)
			}
		})
	}
}

func TestDataReaderRejectsShortVariableData(t *testing.T) {
	tbl := buildWideTable(t)

	fb := testfixture.NewBuilder(wire.DataFile, 42, 8, true)
	fb.PutWords(uint32(wire.Fragment), wire.FragmentHeaderWords, tbl.TableId, 0, 0)

	// Only 2 uint16 elements (4 bytes, sz=1 word) where the declared
	// array length is 4: effective array size 2 < declared 4.
	writeWideTuple(fb, true, 55, []uint16{10, 20})

	fb.PutWords(0)
	fb.PutWords(uint32(wire.FragmentFooterSection), wire.FragmentFooterWords, tbl.TableId, 0, 1, 0)

	path := filepath.Join(t.TempDir(), "short-variable.bin")
	require.NoError(t, os.WriteFile(path, fb.Bytes(), 0o600))

	metadata := schema.NewMetadata([]*schema.Table{tbl}, 7, 11)
	dr, err := New(path, 42, metadata, restoresink.Noop)
	require.NoError(t, err)
	defer dr.Close()

	_, _, err = dr.NextFragment()
	require.NoError(t, err)

	_, err = dr.NextTuple()
	require.Error(t, err)
	require.True(t, restoreerr.Is(err, restoreerr.KindConsistency))
}
