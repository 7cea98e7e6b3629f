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

package logreader

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clusterdb/backupreader/internal/backupfile"
	"github.com/clusterdb/backupreader/internal/dictcodec"
	"github.com/clusterdb/backupreader/internal/restoresink"
	"github.com/clusterdb/backupreader/internal/schema"
	"github.com/clusterdb/backupreader/internal/testfixture"
	"github.com/clusterdb/backupreader/internal/wire"
)

func buildLogTable(t *testing.T) *schema.Table {
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
	require.NoError(t, err)
	return tbl
}

// writeRecord appends one log record: [len][tableId][typeWord][attrHeader+payload]*[gcp?].
func writeRecord(b *testfixture.Builder, hostByteOrder bool, event uint32, gcp *uint32, tableId uint32, attrId int, value uint32) {
	typeWord := event
	if gcp != nil {
		typeWord |= wire.LogEntryHasGCP
	}
	bodyWords := []uint32{tableId, typeWord}
	header := uint32(attrId)<<16 | 1 // payload is 1 word
	bodyWords = append(bodyWords, header)

	numWords := len(bodyWords) + 1 // +1 word for the payload that follows
	if gcp != nil {
		numWords++ // trailing GCP word
	}
	b.PutWords(uint32(numWords))
	b.PutWords(bodyWords...)

	var payload [4]byte
	binary.NativeEndian.PutUint32(payload[:], value)
	b.PutPayload(payload[:], 4)

	if gcp != nil {
		b.PutWords(*gcp)
	}
}

// writeNullAttrRecord appends one log record whose sole attribute
// header declares a zero-word payload, i.e. a null value with nothing
// following the header.
func writeNullAttrRecord(b *testfixture.Builder, event uint32, tableId uint32, attrId int) {
	bodyWords := []uint32{tableId, event}
	header := uint32(attrId) << 16 // payloadWords == 0
	bodyWords = append(bodyWords, header)
	b.PutWords(uint32(len(bodyWords)))
	b.PutWords(bodyWords...)
}

func TestLogReaderDecodesNullAttribute(t *testing.T) {
	for _, hostByteOrder := range []bool{true, false} {
		t.Run(map[bool]string{true: "same-order", false: "swapped"}[hostByteOrder], func(t *testing.T) {
			tbl := buildLogTable(t)
			fb := testfixture.NewBuilder(wire.LogFile, 42, 8, hostByteOrder)
			writeNullAttrRecord(fb, wire.TriggerEventUpdate, tbl.TableId, 1)

			path := filepath.Join(t.TempDir(), "log.bin")
			require.NoError(t, os.WriteFile(path, fb.Bytes(), 0o600))

			metadata := schema.NewMetadata([]*schema.Table{tbl}, 7, 11)
			lr, err := New(path, 42, metadata, restoresink.Noop)
			require.NoError(t, err)
			defer lr.Close()

			entry, err := lr.NextLogEntry()
			require.NoError(t, err)
			require.Equal(t, schema.EventUpdate, entry.Type)
			require.Len(t, entry.Values, 1)
			require.True(t, entry.Values[0].Null)
			require.Nil(t, entry.Values[0].Value)

			_, err = lr.NextLogEntry()
			require.ErrorIs(t, err, io.EOF)
		})
	}
}

// TestNewFromLocatorOpensDerivedLogPath checks that NewFromLocator
// opens the file at the locator's conventional log-file name.
func TestNewFromLocatorOpensDerivedLogPath(t *testing.T) {
	tbl := buildLogTable(t)
	fb := testfixture.NewBuilder(wire.LogFile, 42, 8, true)
	writeRecord(fb, true, wire.TriggerEventInsert, nil, tbl.TableId, 1, 123)

	dir := t.TempDir()
	loc := backupfile.FileLocator{Dir: dir, NodeId: 5, BackupId: 42}
	require.NoError(t, os.WriteFile(loc.LogPath(), fb.Bytes(), 0o600))

	metadata := schema.NewMetadata([]*schema.Table{tbl}, 7, 11)
	lr, err := NewFromLocator(loc, metadata, restoresink.Noop)
	require.NoError(t, err)
	defer lr.Close()

	entry, err := lr.NextLogEntry()
	require.NoError(t, err)
	require.Equal(t, schema.EventInsert, entry.Type)
}

func TestLogReaderDecodesInsertAndFiltersByGCP(t *testing.T) {
	tbl := buildLogTable(t)
	fb := testfixture.NewBuilder(wire.LogFile, 42, 8, true)

	within := uint32(10)
	writeRecord(fb, true, wire.TriggerEventInsert, &within, tbl.TableId, 1, 123)

	tooFar := uint32(99)
	writeRecord(fb, true, wire.TriggerEventUpdate, &tooFar, tbl.TableId, 1, 456)

	path := filepath.Join(t.TempDir(), "log.bin")
	require.NoError(t, os.WriteFile(path, fb.Bytes(), 0o600))

	metadata := schema.NewMetadata([]*schema.Table{tbl}, 7, 11)
	lr, err := New(path, 42, metadata, restoresink.Noop)
	require.NoError(t, err)
	defer lr.Close()

	entry, err := lr.NextLogEntry()
	require.NoError(t, err)
	require.Equal(t, schema.EventInsert, entry.Type)
	require.Len(t, entry.Values, 1)
	require.Equal(t, uint32(123), binary.NativeEndian.Uint32(entry.Values[0].Value))

	// The second record's gcp (99) exceeds stopGCP+1 (12) and must be dropped.
	_, err = lr.NextLogEntry()
	require.ErrorIs(t, err, io.EOF)
}

func TestLogReaderDecodesDeleteWithoutGCP(t *testing.T) {
	tbl := buildLogTable(t)
	fb := testfixture.NewBuilder(wire.LogFile, 42, 8, false)

	writeRecord(fb, false, wire.TriggerEventDelete, nil, tbl.TableId, 0, 777)

	path := filepath.Join(t.TempDir(), "log.bin")
	require.NoError(t, os.WriteFile(path, fb.Bytes(), 0o600))

	metadata := schema.NewMetadata([]*schema.Table{tbl}, 7, 11)
	lr, err := New(path, 42, metadata, restoresink.Noop)
	require.NoError(t, err)
	defer lr.Close()

	entry, err := lr.NextLogEntry()
	require.NoError(t, err)
	require.Equal(t, schema.EventDelete, entry.Type)
	require.Equal(t, uint32(777), binary.NativeEndian.Uint32(entry.Values[0].Value))

	_, err = lr.NextLogEntry()
	require.ErrorIs(t, err, io.EOF)
}
