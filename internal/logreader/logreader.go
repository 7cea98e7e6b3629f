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

// Package logreader decodes a log file's change records, filtering out
// anything past the control file's stop GCP. Grounded on
// RestoreLogIterator::getNextLogEntry.
package logreader

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/clusterdb/backupreader/internal/backupfile"
	"github.com/clusterdb/backupreader/internal/restoreerr"
	"github.com/clusterdb/backupreader/internal/restoresink"
	"github.com/clusterdb/backupreader/internal/schema"
	"github.com/clusterdb/backupreader/internal/twiddle"
	"github.com/clusterdb/backupreader/internal/wire"
)

// zeroRecordLength marks the end of the log file's record stream.
const zeroRecordLength = 0

// LogReader decodes one log file against an already-loaded Metadata.
// A record is a sequence of 32-bit words: a length word, the changed
// table id, a type/GCP header word, then one AttributeHeader (attrId
// in the high 16 bits, payload length in words in the low 16 bits)
// plus payload per attribute present, and finally a trailing GCP word
// when the header's LogEntryHasGCP bit is set.
type LogReader struct {
	fr       *backupfile.FileReader
	metadata *schema.Metadata
	sink     restoresink.Sink
}

// New opens path as a log file.
func New(path string, backupId uint32, metadata *schema.Metadata, sink restoresink.Sink) (*LogReader, error) {
	fr, err := backupfile.Open(path, wire.LogFile, backupId)
	if err != nil {
		return nil, err
	}
	if sink == nil {
		sink = restoresink.Noop
	}
	lr := &LogReader{fr: fr, metadata: metadata, sink: sink}
	if err := lr.fr.ReadHeader(); err != nil {
		_ = fr.Close()
		return nil, err
	}
	return lr, nil
}

// NewFromLocator opens the log file at loc.LogPath(), inheriting node
// id and backup id from loc rather than requiring the caller to
// restate them — loc typically comes from an already-opened
// MetadataReader's Locator.
func NewFromLocator(loc backupfile.FileLocator, metadata *schema.Metadata, sink restoresink.Sink) (*LogReader, error) {
	return New(loc.LogPath(), loc.BackupId, metadata, sink)
}

// Close releases the underlying file.
func (lr *LogReader) Close() error {
	return lr.fr.Close()
}

// NextLogEntry decodes the next record whose GCP is within the control
// file's checkpoint window (gcp <= stopGCP+1), skipping any that are
// not. io.EOF means the log is exhausted.
func (lr *LogReader) NextLogEntry() (*schema.LogEntry, error) {
	for {
		entry, gcp, err := lr.readOneRecord()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return nil, io.EOF
		}
		if lr.metadata != nil && gcp > lr.metadata.StopGCP+1 {
			lr.sink.Debug("dropping log entry past stop GCP", "gcp", gcp, "stopGCP", lr.metadata.StopGCP)
			continue
		}
		return entry, nil
	}
}

// readOneRecord reads and decodes a single record, or returns a nil
// entry at a clean end of file.
func (lr *LogReader) readOneRecord() (*schema.LogEntry, uint32, error) {
	lenBuf, err := lr.fr.TryReadExact(4)
	if err == io.EOF {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	lengthWords := binary.BigEndian.Uint32(lenBuf)
	if lengthWords == zeroRecordLength {
		return nil, 0, nil
	}

	body, err := lr.fr.ReadFresh(int(lengthWords) * 4)
	if err != nil {
		return nil, 0, err
	}
	return lr.decodeRecord(body)
}

// decodeRecord parses one record body: [tableId][typeWord][attr headers
// + payloads]*[gcp?]. typeWord's low 16 bits are the event kind; bit
// LogEntryHasGCP marks the record's trailing word as a GCP value,
// excluded from the attribute stream rather than inserted before it.
// Each attribute header's low 16 bits give its payload length in
// words; zero means the attribute is null and has no payload bytes
// following the header.
func (lr *LogReader) decodeRecord(body []byte) (*schema.LogEntry, uint32, error) {
	if len(body) < 8 {
		return nil, 0, restoreerr.New(restoreerr.KindFormat, "LogReader.decodeRecord", errShortRecord)
	}
	tableId := binary.BigEndian.Uint32(body[0:4])
	typeWord := binary.BigEndian.Uint32(body[4:8])
	offset := 8
	end := len(body)

	var gcp uint32
	if typeWord&wire.LogEntryHasGCP != 0 {
		if end-4 < offset {
			return nil, 0, restoreerr.New(restoreerr.KindFormat, "LogReader.decodeRecord", errShortRecord)
		}
		end -= 4
		gcp = binary.BigEndian.Uint32(body[end : end+4])
	}

	kind, err := eventKind(typeWord & wire.LogEntryEventMask)
	if err != nil {
		return nil, 0, err
	}

	table, ok := lr.metadata.Table(tableId)
	if !ok {
		return nil, 0, restoreerr.Newf(restoreerr.KindUnknownTable, "LogReader.decodeRecord",
			"log record references unknown table id %d", tableId)
	}

	var values []schema.Attribute
	for offset < end {
		if offset+4 > end {
			return nil, 0, restoreerr.New(restoreerr.KindFormat, "LogReader.decodeRecord", errShortRecord)
		}
		header := binary.BigEndian.Uint32(body[offset : offset+4])
		attrId := int(header >> 16)
		payloadWords := int(header & 0xFFFF)
		offset += 4

		d := table.Attr(attrId)
		if d == nil {
			return nil, 0, restoreerr.Newf(restoreerr.KindSchema, "LogReader.decodeRecord",
				"log record references unknown attribute id %d of table %s", attrId, table.Name)
		}

		if payloadWords == 0 {
			values = append(values, schema.Attribute{Desc: d, Null: true})
			continue
		}

		payloadBytes := payloadWords * 4
		if offset+payloadBytes > end {
			return nil, 0, restoreerr.New(restoreerr.KindFormat, "LogReader.decodeRecord", errShortRecord)
		}
		value := body[offset : offset+payloadBytes]
		offset += payloadBytes

		attr := schema.Attribute{Desc: d, Value: value}
		if err := twiddle.Attribute(&attr, lr.fr.HostByteOrder, d.ArraySize); err != nil {
			return nil, 0, err
		}
		values = append(values, attr)
	}

	return &schema.LogEntry{Table: table, Type: kind, Values: values}, gcp, nil
}

var errShortRecord = errors.New("log record shorter than its declared fields")

func eventKind(code uint32) (schema.EventKind, error) {
	switch code {
	case wire.TriggerEventInsert:
		return schema.EventInsert, nil
	case wire.TriggerEventUpdate:
		return schema.EventUpdate, nil
	case wire.TriggerEventDelete:
		return schema.EventDelete, nil
	default:
		return 0, restoreerr.Newf(restoreerr.KindFormat, "logreader.eventKind",
			"unrecognized log event code %d", code)
	}
}
