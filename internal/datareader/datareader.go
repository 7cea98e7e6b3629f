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

// Package datareader decodes a data file's fragments and tuples.
// Grounded on RestoreDataIterator::getNextFragment / getNextTuple /
// readFragmentHeader / validateFragmentFooter.
package datareader

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

// zeroTupleLength is the sentinel tuple-length word marking the end of
// a fragment's tuple stream, immediately preceding the FragmentFooter.
const zeroTupleLength = 0

// DataReader decodes one data file against an already-loaded Metadata.
type DataReader struct {
	fr       *backupfile.FileReader
	metadata *schema.Metadata
	sink     restoresink.Sink

	inFragment  bool
	curTable    *schema.Table
	curFragment uint32
}

// New opens path as a data file. metadata must already be loaded from
// the matching control file.
func New(path string, backupId uint32, metadata *schema.Metadata, sink restoresink.Sink) (*DataReader, error) {
	fr, err := backupfile.Open(path, wire.DataFile, backupId)
	if err != nil {
		return nil, err
	}
	if sink == nil {
		sink = restoresink.Noop
	}
	dr := &DataReader{fr: fr, metadata: metadata, sink: sink}
	if err := dr.fr.ReadHeader(); err != nil {
		_ = fr.Close()
		return nil, err
	}
	return dr, nil
}

// NewFromLocator opens the data file at loc.DataPath(fileNo),
// inheriting node id and backup id from loc rather than requiring the
// caller to restate them — loc typically comes from an already-opened
// MetadataReader's Locator.
func NewFromLocator(loc backupfile.FileLocator, fileNo uint32, metadata *schema.Metadata, sink restoresink.Sink) (*DataReader, error) {
	return New(loc.DataPath(fileNo), loc.BackupId, metadata, sink)
}

// Close releases the underlying file.
func (dr *DataReader) Close() error {
	return dr.fr.Close()
}

// NextFragment advances past any unfinished fragment and opens the
// next one, returning its table and fragment id. io.EOF means the data
// file is exhausted.
func (dr *DataReader) NextFragment() (table *schema.Table, fragmentId uint32, err error) {
	if dr.inFragment {
		if err := dr.drainFragment(); err != nil {
			return nil, 0, err
		}
	}

	buf, err := dr.fr.TryReadExact(wire.FragmentHeaderWords * 4)
	if err == io.EOF {
		return nil, 0, io.EOF
	}
	if err != nil {
		return nil, 0, err
	}

	words := readWords(buf, wire.FragmentHeaderWords, dr.fr.HostByteOrder)
	if wire.SectionType(words[0]) != wire.Fragment {
		return nil, 0, restoreerr.Newf(restoreerr.KindFormat, "DataReader.NextFragment",
			"expected fragment header section type %d, got %d", wire.Fragment, words[0])
	}
	tableId, fragId := words[2], words[3]

	t, ok := dr.metadata.Table(tableId)
	if !ok {
		return nil, 0, restoreerr.Newf(restoreerr.KindUnknownTable, "DataReader.NextFragment",
			"fragment header references unknown table id %d", tableId)
	}

	dr.inFragment = true
	dr.curTable = t
	dr.curFragment = fragId
	dr.sink.Debug("opened fragment", "table", t.Name, "fragmentId", fragId)
	return t, fragId, nil
}

// drainFragment reads and discards any remaining tuples in the current
// fragment so NextFragment can resynchronize on its footer.
func (dr *DataReader) drainFragment() error {
	for {
		_, err := dr.NextTuple()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// NextTuple decodes the next tuple in the current fragment. io.EOF
// means the fragment's tuple stream is exhausted (its footer has been
// consumed); the caller should call NextFragment again.
func (dr *DataReader) NextTuple() (*schema.Tuple, error) {
	if !dr.inFragment {
		return nil, errNoFragment
	}

	lenBuf, err := dr.fr.ReadExact(4)
	if err != nil {
		return nil, err
	}
	tupleLenWords := readWord(lenBuf, dr.fr.HostByteOrder)
	if tupleLenWords == zeroTupleLength {
		if err := dr.validateFragmentFooter(); err != nil {
			return nil, err
		}
		dr.inFragment = false
		return nil, io.EOF
	}

	body, err := dr.fr.ReadFresh(int(tupleLenWords) * 4)
	if err != nil {
		return nil, err
	}
	return dr.decodeTuple(dr.curTable, body)
}

var errNoFragment = restoreerr.Newf(restoreerr.KindConsistency, "datareader", "NextTuple called with no open fragment")

// validateFragmentFooter reads and checks the fixed-size footer that
// follows a fragment's zero tuple-length sentinel. A table/fragment id
// mismatch against the header just read is a KindConsistency error.
// The footer's NoOfRecords and Checksum words are read but not checked:
// the number of tuples decoded is not compared against NoOfRecords.
func (dr *DataReader) validateFragmentFooter() error {
	buf, err := dr.fr.ReadExact(wire.FragmentFooterWords * 4)
	if err != nil {
		return err
	}
	words := readWords(buf, wire.FragmentFooterWords, dr.fr.HostByteOrder)
	if wire.SectionType(words[0]) != wire.FragmentFooterSection {
		return restoreerr.Newf(restoreerr.KindFormat, "DataReader.validateFragmentFooter",
			"expected fragment footer section type %d, got %d", wire.FragmentFooterSection, words[0])
	}
	tableId, fragId := words[2], words[3]

	if tableId != dr.curTable.TableId || fragId != dr.curFragment {
		return restoreerr.Newf(restoreerr.KindConsistency, "DataReader.validateFragmentFooter",
			"footer references table %d fragment %d, header was table %d fragment %d",
			tableId, fragId, dr.curTable.TableId, dr.curFragment)
	}
	return nil
}

// decodeTuple reassembles one tuple from its mixed layout: null
// bitmask words, fixed-key area, fixed-attrib area, then a variable
// area of (sz, id)-prefixed entries for nullable columns present.
// Grounded on RestoreDataIterator::getNextTuple / Twiddle.
func (dr *DataReader) decodeTuple(t *schema.Table, buf []byte) (*schema.Tuple, error) {
	tuple := &schema.Tuple{
		Table:      t,
		Buffer:     buf,
		Attributes: make([]schema.Attribute, len(t.AllAttributesDesc)),
	}

	offset := 0
	bitmaskBytes := t.NullBitmaskSize * 4
	if offset+bitmaskBytes > len(buf) {
		return nil, restoreerr.New(restoreerr.KindFormat, "DataReader.decodeTuple", errShortTuple)
	}
	nullBitmask := buf[offset : offset+bitmaskBytes]
	offset += bitmaskBytes
	if !dr.fr.HostByteOrder {
		if err := twiddle.WordsInPlace(nullBitmask); err != nil {
			return nil, err
		}
	}

	for _, d := range t.FixedKeys {
		if _, err := dr.readFixed(tuple, d, buf, &offset); err != nil {
			return nil, err
		}
	}
	for _, d := range t.FixedAttribs {
		if _, err := dr.readFixed(tuple, d, buf, &offset); err != nil {
			return nil, err
		}
	}

	for _, d := range t.VariableAttribs {
		null := isBitSet(nullBitmask, d.NullBitIndex)
		if null {
			tuple.Attributes[d.AttrId] = schema.Attribute{Desc: d, Null: true}
			continue
		}
		if offset+wire.VariableDataHeaderWords*4 > len(buf) {
			return nil, restoreerr.New(restoreerr.KindFormat, "DataReader.decodeTuple", errShortTuple)
		}
		hdrWords := readWords(buf[offset:], wire.VariableDataHeaderWords, dr.fr.HostByteOrder)
		sz, attrId := int(hdrWords[0]), int(hdrWords[1])
		offset += wire.VariableDataHeaderWords * 4

		if attrId != d.AttrId {
			return nil, restoreerr.Newf(restoreerr.KindConsistency, "DataReader.decodeTuple",
				"variable data header attrId %d does not match expected %d", attrId, d.AttrId)
		}

		byteLen := sz * 4
		if offset+byteLen > len(buf) {
			return nil, restoreerr.New(restoreerr.KindFormat, "DataReader.decodeTuple", errShortTuple)
		}
		effectiveArraySize := byteLen / (d.SizeBits / 8)
		if effectiveArraySize < d.ArraySize {
			return nil, restoreerr.Newf(restoreerr.KindConsistency, "DataReader.decodeTuple",
				"variable data for attr %d has effective array size %d, less than declared %d",
				d.AttrId, effectiveArraySize, d.ArraySize)
		}
		value := buf[offset : offset+byteLen]
		offset += byteLen

		attr := schema.Attribute{Desc: d, Value: value}
		if err := twiddle.Attribute(&attr, dr.fr.HostByteOrder, d.ArraySize); err != nil {
			return nil, err
		}
		tuple.Attributes[d.AttrId] = attr
	}

	return tuple, nil
}

var errShortTuple = errors.New("tuple buffer too short for declared schema")

// readFixed decodes one fixed-width (key or non-nullable) attribute at
// *offset, twiddling it and advancing *offset past it.
func (dr *DataReader) readFixed(tuple *schema.Tuple, d *schema.AttributeDesc, buf []byte, offset *int) (int, error) {
	byteLen := (d.SizeBits*d.ArraySize + 7) / 8
	wordLen := d.SizeInWords() * 4
	if *offset+wordLen > len(buf) {
		return 0, restoreerr.New(restoreerr.KindFormat, "DataReader.readFixed", errShortTuple)
	}
	value := buf[*offset : *offset+byteLen]
	*offset += wordLen

	attr := schema.Attribute{Desc: d, Value: value}
	if err := twiddle.Attribute(&attr, dr.fr.HostByteOrder, d.ArraySize); err != nil {
		return 0, err
	}
	tuple.Attributes[d.AttrId] = attr
	return byteLen, nil
}

// isBitSet reads bit from a bitmask already normalized to host byte
// order (see decodeTuple's twiddle of nullBitmask).
func isBitSet(bitmask []byte, bit int) bool {
	word := bit / 32
	idx := bit % 32
	if word*4+4 > len(bitmask) {
		return false
	}
	w := binary.NativeEndian.Uint32(bitmask[word*4 : word*4+4])
	return w&(1<<uint(idx)) != 0
}

// readWord reads a framing word, always big-endian regardless of the
// producer's native order.
func readWord(buf []byte, hostByteOrder bool) uint32 {
	_ = hostByteOrder
	return binary.BigEndian.Uint32(buf)
}

// readWords reads n consecutive big-endian framing words. Framing
// words (lengths, ids) are always big-endian on the wire regardless of
// the producer's native order; only payload scalars need twiddling.
func readWords(buf []byte, n int, hostByteOrder bool) []uint32 {
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		out[i] = binary.BigEndian.Uint32(buf[i*4 : i*4+4])
	}
	return out
}
