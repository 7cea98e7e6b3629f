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

// Package wire holds the on-disk layout constants and fixed structures
// shared by the control, data, and log file readers. All framing words
// (section types, lengths, table and fragment ids, GCP values) are
// big-endian on disk; scalar payload inside tuples and log entries is
// in the producer's native byte order and is twiddled separately.
package wire

// FileType identifies which of the three backup files a reader expects.
type FileType uint32

const (
	CtlFile  FileType = 1
	DataFile FileType = 2
	LogFile  FileType = 3
)

func (t FileType) String() string {
	switch t {
	case CtlFile:
		return "CTL_FILE"
	case DataFile:
		return "DATA_FILE"
	case LogFile:
		return "LOG_FILE"
	default:
		return "UNKNOWN_FILE_TYPE"
	}
}

// SectionType tags the framed sections that appear in control and data files.
type SectionType uint32

const (
	// TableList is the control file's leading table-count preamble.
	// It shares TableDescription's numeric value; the two are told
	// apart by position (TableList is always read once, unconditionally,
	// before any section dispatch begins), never by comparing type
	// words.
	TableList             SectionType = 2
	TableDescription      SectionType = 2
	GCPEntry              SectionType = 3
	Fragment              SectionType = 4
	FragmentFooterSection SectionType = 5
)

// MagicByteOrder is the word a producer writes in its own native byte
// order. A reader that reads it back unchanged (in host order) knows
// the file was produced on a host of the same endianness.
const MagicByteOrder uint32 = 0x12345678

// SwappedMagicByteOrder is MagicByteOrder with its bytes reversed; a
// reader that reads this value knows every payload scalar in the file
// must be byte-swapped before use.
const SwappedMagicByteOrder uint32 = 0x78563412

// HeaderSize is the fixed, on-disk size in bytes of FileHeader.
const HeaderSize = 8 + 4*7 + 4

// FileHeader is the fixed preamble of every backup file. Every field
// except Magic is big-endian on disk and converted to host order by
// the reader; ByteOrder, once converted, is compared against
// MagicByteOrder/SwappedMagicByteOrder to discover the producer's
// native endianness.
type FileHeader struct {
	Magic          [8]byte
	NdbVersion     uint32
	SectionType    uint32
	SectionLength  uint32
	FileType       uint32
	BackupId       uint32
	BackupKeyWord0 uint32
	BackupKeyWord1 uint32
	ByteOrder      uint32
}

// FragmentHeader precedes every fragment's tuple stream in a data file.
type FragmentHeader struct {
	SectionType   uint32
	SectionLength uint32
	TableId       uint32
	FragmentNo    uint32
	ChecksumType  uint32
}

// FragmentHeaderWords is FragmentHeader's fixed size in 32-bit words.
const FragmentHeaderWords = 5

// FragmentFooter follows the zero-length terminator of a fragment's
// tuple stream. Checksum is parsed but never verified (spec Non-goal).
type FragmentFooter struct {
	SectionType   uint32
	SectionLength uint32
	TableId       uint32
	FragmentNo    uint32
	NoOfRecords   uint32
	Checksum      uint32
}

// FragmentFooterWords is FragmentFooter's fixed size in 32-bit words.
const FragmentFooterWords = 6

// VariableDataHeaderWords is the fixed (sz, id) preamble before a
// variable-length attribute's payload in a tuple's variable area.
const VariableDataHeaderWords = 2

// LogEntryHasGCP is the bit in a log record's TriggerEvent word that
// marks a trailing 32-bit GCP value at the end of the record.
const LogEntryHasGCP uint32 = 0x10000

// LogEntryEventMask isolates the low 16 bits of TriggerEvent, which
// carry the actual trigger event code once LogEntryHasGCP is stripped.
const LogEntryEventMask uint32 = 0xFFFF

// TriggerEvent values as written by the backup producer.
const (
	TriggerEventInsert uint32 = 0
	TriggerEventUpdate uint32 = 1
	TriggerEventDelete uint32 = 2
)
