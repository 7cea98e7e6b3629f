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

// Package testfixture builds synthetic control/data/log files byte for
// byte, for exercising the readers without a real cluster backup.
// Framing words (section types, lengths, table/fragment ids, GCP
// values) are always big-endian, matching every reader's readWord(s).
// Payload scalars (dictionary blobs, null bitmasks, attribute values)
// are written so that, after the reader's twiddle step, they land in
// the byte sequence the caller asked for: Payload reverses each
// element's bytes when hostByteOrder is false, mirroring what
// twiddle.Attribute/WordsInPlace will undo on decode.
package testfixture

import (
	"encoding/binary"

	"github.com/clusterdb/backupreader/internal/wire"
)

// Builder accumulates bytes for one backup file.
type Builder struct {
	buf           []byte
	hostByteOrder bool
}

// NewBuilder starts a new file, writing its fixed header immediately.
func NewBuilder(fileType wire.FileType, backupId uint32, ndbVersion uint32, hostByteOrder bool) *Builder {
	b := &Builder{hostByteOrder: hostByteOrder}
	b.putMagic()
	b.putU32BE(ndbVersion)
	b.putU32BE(uint32(wire.CtlFile)) // header SectionType: not interpreted by readers, reuse CtlFile's value
	b.putU32BE(wire.HeaderSize / 4)
	b.putU32BE(uint32(fileType))
	b.putU32BE(backupId)
	b.putU32BE(0) // BackupKeyWord0
	b.putU32BE(0) // BackupKeyWord1
	if hostByteOrder {
		b.putU32BE(wire.MagicByteOrder)
	} else {
		b.putU32BE(wire.SwappedMagicByteOrder)
	}
	return b
}

func (b *Builder) putMagic() {
	b.buf = append(b.buf, "NDBBCKUP"...)
}

// Bytes returns the accumulated file content.
func (b *Builder) Bytes() []byte { return b.buf }

// putU32BE appends a framing word, always big-endian.
func (b *Builder) putU32BE(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
}

// PutWords appends framing words (section headers, lengths, ids).
func (b *Builder) PutWords(words ...uint32) {
	for _, w := range words {
		b.putU32BE(w)
	}
}

// PutPayload appends a payload buffer whose final, decoded (twiddled)
// form must equal final. final's length must be a multiple of
// elemWidth. When the builder's byte order is swapped, each element is
// byte-reversed so the reader's twiddle step restores final exactly.
func (b *Builder) PutPayload(final []byte, elemWidth int) {
	b.buf = append(b.buf, Payload(final, elemWidth, b.hostByteOrder)...)
}

// Payload returns final as it must appear on the wire so that decoding
// it under hostByteOrder yields final back unchanged.
func Payload(final []byte, elemWidth int, hostByteOrder bool) []byte {
	if hostByteOrder || elemWidth <= 1 {
		return append([]byte(nil), final...)
	}
	out := append([]byte(nil), final...)
	for off := 0; off+elemWidth <= len(out); off += elemWidth {
		elem := out[off : off+elemWidth]
		for l, r := 0, elemWidth-1; l < r; l, r = l+1, r-1 {
			elem[l], elem[r] = elem[r], elem[l]
		}
	}
	return out
}

// PadWords right-pads buf with zero bytes to a multiple of 4.
func PadWords(buf []byte) []byte {
	for len(buf)%4 != 0 {
		buf = append(buf, 0)
	}
	return buf
}
