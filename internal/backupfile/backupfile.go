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

// Package backupfile owns one open backup file: its fixed header, the
// resolved byte order, and a scratch buffer reused across reads.
package backupfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/clusterdb/backupreader/internal/restoreerr"
	"github.com/clusterdb/backupreader/internal/wire"
)

// FileReader owns one open file handle, a reusable decode scratch
// buffer, and the result of header negotiation. It is not safe for
// concurrent use; each reader owns its own instance.
type FileReader struct {
	path string
	f    *os.File

	scratch []byte

	expectedFileType wire.FileType
	expectedBackupId uint32

	Header        wire.FileHeader
	HostByteOrder bool
}

// NormalizePath appends a trailing "/" to a non-empty path that lacks
// one; an empty path means the current directory.
func NormalizePath(path string) string {
	if path == "" {
		return ""
	}
	if path[len(path)-1] == '/' {
		return path
	}
	return path + "/"
}

// FileLocator identifies one node's backup by directory, node id, and
// backup id — enough to derive the on-disk name of any of its three
// files without the caller restating the convention at each call site.
type FileLocator struct {
	Dir      string
	NodeId   uint32
	BackupId uint32
}

// CtlPath builds this locator's control-file path: BACKUP-<backupId>.<nodeId>.ctl.
func (l FileLocator) CtlPath() string {
	return NormalizePath(l.Dir) + fmt.Sprintf("BACKUP-%d.%d.ctl", l.BackupId, l.NodeId)
}

// DataPath builds this locator's data-file path for one fileNo:
// BACKUP-<backupId>-<fileNo>.<nodeId>.Data.
func (l FileLocator) DataPath(fileNo uint32) string {
	return NormalizePath(l.Dir) + fmt.Sprintf("BACKUP-%d-%d.%d.Data", l.BackupId, fileNo, l.NodeId)
}

// LogPath builds this locator's log-file path: BACKUP-<backupId>.<nodeId>.log.
func (l FileLocator) LogPath() string {
	return NormalizePath(l.Dir) + fmt.Sprintf("BACKUP-%d.%d.log", l.BackupId, l.NodeId)
}

// Open opens the file at path, remembering the file type and backup id
// ReadHeader will validate against. It does not read the header.
func Open(path string, expectedFileType wire.FileType, expectedBackupId uint32) (*FileReader, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, restoreerr.New(restoreerr.KindIO, "backupfile.Open", err)
	}
	return &FileReader{
		path:             path,
		f:                f,
		expectedFileType: expectedFileType,
		expectedBackupId: expectedBackupId,
	}, nil
}

// ReadHeader reads the fixed header struct, converts every big-endian
// integer field to host order, then interprets the byte-order marker.
// ByteOrder is converted from big-endian like the other fields: if it
// equals wire.MagicByteOrder the file was produced by a same-endian
// host and HostByteOrder is set true; if it equals
// wire.SwappedMagicByteOrder, HostByteOrder is false and every
// subsequent payload scalar in this file must be twiddled. Any other
// value, a FileType mismatch, or (when expectedBackupId is non-zero) a
// BackupId mismatch, is a KindFormat error.
func (fr *FileReader) ReadHeader() error {
	buf := make([]byte, wire.HeaderSize)
	if _, err := io.ReadFull(fr.f, buf); err != nil {
		return restoreerr.New(restoreerr.KindIO, "FileReader.ReadHeader", err)
	}

	var h wire.FileHeader
	copy(h.Magic[:], buf[0:8])
	h.NdbVersion = binary.BigEndian.Uint32(buf[8:12])
	h.SectionType = binary.BigEndian.Uint32(buf[12:16])
	h.SectionLength = binary.BigEndian.Uint32(buf[16:20])
	h.FileType = binary.BigEndian.Uint32(buf[20:24])
	h.BackupId = binary.BigEndian.Uint32(buf[24:28])
	h.BackupKeyWord0 = binary.BigEndian.Uint32(buf[28:32])
	h.BackupKeyWord1 = binary.BigEndian.Uint32(buf[32:36])
	h.ByteOrder = binary.BigEndian.Uint32(buf[36:40])

	if wire.FileType(h.FileType) != fr.expectedFileType {
		return restoreerr.Newf(restoreerr.KindFormat, "FileReader.ReadHeader",
			"file %s has type %d, expected %s", fr.path, h.FileType, fr.expectedFileType)
	}
	if fr.expectedBackupId != 0 && h.BackupId != fr.expectedBackupId {
		return restoreerr.Newf(restoreerr.KindFormat, "FileReader.ReadHeader",
			"file %s has backup id %d, expected %d", fr.path, h.BackupId, fr.expectedBackupId)
	}

	switch h.ByteOrder {
	case wire.MagicByteOrder:
		fr.HostByteOrder = true
	case wire.SwappedMagicByteOrder:
		fr.HostByteOrder = false
	default:
		return restoreerr.Newf(restoreerr.KindFormat, "FileReader.ReadHeader",
			"file %s has unrecognized byte-order marker 0x%x", fr.path, h.ByteOrder)
	}

	fr.Header = h
	return nil
}

// ensureScratch grows the scratch buffer to at least n bytes, using the
// source's growth policy: newSize = currentSize + 2*n.
func (fr *FileReader) ensureScratch(n int) {
	if n <= len(fr.scratch) {
		return
	}
	fr.scratch = make([]byte, len(fr.scratch)+2*n)
}

// ReadExact fills the scratch buffer with the next n bytes and returns
// a view into it. The returned slice is only valid until the next call
// to ReadExact or TryReadExact; callers that need the data past that must
// copy it. A short read is a KindIO error.
func (fr *FileReader) ReadExact(n int) ([]byte, error) {
	fr.ensureScratch(n)
	if _, err := io.ReadFull(fr.f, fr.scratch[:n]); err != nil {
		return nil, restoreerr.New(restoreerr.KindIO, "FileReader.ReadExact", unexpectedEOF(err))
	}
	return fr.scratch[:n], nil
}

// ReadFresh reads the next n bytes into a newly allocated, independent
// buffer — used for tuple data, which must outlive the next read call.
func (fr *FileReader) ReadFresh(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(fr.f, buf); err != nil {
		return nil, restoreerr.New(restoreerr.KindIO, "FileReader.ReadFresh", unexpectedEOF(err))
	}
	return buf, nil
}

// TryReadExact behaves like ReadExact but returns io.EOF unwrapped
// (not a restoreerr.Error) when the read fails on a clean end of file
// with zero bytes consumed, so callers can distinguish "no more
// fragments/records" from a genuine I/O failure.
func (fr *FileReader) TryReadExact(n int) ([]byte, error) {
	fr.ensureScratch(n)
	read, err := io.ReadFull(fr.f, fr.scratch[:n])
	if err != nil {
		if read == 0 && (errors.Is(err, io.EOF)) {
			return nil, io.EOF
		}
		return nil, restoreerr.New(restoreerr.KindIO, "FileReader.TryReadExact", unexpectedEOF(err))
	}
	return fr.scratch[:n], nil
}

func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("unexpected EOF: %w", err)
	}
	return err
}

// Close releases the file handle and the scratch buffer.
func (fr *FileReader) Close() error {
	fr.scratch = nil
	if fr.f == nil {
		return nil
	}
	err := fr.f.Close()
	fr.f = nil
	if err != nil {
		return restoreerr.New(restoreerr.KindIO, "FileReader.Close", err)
	}
	return nil
}

// Path returns the path this reader was opened against.
func (fr *FileReader) Path() string { return fr.path }
