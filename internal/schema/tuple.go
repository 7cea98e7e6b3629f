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

package schema

// Attribute is one decoded cell: a borrowed view into the enclosing
// Tuple or LogEntry's byte buffer, never an independent owner (source
// DESIGN NOTES: raw pointer aliasing into a decoded buffer). Value is
// nil when Null is true.
type Attribute struct {
	Desc  *AttributeDesc
	Null  bool
	Value []byte
}

// Tuple is one decoded row. Buffer is the fresh, tuple-owned backing
// array every Attribute.Value slices into; Attributes is indexed by
// attrId and always has exactly len(Table.AllAttributesDesc) entries.
// Each call to DataReader.NextTuple returns a new Tuple with its own
// Buffer, so a Tuple stays valid after later calls.
type Tuple struct {
	Table      *Table
	Buffer     []byte
	Attributes []Attribute
}

// Attr returns the decoded attribute for attrId.
func (t *Tuple) Attr(attrId int) Attribute {
	return t.Attributes[attrId]
}

// EventKind is the change kind carried by a LogEntry.
type EventKind int

const (
	EventInsert EventKind = iota
	EventUpdate
	EventDelete
)

func (k EventKind) String() string {
	switch k {
	case EventInsert:
		return "INSERT"
	case EventUpdate:
		return "UPDATE"
	case EventDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// LogEntry is one change record: the changed table, the event kind,
// and only the attributes actually present in this entry — unlike
// Tuple, this is not a full-width vector. Each call to
// LogReader.NextLogEntry decodes into a freshly allocated record body,
// so a LogEntry stays valid after later calls.
type LogEntry struct {
	Table  *Table
	Type   EventKind
	Values []Attribute
}
