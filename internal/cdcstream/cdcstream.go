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

// Package cdcstream publishes each decoded LogEntry as a CBOR-encoded
// Kafka message — a restore log is structurally a change-data-capture
// stream, so it gets the same treatment as any other CDC source.
package cdcstream

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	kafka "github.com/segmentio/kafka-go"

	"github.com/clusterdb/backupreader/internal/schema"
)

// Message is the wire shape one LogEntry is encoded to. Attribute
// values keep their raw decoded bytes; consumers that need typed
// values apply the same schema metadata independently, since the core
// decoder's AttributeDesc is not itself wire-serializable.
type Message struct {
	Table  string      `cbor:"table"`
	Type   string      `cbor:"type"`
	Values []FieldCBOR `cbor:"values"`
}

// FieldCBOR is one attribute within a Message.
type FieldCBOR struct {
	AttrID int    `cbor:"attr_id"`
	Null   bool   `cbor:"null"`
	Value  []byte `cbor:"value,omitempty"`
}

// Codec wraps a CBOR encoding and decoding mode pair. Map keys are not
// sorted (cbor.SortNone); Message is a struct, so its fields are
// encoded in declaration order.
type Codec struct {
	encMode cbor.EncMode
	decMode cbor.DecMode
}

// NewCodec builds a Codec whose encoder does not sort map keys.
func NewCodec() (*Codec, error) {
	encMode, err := cbor.EncOptions{Sort: cbor.SortNone}.EncMode()
	if err != nil {
		return nil, fmt.Errorf("create cbor encoder: %w", err)
	}
	decMode, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("create cbor decoder: %w", err)
	}
	return &Codec{encMode: encMode, decMode: decMode}, nil
}

// Encode converts a decoded LogEntry to its wire Message form.
func (c *Codec) Encode(entry *schema.LogEntry) ([]byte, error) {
	msg := Message{
		Table: entry.Table.Name,
		Type:  entry.Type.String(),
	}
	for _, v := range entry.Values {
		f := FieldCBOR{AttrID: v.Desc.AttrId, Null: v.Null}
		if !v.Null {
			f.Value = v.Value
		}
		msg.Values = append(msg.Values, f)
	}
	return c.encMode.Marshal(msg)
}

// Decode parses a wire Message back out of CBOR bytes.
func (c *Codec) Decode(data []byte) (*Message, error) {
	var msg Message
	if err := c.decMode.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode cdc message: %w", err)
	}
	return &msg, nil
}

// Publisher writes decoded log entries to a Kafka topic, one message
// per entry, keyed by table name so a single partition sees every
// change for one table in order.
type Publisher struct {
	writer *kafka.Writer
	codec  *Codec
}

// NewPublisher builds a Publisher writing to topic on brokers.
func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	codec, err := NewCodec()
	if err != nil {
		return nil, err
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
		codec: codec,
	}, nil
}

// Publish encodes and sends one LogEntry.
func (p *Publisher) Publish(ctx context.Context, entry *schema.LogEntry) error {
	payload, err := p.codec.Encode(entry)
	if err != nil {
		return fmt.Errorf("encode log entry for table %s: %w", entry.Table.Name, err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(entry.Table.Name),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("publish log entry for table %s: %w", entry.Table.Name, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}
