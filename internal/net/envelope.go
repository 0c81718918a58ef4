package net

import (
	"fmt"
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"
)

// Envelope is the wire frame for every message in both directions.
// Commands carry a client-chosen id; the response to a command echoes the
// same id. Server-initiated events draw a fresh id from NextEventID.
type Envelope struct {
	ID      uint64             `msgpack:"id"`
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

var eventSeq atomic.Uint64

// NextEventID numbers a server-initiated event. Ids are unique per process
// and monotonic, so a client can spot reordering or duplication.
func NextEventID() uint64 {
	return eventSeq.Add(1)
}

// Decode unmarshals the payload into v.
func (e *Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := msgpack.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// EncodeEnvelope builds a wire frame. A nil payload is sent as an empty map
// so clients never see a missing field.
func EncodeEnvelope(id uint64, typ string, payload any) ([]byte, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return msgpack.Marshal(&Envelope{ID: id, Type: typ, Payload: raw})
}

// DecodeEnvelope parses a wire frame.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if e.Type == "" {
		return nil, fmt.Errorf("envelope without type")
	}
	return &e, nil
}
