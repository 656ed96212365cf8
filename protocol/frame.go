// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/loom-foundation/loom/lib/codec"
)

// Frame type constants. Each frame is a 5-byte header (1 byte type +
// 4 byte big-endian payload length) followed by a CBOR payload.
const (
	// FrameTypeJoin requests membership in a room. Client→relay.
	// Body: Join.
	FrameTypeJoin byte = 0x01

	// FrameTypeJoined acknowledges a join. Relay→client. Body: Joined.
	FrameTypeJoined byte = 0x02

	// FrameTypeEnablePersistence opts the room into durable storage.
	// Client→relay. Body: EnablePersistence.
	FrameTypeEnablePersistence byte = 0x03

	// FrameTypePersistenceEnabled acknowledges persistence activation.
	// Relay→client. Body: PersistenceEnabled.
	FrameTypePersistenceEnabled byte = 0x04

	// FrameTypeStore carries an encrypted state snapshot or update for
	// durable storage. Client→relay. Body: Store.
	FrameTypeStore byte = 0x05

	// FrameTypeSyncRequest asks the relay for everything it holds for
	// one document. Client→relay. Body: SyncRequest.
	FrameTypeSyncRequest byte = 0x06

	// FrameTypeSyncResponse answers a sync request, empty or not.
	// Relay→client. Body: SyncResponse.
	FrameTypeSyncResponse byte = 0x07

	// FrameTypeClose announces connection termination with a reason.
	// Either direction. Body: Close.
	FrameTypeClose byte = 0x08

	// FrameTypeError reports a non-fatal protocol error. Relay→client.
	// Body: ErrorInfo.
	FrameTypeError byte = 0x09
)

// frameHeaderLength is the fixed size of a frame header: 1 byte type +
// 4 bytes payload length.
const frameHeaderLength = 5

// maxPayloadLength caps the CBOR payload size. 16 MB leaves ample room
// for a full encrypted document snapshot.
const maxPayloadLength = 16 * 1024 * 1024

// Frame is a single protocol frame with its raw CBOR payload.
type Frame struct {
	Type    byte
	Payload []byte
}

// WriteFrame encodes body as deterministic CBOR and writes the framed
// message to w.
func WriteFrame(w io.Writer, frameType byte, body any) error {
	payload, err := codec.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode frame body: %w", err)
	}
	if len(payload) > maxPayloadLength {
		return fmt.Errorf("frame payload %d bytes exceeds maximum %d", len(payload), maxPayloadLength)
	}
	var header [frameHeaderLength]byte
	header[0] = frameType
	binary.BigEndian.PutUint32(header[1:5], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("write frame payload: %w", err)
		}
	}
	return nil
}

// ReadFrame reads one framed message from r. Returns an error if the
// stream is malformed or the payload exceeds maxPayloadLength.
func ReadFrame(r io.Reader) (Frame, error) {
	var header [frameHeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, fmt.Errorf("read frame header: %w", err)
	}
	frameType := header[0]
	payloadLength := binary.BigEndian.Uint32(header[1:5])
	if payloadLength > maxPayloadLength {
		return Frame{}, fmt.Errorf("payload length %d exceeds maximum %d", payloadLength, maxPayloadLength)
	}
	payload := make([]byte, payloadLength)
	if payloadLength > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, fmt.Errorf("read frame payload: %w", err)
		}
	}
	return Frame{Type: frameType, Payload: payload}, nil
}

// Decode unmarshals the frame's CBOR payload into body.
func (f Frame) Decode(body any) error {
	if err := codec.Unmarshal(f.Payload, body); err != nil {
		return fmt.Errorf("decode frame type 0x%02x body: %w", f.Type, err)
	}
	return nil
}
