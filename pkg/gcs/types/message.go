package types

import (
	"bytes"
	"encoding/gob"
)

// DefaultPacketSize is the default message size target, ideally a
// multiple of the transport MTU.
const DefaultPacketSize = 64500

// WireMessage is the elementary transport unit: one fragment of one
// action, bounded by the configured packet size. local_action_id is
// unique and monotonic per sender; frag_index/frag_count let the
// defragmenter know when an action is complete.
type WireMessage struct {
	Sender          SenderID
	LocalActionID   uint64
	FragIndex       uint32
	FragCount       uint32
	ActionType      ActionType
	TotalSize       uint32
	Payload         []byte
	ProtocolVersion string

	// Timestamp is the sender's wall clock, in UnixNano, at the moment
	// the action was fragmented. Zero unless self-timestamping is
	// enabled on the sending connection.
	Timestamp int64
}

// Encode serializes the message with encoding/gob: a compact, binary,
// allocation-light codec well suited to this fixed-shape struct.
func (m WireMessage) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeWireMessage reverses Encode.
func DecodeWireMessage(data []byte) (WireMessage, error) {
	var m WireMessage
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return WireMessage{}, err
	}
	return m, nil
}

// EncodePayload serializes an internally-generated action body
// (ConfPayload, FlowPayload, ServicePayload, JoinPayload, SyncPayload)
// with the same codec as WireMessage.
func EncodePayload(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodePayload reverses EncodePayload into v, which must be a pointer.
func DecodePayload(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
