package core

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/meetsync/internal/domain"
	"github.com/dkeye/meetsync/internal/relay"
	"github.com/pion/webrtc/v4"
)

type MessageType string

const (
	// broker -> client
	TypeOpen    MessageType = "open"
	TypeIDTaken MessageType = "id-taken"
	TypeError   MessageType = "error"
	TypeExpire  MessageType = "expire"
	TypePong    MessageType = "pong"

	// client -> broker -> client
	TypeOffer     MessageType = "offer"
	TypeAnswer    MessageType = "answer"
	TypeCandidate MessageType = "candidate"
	TypeLeave     MessageType = "leave"

	// client -> broker
	TypePing MessageType = "ping"
)

// Routed reports whether the broker forwards t to the destination identity.
func (t MessageType) Routed() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeCandidate, TypeLeave:
		return true
	}
	return false
}

// Message is the broker envelope. Src is stamped by the broker; clients set
// Dst on routed messages.
type Message struct {
	Type    MessageType     `json:"type"`
	Src     domain.Identity `json:"src,omitempty"`
	Dst     domain.Identity `json:"dst,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type ConnKind string

const (
	ConnMedia ConnKind = "media"
	ConnData  ConnKind = "data"
)

type OpenPayload struct {
	ID domain.Identity `json:"id"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type OfferPayload struct {
	ConnectionID string          `json:"connectionId"`
	Kind         ConnKind        `json:"kind"`
	SDP          string          `json:"sdp"`
	Metadata     *relay.Metadata `json:"metadata,omitempty"`
}

type AnswerPayload struct {
	ConnectionID string `json:"connectionId"`
	SDP          string `json:"sdp"`
}

type CandidatePayload struct {
	ConnectionID string                  `json:"connectionId"`
	Candidate    webrtc.ICECandidateInit `json:"candidate"`
}

// LeavePayload without a connection id means the whole identity left.
type LeavePayload struct {
	ConnectionID string `json:"connectionId,omitempty"`
}

// NewMessage builds an envelope with payload marshalled to JSON.
func NewMessage(t MessageType, dst domain.Identity, payload any) (Message, error) {
	msg := Message{Type: t, Dst: dst}
	if payload == nil {
		return msg, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	msg.Payload = b
	return msg, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%s payload: %w", m.Type, err)
	}
	return nil
}

// Encode marshals the envelope into a frame.
func (m Message) Encode() (Frame, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return Frame(b), nil
}
