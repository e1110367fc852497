package roster

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/meetsync/internal/domain"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec turns roster messages into data channel payloads.
type Codec interface {
	Name() string
	Encode(Message) ([]byte, error)
	Decode([]byte) (Message, error)
}

const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// CodecByName resolves the configured wire codec. Empty selects JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return JSONCodec{}, nil
	case CodecMsgpack:
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown wire codec %q", name)
	}
}

// wire is the flat shape every kind shares on the wire.
type wire struct {
	Type         Kind              `json:"type" msgpack:"type"`
	Participants []ParticipantInfo `json:"participants,omitempty" msgpack:"participants,omitempty"`
	UserID       domain.Identity   `json:"userId,omitempty" msgpack:"userId,omitempty"`
	UserName     string            `json:"userName,omitempty" msgpack:"userName,omitempty"`
	Participant  *ParticipantInfo  `json:"participant,omitempty" msgpack:"participant,omitempty"`
}

// existingWire keeps an empty participant list as [] instead of dropping it.
type existingWire struct {
	Type         Kind              `json:"type" msgpack:"type"`
	Participants []ParticipantInfo `json:"participants" msgpack:"participants"`
}

func toWire(m Message) (any, error) {
	switch msg := m.(type) {
	case GetParticipants:
		return wire{Type: KindGetParticipants}, nil
	case ExistingParticipants:
		ps := msg.Participants
		if ps == nil {
			ps = []ParticipantInfo{}
		}
		return existingWire{Type: KindExistingParticipants, Participants: ps}, nil
	case NewUser:
		return wire{Type: KindNewUser, UserID: msg.UserID, UserName: msg.UserName}, nil
	case NewParticipant:
		p := msg.Participant
		return wire{Type: KindNewParticipant, Participant: &p}, nil
	case RemoveUser:
		return wire{Type: KindRemoveUser, UserID: msg.UserID}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, m)
	}
}

func fromWire(w wire) (Message, error) {
	switch w.Type {
	case KindGetParticipants:
		return GetParticipants{}, nil
	case KindExistingParticipants:
		for i, p := range w.Participants {
			if p.ID == "" {
				return nil, fmt.Errorf("%w: existing-participants entry %d without id", ErrMalformed, i)
			}
		}
		return ExistingParticipants{Participants: w.Participants}, nil
	case KindNewUser:
		if w.UserID == "" {
			return nil, fmt.Errorf("%w: new-user without userId", ErrMalformed)
		}
		return NewUser{UserID: w.UserID, UserName: w.UserName}, nil
	case KindNewParticipant:
		if w.Participant == nil || w.Participant.ID == "" {
			return nil, fmt.Errorf("%w: new-participant without participant id", ErrMalformed)
		}
		return NewParticipant{Participant: *w.Participant}, nil
	case KindRemoveUser:
		if w.UserID == "" {
			return nil, fmt.Errorf("%w: remove-user without userId", ErrMalformed)
		}
		return RemoveUser{UserID: w.UserID}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, w.Type)
	}
}

// JSONCodec speaks the browser client's format.
type JSONCodec struct{}

func (JSONCodec) Name() string { return CodecJSON }

func (JSONCodec) Encode(m Message) ([]byte, error) {
	w, err := toWire(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

func (JSONCodec) Decode(b []byte) (Message, error) {
	var w wire
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fromWire(w)
}

// MsgpackCodec is a compact alternative for CLI-only meshes.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return CodecMsgpack }

func (MsgpackCodec) Encode(m Message) ([]byte, error) {
	w, err := toWire(m)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(w)
}

func (MsgpackCodec) Decode(b []byte) (Message, error) {
	var w wire
	if err := msgpack.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fromWire(w)
}
