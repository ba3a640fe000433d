// Package envelope defines the wire format carried over the realtime
// channel: a JSON object discriminated by its "type" field, with an optional
// "data" payload and any number of extra top-level fields.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type is the envelope discriminant.
type Type string

const (
	TypeNewMessage        Type = "NEW_MESSAGE"
	TypeNewGroupMessage   Type = "NEW_GROUP_MESSAGE"
	TypeGroupMessageReply Type = "GROUP_MESSAGE_REPLY"
)

// Known reports whether t has a typed payload variant.
func (t Type) Known() bool {
	switch t {
	case TypeNewMessage, TypeNewGroupMessage, TypeGroupMessageReply:
		return true
	}
	return false
}

const (
	fieldType           = "type"
	fieldData           = "data"
	fieldID             = "id"
	fieldGroupMessageID = "groupMessageId"
)

// ErrMalformed is returned by Decode for frames that are not valid JSON.
var ErrMalformed = errors.New("malformed envelope")

// Payload is the closed set of envelope payloads. Unknown carries every type
// this package does not recognise.
type Payload interface {
	EnvelopeType() Type
	isPayload()
}

// NewMessage is the payload of a NEW_MESSAGE envelope.
type NewMessage struct {
	ID          int64     `json:"id,omitempty"`
	SenderID    int64     `json:"senderId"`
	ReceiverID  int64     `json:"receiverId"`
	MessageType string    `json:"messageType,omitempty"`
	Message     string    `json:"message"`
	SenderName  string    `json:"senderName,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitzero"`
}

// NewGroupMessage is the payload of a NEW_GROUP_MESSAGE envelope.
type NewGroupMessage struct {
	ID         int64     `json:"id,omitempty"`
	SenderID   int64     `json:"senderId,omitempty"`
	SenderName string    `json:"senderName,omitempty"`
	Title      string    `json:"title,omitempty"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"createdAt,omitzero"`
}

// Reply is the optional data of a GROUP_MESSAGE_REPLY envelope.
type Reply struct {
	ID             int64     `json:"id,omitempty"`
	GroupMessageID int64     `json:"groupMessageId,omitempty"`
	SenderID       int64     `json:"senderId,omitempty"`
	SenderName     string    `json:"senderName,omitempty"`
	Message        string    `json:"message"`
	CreatedAt      time.Time `json:"createdAt,omitzero"`
}

// GroupMessageReply is the payload of a GROUP_MESSAGE_REPLY envelope. The
// parent id travels at the top level of the envelope, next to "type".
type GroupMessageReply struct {
	GroupMessageID int64
	Reply          *Reply
}

// Unknown holds an envelope whose type has no typed variant. Data is the raw
// "data" field, possibly empty.
type Unknown struct {
	Kind Type
	Data json.RawMessage
}

func (NewMessage) EnvelopeType() Type        { return TypeNewMessage }
func (NewGroupMessage) EnvelopeType() Type   { return TypeNewGroupMessage }
func (GroupMessageReply) EnvelopeType() Type { return TypeGroupMessageReply }
func (u Unknown) EnvelopeType() Type         { return u.Kind }

func (NewMessage) isPayload()        {}
func (NewGroupMessage) isPayload()   {}
func (GroupMessageReply) isPayload() {}
func (Unknown) isPayload()           {}

// Envelope is one decoded frame. It is treated as immutable once built;
// With returns a modified copy.
type Envelope struct {
	Type    Type
	Payload Payload

	// Extra holds every top-level field other than "type" and "data".
	Extra map[string]json.RawMessage

	// Raw is the frame exactly as received. Empty for locally built envelopes.
	Raw json.RawMessage
}

// New builds an envelope around p.
func New(p Payload) Envelope {
	return Envelope{Type: p.EnvelopeType(), Payload: p}
}

// With returns a copy of e with the extra top-level field key set to value.
// "type" and "data" cannot be set this way.
func (e Envelope) With(key string, value any) (Envelope, error) {
	if key == fieldType || key == fieldData {
		return e, fmt.Errorf("field %q is reserved", key)
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return e, fmt.Errorf("failed to marshal field %q: %w", key, err)
	}

	extra := make(map[string]json.RawMessage, len(e.Extra)+1)
	for k, v := range e.Extra {
		extra[k] = v
	}
	extra[key] = raw

	e.Extra = extra
	e.Raw = nil
	return e, nil
}

// ID returns the "id" extra field when it is a string.
func (e Envelope) ID() string {
	raw, ok := e.Extra[fieldID]
	if !ok {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return ""
	}
	return id
}

// GroupMessageID returns the parent id of a GROUP_MESSAGE_REPLY envelope.
func (e Envelope) GroupMessageID() (int64, bool) {
	p, ok := e.Payload.(GroupMessageReply)
	if !ok {
		return 0, false
	}
	return p.GroupMessageID, true
}

// MarshalJSON writes {type, data?, ...extra}. A decoded envelope that has
// not been modified is written back as received.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if len(e.Raw) > 0 {
		return e.Raw, nil
	}

	out := make(map[string]json.RawMessage, len(e.Extra)+3)
	for k, v := range e.Extra {
		out[k] = v
	}

	typ, err := json.Marshal(string(e.Type))
	if err != nil {
		return nil, err
	}
	out[fieldType] = typ

	switch p := e.Payload.(type) {
	case nil:
	case Unknown:
		if len(p.Data) > 0 {
			out[fieldData] = p.Data
		}
	case GroupMessageReply:
		id, err := json.Marshal(p.GroupMessageID)
		if err != nil {
			return nil, err
		}
		out[fieldGroupMessageID] = id

		if p.Reply != nil {
			data, err := json.Marshal(p.Reply)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal reply: %w", err)
			}
			out[fieldData] = data
		}
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", e.Type, err)
		}
		out[fieldData] = data
	}

	return json.Marshal(out)
}
