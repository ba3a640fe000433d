package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

var jsonNull = []byte("null")

// Decode parses one text frame. Only frames that are not valid JSON are
// rejected with ErrMalformed; every other frame yields an Envelope.
//
// A frame that is not an object, or whose "type" is missing or not a string,
// decodes to Unknown with an empty type and the whole frame as data. A known
// type whose fields do not fit its variant decodes to Unknown of that type.
func Decode(frame []byte) (Envelope, error) {
	if !json.Valid(frame) {
		var v any
		err := json.Unmarshal(frame, &v)
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	raw := make(json.RawMessage, len(frame))
	copy(raw, frame)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(frame, &fields); err != nil || fields == nil {
		return Envelope{Payload: Unknown{Data: raw}, Raw: raw}, nil
	}

	var typ Type
	typed := true
	if rawType, ok := fields[fieldType]; ok && !isNull(rawType) {
		var s string
		if err := json.Unmarshal(rawType, &s); err != nil {
			typed = false
		}
		typ = Type(s)
	}

	data := fields[fieldData]
	if isNull(data) {
		data = nil
	}

	extra := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		if k == fieldData || (typed && k == fieldType) {
			continue
		}
		extra[k] = v
	}

	return Envelope{
		Type:    typ,
		Payload: decodePayload(typ, data, extra),
		Extra:   extra,
		Raw:     raw,
	}, nil
}

// UnmarshalJSON lets an Envelope be embedded in other JSON documents.
func (e *Envelope) UnmarshalJSON(b []byte) error {
	decoded, err := Decode(b)
	if err != nil {
		return err
	}
	*e = decoded
	return nil
}

func decodePayload(typ Type, data json.RawMessage, extra map[string]json.RawMessage) Payload {
	unknown := Unknown{Kind: typ, Data: data}

	switch typ {
	case TypeNewMessage:
		var p NewMessage
		if !decodeData(data, &p) {
			return unknown
		}
		return p

	case TypeNewGroupMessage:
		var p NewGroupMessage
		if !decodeData(data, &p) {
			return unknown
		}
		return p

	case TypeGroupMessageReply:
		var p GroupMessageReply
		if len(data) > 0 {
			p.Reply = &Reply{}
			if !decodeData(data, p.Reply) {
				return unknown
			}
		}

		raw, ok := extra[fieldGroupMessageID]
		switch {
		case ok:
			id, ok := parseID(raw)
			if !ok {
				return unknown
			}
			p.GroupMessageID = id
		case p.Reply != nil && p.Reply.GroupMessageID != 0:
			p.GroupMessageID = p.Reply.GroupMessageID
		default:
			return unknown
		}
		return p
	}

	return unknown
}

func decodeData(data json.RawMessage, v any) bool {
	if len(data) == 0 {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

// parseID accepts an id as a JSON number or a numeric string.
func parseID(raw json.RawMessage) (int64, bool) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), jsonNull)
}
