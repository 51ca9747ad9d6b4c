// Package v1 defines the booking chat wire protocol.
//
// Every frame is a flat JSON object carrying a "type" discriminator next to the
// event fields, e.g. {"type":"typing","is_typing":true}. Inbound and outbound
// events are closed sets: decoding yields one of the concrete structs below and
// callers switch on the Go type instead of comparing strings.
package v1

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Type constants (wire-stable).
const (
	// TypeTyping is sent by a client (is_typing) and fanned out to the peer (user_id, is_typing).
	TypeTyping = "typing"
	// TypeMessageDelivered is a delivery ack (client -> server) and a delivery receipt (server -> client).
	TypeMessageDelivered = "message_delivered"
	// TypePing is a client keepalive, answered with TypePong.
	TypePing = "ping"
	// TypePong answers TypePing.
	TypePong = "pong"
	// TypeNewMessage sends a message (client -> server) or delivers one (server -> client).
	TypeNewMessage = "new_message"

	// TypeOnlineUsers is sent once to a freshly connected client.
	TypeOnlineUsers = "online_users"
	// TypeUserStatus announces a presence change of the peer.
	TypeUserStatus = "user_status"
	// TypeMessageRead is a read receipt (server -> client).
	TypeMessageRead = "message_read"
	// TypeMessageAck confirms a new_message sent over the socket was persisted.
	TypeMessageAck = "message_ack"
	// TypeError is a generic error event (server -> client).
	TypeError = "error"
)

var (
	// ErrMissingType is returned when a frame has no "type" field.
	ErrMissingType = errors.New("missing field: type")
	// ErrUnknownType is returned for a "type" outside the closed event set.
	ErrUnknownType = errors.New("unknown type")
)

// Inbound is a client -> server event. The set is closed: Typing, DeliveredAck, Ping, SendMessage.
type Inbound interface {
	inboundType() string
}

// Outbound is a server -> client event.
type Outbound interface {
	Type() string
}

type typeProbe struct {
	Type string `json:"type"`
}

// PeekType returns the discriminator of a raw frame.
func PeekType(data []byte) (string, error) {
	var p typeProbe
	if err := json.Unmarshal(data, &p); err != nil {
		return "", err
	}
	t := strings.TrimSpace(p.Type)
	if t == "" {
		return "", ErrMissingType
	}
	return t, nil
}

// DecodeInbound parses a client frame into its concrete event.
func DecodeInbound(data []byte) (Inbound, error) {
	typ, err := PeekType(data)
	if err != nil {
		return nil, err
	}

	switch typ {
	case TypeTyping:
		var ev Typing
		return decodeInto(data, &ev)
	case TypeMessageDelivered:
		var ev DeliveredAck
		return decodeInto(data, &ev)
	case TypePing:
		return Ping{}, nil
	case TypeNewMessage:
		var ev SendMessage
		return decodeInto(data, &ev)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
}

// DecodeOutbound parses a server frame. Used by clients, the smoke tool and tests.
func DecodeOutbound(data []byte) (Outbound, error) {
	typ, err := PeekType(data)
	if err != nil {
		return nil, err
	}

	var ev Outbound
	switch typ {
	case TypeOnlineUsers:
		ev = &OnlineUsers{}
	case TypeUserStatus:
		ev = &UserStatus{}
	case TypeTyping:
		ev = &TypingStatus{}
	case TypeNewMessage:
		ev = &NewMessage{}
	case TypeMessageDelivered:
		ev = &DeliveredReceipt{}
	case TypeMessageRead:
		ev = &ReadReceipt{}
	case TypeMessageAck:
		ev = &MessageAck{}
	case TypePong:
		return Pong{}, nil
	case TypeError:
		ev = &Error{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, err
	}
	return deref(ev), nil
}

// Encode renders an outbound event as a flat JSON object with the type discriminator first.
func Encode(ev Outbound) ([]byte, error) {
	if ev == nil {
		return nil, errors.New("nil event")
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	body = bytes.TrimSpace(body)
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("event %s does not encode to an object", ev.Type())
	}

	var b bytes.Buffer
	b.Grow(len(body) + len(ev.Type()) + 12)
	b.WriteString(`{"type":`)
	b.WriteString(strconv.Quote(ev.Type()))
	if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
		b.WriteByte(',')
		b.Write(inner)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// UnmarshalJSON accepts message_id as a JSON string or number.
func (a *DeliveredAck) UnmarshalJSON(data []byte) error {
	var raw struct {
		MessageID json.RawMessage `json:"message_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, err := flexString(raw.MessageID)
	if err != nil {
		return fmt.Errorf("message_id: %w", err)
	}
	a.MessageID = id
	return nil
}

func flexString(b json.RawMessage) (string, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return "", nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

func decodeInto[T Inbound](data []byte, dst *T) (Inbound, error) {
	if err := json.Unmarshal(data, dst); err != nil {
		return nil, err
	}
	return *dst, nil
}

func deref(ev Outbound) Outbound {
	switch v := ev.(type) {
	case *OnlineUsers:
		return *v
	case *UserStatus:
		return *v
	case *TypingStatus:
		return *v
	case *NewMessage:
		return *v
	case *DeliveredReceipt:
		return *v
	case *ReadReceipt:
		return *v
	case *MessageAck:
		return *v
	case *Error:
		return *v
	default:
		return ev
	}
}
