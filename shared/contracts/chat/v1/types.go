package v1

import "time"

// ---- Inbound (client -> server) ----

// Typing toggles the typing indicator of the sender.
type Typing struct {
	IsTyping bool `json:"is_typing"`
}

// DeliveredAck reports that the receiver's device got a message.
type DeliveredAck struct {
	MessageID string `json:"message_id"`
}

// Ping is a keepalive.
type Ping struct{}

// SendMessage is the socket path into the message pipeline for already-connected senders.
type SendMessage struct {
	Content string `json:"content"`
}

func (Typing) inboundType() string       { return TypeTyping }
func (DeliveredAck) inboundType() string { return TypeMessageDelivered }
func (Ping) inboundType() string         { return TypePing }
func (SendMessage) inboundType() string  { return TypeNewMessage }

// ---- Outbound (server -> client) ----

// OnlineUsers is the presence snapshot sent once on connect.
type OnlineUsers struct {
	Users []string `json:"users"`
}

// UserStatus announces that a participant went online or offline.
type UserStatus struct {
	UserID   string `json:"user_id"`
	IsOnline bool   `json:"is_online"`
}

// TypingStatus relays a participant's typing indicator.
type TypingStatus struct {
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// NewMessage delivers a persisted message.
type NewMessage struct {
	MessageID  string    `json:"message_id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	SenderType string    `json:"sender_type"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	BookingID  string    `json:"booking_id"`
	SenderName string    `json:"sender_name,omitempty"`
}

// DeliveredReceipt tells the sender that the receiver got a message.
type DeliveredReceipt struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadReceipt tells the peer that a message was read.
type ReadReceipt struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
	BookingID string    `json:"booking_id,omitempty"`
}

// MessageAck confirms persistence of a socket-originated message.
type MessageAck struct {
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Pong answers Ping.
type Pong struct{}

// Error is a generic error event.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (OnlineUsers) Type() string      { return TypeOnlineUsers }
func (UserStatus) Type() string       { return TypeUserStatus }
func (TypingStatus) Type() string     { return TypeTyping }
func (NewMessage) Type() string       { return TypeNewMessage }
func (DeliveredReceipt) Type() string { return TypeMessageDelivered }
func (ReadReceipt) Type() string      { return TypeMessageRead }
func (MessageAck) Type() string       { return TypeMessageAck }
func (Pong) Type() string             { return TypePong }
func (Error) Type() string            { return TypeError }
