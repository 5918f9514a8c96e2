package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

type messageType string

const (
	// Server -> client.
	messageTypeConnected     messageType = "connected"
	messageTypeUserIDSet     messageType = "user-id-set"
	messageTypeRoomJoined    messageType = "room-joined"
	messageTypeUserJoined    messageType = "user-joined"
	messageTypeExistingUsers messageType = "existing-users"
	messageTypeRoomLeft      messageType = "room-left"
	messageTypeUserLeft      messageType = "user-left"
	messageTypeError         messageType = "error"

	// Client -> server.
	messageTypeSetUserID messageType = "set-user-id"
	messageTypeJoinRoom  messageType = "join-room"
	messageTypeLeaveRoom messageType = "leave-room"

	// Both directions. Offer/answer/candidate payloads are opaque; the relay
	// rewrites the envelope (target -> from) and forwards the data untouched.
	messageTypeOffer        messageType = "offer"
	messageTypeAnswer       messageType = "answer"
	messageTypeICECandidate messageType = "ice-candidate"
	messageTypeChat         messageType = "chat-message"
)

// errUnknownMessageType marks frames that decode as JSON but carry a type the
// router does not recognize. Per protocol these are logged and ignored rather
// than answered with an error.
var errUnknownMessageType = errors.New("unknown message type")

// RoomUser is one member entry as reported to clients (existing-users) and to
// the read-only status surface.
type RoomUser struct {
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId"`
}

// clientMessage is the envelope for every client->server frame. Exactly one
// kind-specific field set is valid per type; parseClientMessage enforces the
// shape before any handler runs.
type clientMessage struct {
	Type messageType `json:"type"`

	UserID             string          `json:"userId,omitempty"`
	RoomID             string          `json:"roomId,omitempty"`
	TargetConnectionID string          `json:"targetConnectionId,omitempty"`
	Data               json.RawMessage `json:"data,omitempty"`
	Text               string          `json:"text,omitempty"`
}

// serverMessage is the envelope for every server->client frame.
type serverMessage struct {
	Type messageType `json:"type"`

	ConnectionID string     `json:"connectionId,omitempty"`
	UserID       string     `json:"userId,omitempty"`
	RoomID       string     `json:"roomId,omitempty"`
	Users        []RoomUser `json:"users,omitempty"`

	FromConnectionID string          `json:"fromConnectionId,omitempty"`
	FromUserID       string          `json:"fromUserId,omitempty"`
	Data             json.RawMessage `json:"data,omitempty"`

	Text      string `json:"text,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`

	Message string `json:"message,omitempty"`
}

func errorMessage(text string) serverMessage {
	return serverMessage{Type: messageTypeError, Message: text}
}

func parseClientMessage(data []byte) (clientMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg clientMessage
	if err := dec.Decode(&msg); err != nil {
		// A frame that is valid JSON but carries an unrecognized type is
		// ignored rather than rejected; check for that case before reporting
		// a protocol error, since DisallowUnknownFields would otherwise
		// reject the unknown kind's fields first.
		var envelope struct {
			Type messageType `json:"type"`
		}
		if json.Unmarshal(data, &envelope) == nil && !isClientMessageType(envelope.Type) {
			return clientMessage{}, fmt.Errorf("%w %q", errUnknownMessageType, envelope.Type)
		}
		return clientMessage{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return clientMessage{}, errors.New("unexpected trailing data")
	}
	if !isClientMessageType(msg.Type) {
		return clientMessage{}, fmt.Errorf("%w %q", errUnknownMessageType, msg.Type)
	}
	if err := msg.validate(); err != nil {
		return clientMessage{}, err
	}
	return msg, nil
}

func isClientMessageType(t messageType) bool {
	switch t {
	case messageTypeSetUserID, messageTypeJoinRoom, messageTypeLeaveRoom,
		messageTypeOffer, messageTypeAnswer, messageTypeICECandidate,
		messageTypeChat:
		return true
	default:
		return false
	}
}

func (m clientMessage) validate() error {
	switch m.Type {
	case messageTypeSetUserID:
		if m.UserID == "" {
			return errors.New("set-user-id message missing userId")
		}
		if m.RoomID != "" || m.TargetConnectionID != "" || m.Data != nil || m.Text != "" {
			return errors.New("set-user-id message has unexpected fields")
		}
	case messageTypeJoinRoom:
		if m.RoomID == "" {
			return errors.New("join-room message missing roomId")
		}
		if m.UserID != "" || m.TargetConnectionID != "" || m.Data != nil || m.Text != "" {
			return errors.New("join-room message has unexpected fields")
		}
	case messageTypeLeaveRoom:
		if m.UserID != "" || m.RoomID != "" || m.TargetConnectionID != "" || m.Data != nil || m.Text != "" {
			return errors.New("leave-room message has unexpected fields")
		}
	case messageTypeOffer, messageTypeAnswer, messageTypeICECandidate:
		if m.TargetConnectionID == "" {
			return fmt.Errorf("%s message missing targetConnectionId", m.Type)
		}
		if m.UserID != "" || m.RoomID != "" || m.Text != "" {
			return fmt.Errorf("%s message has unexpected fields", m.Type)
		}
	case messageTypeChat:
		if m.UserID != "" || m.RoomID != "" || m.TargetConnectionID != "" || m.Data != nil {
			return errors.New("chat-message has unexpected fields")
		}
	}
	return nil
}
