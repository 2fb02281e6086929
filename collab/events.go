package collab

import (
	"bytes"
	"encoding/json"
	"fmt"

	"notion-collab/core"
)

// Client to server message types.
const (
	MsgJoinRoom      = "join-room"
	MsgLeaveRoom     = "leave-room"
	MsgUpdateContent = "update-content"
	MsgCursorMove    = "cursor-move"
	MsgLogout        = "logout"
)

// Server to client event names.
const (
	EventRoomState      = "room-state"
	EventPeerJoined     = "peer-joined"
	EventPeerLeft       = "peer-left"
	EventContentUpdated = "content-updated"
	EventCursorMoved    = "cursor-moved"
	EventError          = "error"
)

// DocumentID accepts both JSON strings and numbers.
type DocumentID string

func (d *DocumentID) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		*d = ""
	case string:
		*d = DocumentID(x)
	case json.Number:
		*d = DocumentID(x.String())
	default:
		return fmt.Errorf("documentId must be a string or number")
	}
	return nil
}

// Message is one decoded client request.
type Message struct {
	Type       string          `json:"type"`
	DocumentID DocumentID      `json:"documentId"`
	Content    *string         `json:"content,omitempty"`
	Title      *string         `json:"title,omitempty"`
	Position   json.RawMessage `json:"position,omitempty"`
}

// DecodeMessage parses a message body. A bare string or number is taken as
// the document id, which is how older clients send join and leave requests.
func DecodeMessage(msgType string, raw []byte) (Message, error) {
	msg := Message{Type: msgType}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return msg, nil
	}
	if raw[0] != '{' {
		if err := json.Unmarshal(raw, &msg.DocumentID); err != nil {
			return msg, badRequest("invalid payload for %s", msgType)
		}
		return msg, nil
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{Type: msgType}, badRequest("invalid payload for %s: %v", msgType, err)
	}
	if msgType != "" {
		msg.Type = msgType
	}
	return msg, nil
}

// Event is one server to client notification.
type Event struct {
	Name    string
	Payload any
}

type PresenceEntry struct {
	UserID      string `json:"userId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

func entryOf(id core.Identity) PresenceEntry {
	return PresenceEntry{UserID: id.UserID, Email: id.Email, DisplayName: id.DisplayName}
}

type RoomState struct {
	DocumentID string          `json:"documentId"`
	Title      string          `json:"title"`
	Content    string          `json:"content"`
	Presence   []PresenceEntry `json:"presence"`
}

type PeerEvent struct {
	DocumentID string `json:"documentId"`
	PresenceEntry
}

type ContentUpdated struct {
	DocumentID string `json:"documentId"`
	Content    string `json:"content"`
	Title      string `json:"title"`
	PresenceEntry
}

type CursorMoved struct {
	DocumentID string          `json:"documentId"`
	Position   json.RawMessage `json:"position"`
	PresenceEntry
}

type ErrorEvent struct {
	Message    string `json:"message"`
	Code       string `json:"code"`
	Type       string `json:"type,omitempty"`
	DocumentID string `json:"documentId,omitempty"`
}
