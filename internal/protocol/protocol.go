package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Names a message on the realtime channel
type Event string

const (
	// Client to server
	EventJoin         Event = "join"
	EventGetDocument  Event = "get-document"
	EventSendChanges  Event = "send-changes"
	EventSaveDocument Event = "save-document"

	// Server to client
	EventJoined         Event = "joined"
	EventJoinError      Event = "join-error"
	EventLoadDocument   Event = "load-document"
	EventDocumentError  Event = "document-error"
	EventReceiveChanges Event = "receive-changes"
	EventDisconnected   Event = "disconnected"
)

// Wire frame. Data is kept raw so operations and snapshots pass through untouched.
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`

	// Set on save-document when the user explicitly asked to save
	Flush bool `json:"flush,omitempty"`
}

type JoinRequest struct {
	RoomID        string `json:"roomId"`
	DisplayName   string `json:"displayName"`
	Username      string `json:"username,omitempty"`
	CreationToken string `json:"creationToken,omitempty"`
	IsCreated     bool   `json:"isCreated,omitempty"`
}

// Name returns the display name, falling back to the legacy username field.
func (r JoinRequest) Name() string {
	if name := strings.TrimSpace(r.DisplayName); name != "" {
		return name
	}
	return strings.TrimSpace(r.Username)
}

type DocumentRequest struct {
	RoomID string `json:"roomId"`
}

type Member struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
}

// Membership snapshot sent to every member after a join
type Joined struct {
	Members      []Member `json:"members"`
	DisplayName  string   `json:"displayName"`
	ConnectionID string   `json:"connectionId"`
	Self         string   `json:"self"`
}

type Departure struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
}

func isClientEvent(e Event) bool {
	switch e {
	case EventJoin, EventGetDocument, EventSendChanges, EventSaveDocument:
		return true
	}
	return false
}

// Decode parses and validates a frame received from a client.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if len(data) == 0 {
		return env, fmt.Errorf("empty message")
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("malformed envelope: %w", err)
	}
	if env.Event == "" {
		return env, fmt.Errorf("missing event")
	}
	if !isClientEvent(env.Event) {
		return env, fmt.Errorf("unknown event: %q", env.Event)
	}
	return env, nil
}

// DecodeData unmarshals the envelope payload into v.
func (e Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: missing data", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: %w", e.Event, err)
	}
	return nil
}

// Encode marshals payload and wraps it in an envelope.
func Encode(event Event, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return EncodeRaw(event, data)
}

// EncodeRaw wraps an already encoded payload without inspecting it.
func EncodeRaw(event Event, data json.RawMessage) ([]byte, error) {
	return json.Marshal(Envelope{Event: event, Data: data})
}
