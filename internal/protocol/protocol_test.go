package protocol

import (
	"encoding/json"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		event   Event
		wantErr bool
	}{
		{"join", `{"event":"join","data":{"roomId":"r1","displayName":"ann"}}`, EventJoin, false},
		{"send changes", `{"event":"send-changes","data":{"ops":[{"insert":"hi"}]}}`, EventSendChanges, false},
		{"explicit save", `{"event":"save-document","data":{"ops":[]},"flush":true}`, EventSaveDocument, false},
		{"empty", ``, "", true},
		{"not json", `hello`, "", true},
		{"missing event", `{"data":1}`, "", true},
		{"server event from client", `{"event":"receive-changes","data":1}`, "", true},
		{"unknown event", `{"event":"bogus"}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.data))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Expected error for %q", tt.data)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			assert.Equal(t, env.Event, tt.event)
		})
	}
}

func TestEncodeRawKeepsPayloadBytes(t *testing.T) {
	op := json.RawMessage(`{"ops":[{"retain":3},{"insert":"x","attributes":{"bold":true}}]}`)

	frame, err := EncodeRaw(EventReceiveChanges, op)
	assert.Equal(t, err, nil)

	var env Envelope
	assert.Equal(t, json.Unmarshal(frame, &env), nil)
	assert.Equal(t, env.Event, EventReceiveChanges)
	assert.Equal(t, string(env.Data), string(op))
}

func TestJoinRequestName(t *testing.T) {
	var req JoinRequest
	env, err := Decode([]byte(`{"event":"join","data":{"roomId":"r1","username":"  bob "}}`))
	assert.Equal(t, err, nil)
	assert.Equal(t, env.DecodeData(&req), nil)
	assert.Equal(t, req.Name(), "bob")

	req.DisplayName = "Robert"
	assert.Equal(t, req.Name(), "Robert")
}

func TestDecodeDataMissing(t *testing.T) {
	env := Envelope{Event: EventGetDocument}
	var req DocumentRequest
	if err := env.DecodeData(&req); err == nil {
		t.Error("Expected error for missing data")
	}
}
