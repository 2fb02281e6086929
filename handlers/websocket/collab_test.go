package websocket

import (
	"errors"
	"net/http/httptest"
	"testing"

	socketio "github.com/zishang520/socket.io/v2/socket"
)

func TestExtractAck_WithCallback(t *testing.T) {
	var gotErr error
	var gotPayload map[string]any
	datas := []any{"42", func(err error, payload map[string]any) {
		gotErr = err
		gotPayload = payload
	}}

	ack, args := extractAck(datas)
	if ack == nil {
		t.Fatal("Expected an ack invoker")
	}
	if len(args) != 1 || args[0] != "42" {
		t.Errorf("Expected args [42], got %v", args)
	}

	ack(nil, map[string]any{"status": "ok"})
	if gotErr != nil {
		t.Errorf("Expected nil error, got %v", gotErr)
	}
	if gotPayload["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", gotPayload["status"])
	}
}

func TestExtractAck_WithoutCallback(t *testing.T) {
	ack, args := extractAck([]any{map[string]any{"documentId": "42"}})
	if ack != nil {
		t.Error("Expected no ack invoker")
	}
	if len(args) != 1 {
		t.Errorf("Expected 1 arg, got %d", len(args))
	}

	ack, args = extractAck(nil)
	if ack != nil || len(args) != 0 {
		t.Error("Expected nothing from empty datas")
	}
}

func TestWrapAck_SingleArgumentReceivesErrorFirst(t *testing.T) {
	var got any
	ack := wrapAck(func(v any) { got = v })

	ack(errors.New("boom"), map[string]any{"status": "error"})
	if err, ok := got.(error); !ok || err.Error() != "boom" {
		t.Errorf("Expected the error, got %v", got)
	}

	ack(nil, map[string]any{"status": "ok"})
	if payload, ok := got.(map[string]any); !ok || payload["status"] != "ok" {
		t.Errorf("Expected the payload, got %v", got)
	}
}

func TestWrapAck_ConvertsPayloadMap(t *testing.T) {
	var got map[string]string
	ack := wrapAck(func(_ any, payload map[string]string) { got = payload })

	ack(nil, map[string]any{"status": "ok", "ids": []int{1, 2}})
	if got["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", got)
	}
	if _, ok := got["ids"]; ok {
		t.Error("Expected inconvertible values to be dropped")
	}
}

func TestWrapAck_NativeAck(t *testing.T) {
	var got []any
	var native socketio.Ack = func(args []any, _ error) { got = args }

	ack, _ := extractAck([]any{"42", native})
	if ack == nil {
		t.Fatal("Expected an ack invoker")
	}
	ack(errors.New("forbidden"), map[string]any{"status": "error", "code": "forbidden"})

	if len(got) != 1 {
		t.Fatalf("Expected a single reply argument, got %v", got)
	}
	payload, ok := got[0].(map[string]any)
	if !ok || payload["code"] != "forbidden" {
		t.Errorf("Expected the payload to reach the client, got %v", got[0])
	}
}

func TestHandshakeCredential(t *testing.T) {
	tests := []struct {
		name string
		h    *socketio.Handshake
		want string
	}{
		{"nil handshake", nil, ""},
		{"auth payload", &socketio.Handshake{Auth: map[string]any{"token": "abc"}}, "abc"},
		{"auth payload with scheme", &socketio.Handshake{Auth: map[string]any{"token": "Bearer abc"}}, "abc"},
		{"lower-case header", &socketio.Handshake{Headers: map[string][]string{"authorization": {"Bearer xyz"}}}, "xyz"},
		{"canonical header", &socketio.Handshake{Headers: map[string][]string{"Authorization": {"bearer xyz"}}}, "xyz"},
		{"malformed header", &socketio.Handshake{Headers: map[string][]string{"Authorization": {"Basic xyz"}}}, ""},
		{"nothing", &socketio.Handshake{Auth: map[string]any{}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := handshakeCredential(tt.h); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestHeaderCredential(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=from-query", nil)
	if got := headerCredential(r); got != "from-query" {
		t.Errorf("Expected query token, got %q", got)
	}

	r.Header.Set("Authorization", "Bearer from-header")
	if got := headerCredential(r); got != "from-header" {
		t.Errorf("Expected header token, got %q", got)
	}
}
