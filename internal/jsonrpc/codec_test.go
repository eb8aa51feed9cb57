package jsonrpc

import (
	"encoding/json"
	"testing"
)

func TestEncodeDecodeRequestRoundTrip(t *testing.T) {
	b, err := EncodeRequest(7, "tools/call", map[string]any{"name": "ping"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	// A request is not itself a decodable inbound shape in this core
	// (only responses/notifications/server-requests are), but a server
	// that echoed it back as a server-initiated request must decode
	// identically.
	frame, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Kind != KindServerRequest {
		t.Fatalf("expected KindServerRequest, got %v", frame.Kind)
	}
	if frame.ID != 7 {
		t.Fatalf("expected id 7, got %d", frame.ID)
	}
	if frame.Method != "tools/call" {
		t.Fatalf("expected method tools/call, got %s", frame.Method)
	}
}

func TestDecodeResponseSuccess(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"pong"}],"isError":false}}`)
	frame, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Kind != KindResponseSuccess {
		t.Fatalf("expected KindResponseSuccess, got %v", frame.Kind)
	}
	if frame.ID != 1 {
		t.Fatalf("expected id 1, got %d", frame.ID)
	}
	var result struct {
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(frame.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected isError=false")
	}
}

func TestDecodeResponseError(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":2,"error":{"code":-32601,"message":"method not found"}}`)
	frame, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Kind != KindResponseError {
		t.Fatalf("expected KindResponseError, got %v", frame.Kind)
	}
	if frame.Error.Code != -32601 {
		t.Fatalf("expected code -32601, got %d", frame.Error.Code)
	}
}

func TestDecodeNotification(t *testing.T) {
	b, err := EncodeNotification(MethodInitializedNotify, map[string]any{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	frame, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Kind != KindNotification {
		t.Fatalf("expected KindNotification, got %v", frame.Kind)
	}
	if frame.Method != MethodInitializedNotify {
		t.Fatalf("expected method %s, got %s", MethodInitializedNotify, frame.Method)
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{not json`},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"result":{}}`},
		{"both result and error", `{"jsonrpc":"2.0","id":1,"result":{},"error":{"code":1,"message":"x"}}`},
		{"non-integer id", `{"jsonrpc":"2.0","id":"abc","result":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.raw)); err == nil {
				t.Fatalf("expected an error for %q", tt.raw)
			}
		})
	}
}

func TestDecodeUnknownShape(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","foo":"bar"}`)
	_, err := Decode(raw)
	if err == nil {
		t.Fatalf("expected an error")
	}
	var unknown *ErrUnknownShape
	if _, ok := err.(*ErrUnknownShape); !ok {
		t.Fatalf("expected *ErrUnknownShape, got %T (%v, %v)", err, err, unknown)
	}
}

func TestCheckSize(t *testing.T) {
	if err := CheckSize(100, 200); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	err := CheckSize(300, 200)
	if err == nil {
		t.Fatalf("expected ErrOversize")
	}
	if _, ok := err.(*ErrOversize); !ok {
		t.Fatalf("expected *ErrOversize, got %T", err)
	}
}

func TestEncodeMethodNotFound(t *testing.T) {
	b, err := EncodeMethodNotFound(9, "sampling/createMessage")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	frame, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Kind != KindResponseError {
		t.Fatalf("expected KindResponseError, got %v", frame.Kind)
	}
	if frame.Error.Code != -32601 {
		t.Fatalf("expected -32601, got %d", frame.Error.Code)
	}
	if frame.ID != 9 {
		t.Fatalf("expected id 9, got %d", frame.ID)
	}
}
