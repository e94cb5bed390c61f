package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestAPIKeyJSONHidesHash(t *testing.T) {
	now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	key := APIKey{
		ID:        "0194b7d2-0000-7000-8000-000000000001",
		UserID:    "u-1",
		KeyHash:   "6ca13d52ca70c883e0f0bb101e425a89e8624de51db2d2392593af6a84118090",
		KeyPrefix: "lsk_0123abcd",
		Label:     "ci",
		CreatedAt: now,
	}

	b, err := json.Marshal(key)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if _, ok := m["key_hash"]; ok {
		t.Error("key_hash must never be serialized")
	}
	if m["key_prefix"] != "lsk_0123abcd" {
		t.Errorf("key_prefix = %v, want lsk_0123abcd", m["key_prefix"])
	}
	if _, ok := m["last_used"]; ok {
		t.Error("last_used should be omitted when nil")
	}
	if m["revoked"] != false {
		t.Errorf("revoked = %v, want false", m["revoked"])
	}
}

func TestAPIKeyActive(t *testing.T) {
	var nilKey *APIKey
	if nilKey.Active() {
		t.Error("nil key should not be active")
	}
	if !(&APIKey{}).Active() {
		t.Error("fresh key should be active")
	}
	if (&APIKey{Revoked: true}).Active() {
		t.Error("revoked key should not be active")
	}
}

func TestUserDisplayName(t *testing.T) {
	tests := []struct {
		name string
		user User
		want string
	}{
		{"username set", User{Email: "a@example.com", Username: "alice"}, "alice"},
		{"blank username", User{Email: "a@example.com", Username: "  "}, "a@example.com"},
		{"no username", User{Email: "a@example.com"}, "a@example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.user.DisplayName(); got != tt.want {
				t.Errorf("DisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorResponseJSON(t *testing.T) {
	resp := ErrorResponse{Error: ErrorDetail{Code: 401, Message: "Invalid API key"}}
	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	want := `{"error":{"code":401,"message":"Invalid API key"}}`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}
}
