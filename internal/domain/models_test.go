package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestRole_Valid(t *testing.T) {
	cases := []struct {
		role Role
		want bool
	}{
		{RoleUser, true},
		{RoleAssistant, true},
		{Role(""), false},
		{Role("system"), false},
		{Role("User"), false},
		{Role("ASSISTANT"), false},
	}
	for _, tc := range cases {
		if got := tc.role.Valid(); got != tc.want {
			t.Errorf("Role(%q).Valid() = %v, want %v", tc.role, got, tc.want)
		}
	}
}

func TestUser_JSONHidesPasswordHash(t *testing.T) {
	raw, err := json.Marshal(User{
		ID:           "u1",
		Name:         "Ada",
		Email:        "ada@example.com",
		PasswordHash: "bcrypt-hash",
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(raw), "bcrypt-hash") {
		t.Fatalf("password hash leaked into JSON: %s", raw)
	}
}

func TestSettings_JSONHidesCredential(t *testing.T) {
	raw, err := json.Marshal(Settings{
		UserID:         "u1",
		SelectedAvatar: "robot",
		SelectedVoice:  "en-GB-1",
		FlowiseAPIURL:  "https://flows.example.com",
		FlowiseAPIKey:  "deadbeef:cafe",
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(raw)
	if strings.Contains(s, "deadbeef") || strings.Contains(s, "flowiseApiKey") {
		t.Fatalf("credential leaked into JSON: %s", s)
	}
	if !strings.Contains(s, "flowiseApiUrl") {
		t.Fatalf("url missing from JSON: %s", s)
	}
}

func TestMessage_JSONTimestampField(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	raw, err := json.Marshal(Message{ID: "m1", ChatID: "c1", Role: RoleUser, Content: "hi", CreatedAt: ts})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"timestamp":"2025-03-01T12:00:00Z"`) {
		t.Fatalf("timestamp field missing or wrong: %s", raw)
	}
}
