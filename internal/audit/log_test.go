package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"beacon.org/internal/auth"
	"beacon.org/internal/obs"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	logger := obs.Logger()
	prevOut, prevFlags := logger.Writer(), logger.Flags()
	var buf bytes.Buffer
	logger.SetFlags(0)
	logger.SetOutput(&buf)
	t.Cleanup(func() {
		logger.SetOutput(prevOut)
		logger.SetFlags(prevFlags)
	})
	return &buf
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) Entry {
	t.Helper()
	var e Entry
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &e); err != nil {
		t.Fatalf("log not valid JSON: %v (%q)", err, buf.String())
	}
	return e
}

func TestLogEventCarriesContext(t *testing.T) {
	buf := captureLog(t)
	ctx := WithRequestID(context.Background(), "req-123")
	ctx = auth.ContextWithIdentity(ctx, auth.Identity{ID: "user-42", Role: auth.RoleAdmin, OrganizationID: "org-7"})

	if err := LogEvent(ctx, "auth.login.succeeded", map[string]any{"client": "10.0.0.1"}); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	e := decodeEntry(t, buf)
	if e.Type != "audit" || e.Event != "auth.login.succeeded" {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if e.RequestID != "req-123" || e.UserID != "user-42" || e.OrganizationID != "org-7" {
		t.Fatalf("context not carried: %+v", e)
	}
	if e.Fields["client"] != "10.0.0.1" {
		t.Fatalf("fields: %v", e.Fields)
	}
}

func TestLogEventRedactsSensitiveFields(t *testing.T) {
	buf := captureLog(t)
	err := LogEvent(context.Background(), "auth.login.failed", map[string]any{
		"email":        "a@example.com",
		"password":     "hunter2",
		"refreshToken": "eyJ...",
	})
	if err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	e := decodeEntry(t, buf)
	if e.Fields["password"] != "[redacted]" || e.Fields["refreshToken"] != "[redacted]" {
		t.Fatalf("secrets leaked: %v", e.Fields)
	}
	if e.Fields["email"] != "a@example.com" {
		t.Fatalf("email dropped: %v", e.Fields)
	}
	if e.UserID != "" || e.RequestID != "" {
		t.Fatalf("unexpected context fields: %+v", e)
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for blank event")
	}
}
