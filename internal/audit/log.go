// Package audit records security events (logins, refreshes, secret writes)
// as JSON lines on the shared obs logger.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"beacon.org/internal/auth"
	"beacon.org/internal/obs"
)

type ctxKey struct{}

// Entry is one audit line.
type Entry struct {
	Time           string         `json:"ts"`
	Level          string         `json:"level"`
	Type           string         `json:"type"`
	Event          string         `json:"event"`
	RequestID      string         `json:"request_id,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	OrganizationID string         `json:"organization_id,omitempty"`
	Fields         map[string]any `json:"fields"`
}

// Field names whose values never reach the log.
var redacted = map[string]struct{}{
	"password":     {},
	"token":        {},
	"refreshtoken": {},
	"secret":       {},
	"value":        {},
}

// WithRequestID tags ctx so later audit entries carry requestID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, requestID)
}

func requestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(ctxKey{}).(string)
	return v
}

// LogEvent writes event with the request id and the authenticated identity
// found on ctx. Sensitive field names are replaced with "[redacted]".
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("audit: event name is required")
	}
	e := Entry{
		Time:      time.Now().UTC().Format(time.RFC3339Nano),
		Level:     "info",
		Type:      "audit",
		Event:     event,
		RequestID: requestID(ctx),
		Fields:    make(map[string]any, len(fields)),
	}
	if id, ok := auth.IdentityFromContext(ctx); ok {
		e.UserID = id.ID
		e.OrganizationID = id.OrganizationID
	}
	for k, v := range fields {
		if _, hide := redacted[strings.ToLower(k)]; hide {
			v = "[redacted]"
		}
		e.Fields[k] = v
	}

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
