package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	TypeLoginSucceeded = "auth.login.succeeded"
	TypeAccountLocked  = "auth.account.locked"
	TypeCodeExchanged  = "auth.code.exchanged"
	TypeLogout         = "auth.logout"
	TypePasswordChange = "auth.password.changed"
)

const source = "portal-sso"

// Event is the envelope written to the auth events topic.
type Event struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	UserID    string          `json:"user_id"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func New(eventType, userID string, data any) (*Event, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return &Event{
		EventID:   uuid.NewString(),
		EventType: eventType,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Data:      raw,
	}, nil
}

type Publisher interface {
	Publish(ctx context.Context, e *Event) error
	Close() error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, *Event) error { return nil }

func (NoopPublisher) Close() error { return nil }
