package model

import (
	"context"
	"time"

	"github.com/cloudwego/eino/schema"
)

type SessionRepository interface {
	// GetOrCreate returns a snapshot of the session, creating it on first contact.
	GetOrCreate(ctx context.Context, sessionID string) (*Session, error)

	// AppendHistory adds messages in order, evicting the oldest past the history cap.
	AppendHistory(ctx context.Context, sessionID string, messages ...*schema.Message) error

	// SetMatch replaces the last routing outcome. nil records a failed route.
	SetMatch(ctx context.Context, sessionID string, match *TopicPath) error

	// SetProfile caches the derived birth chart text for the session.
	SetProfile(ctx context.Context, sessionID string, profile string) error

	// SetLocale records the caller's region hint.
	SetLocale(ctx context.Context, sessionID string, locale string) error
}

// Session is a point-in-time copy of one conversation's state.
type Session struct {
	ID        string            `json:"id"`
	History   []*schema.Message `json:"history"`
	LastMatch *TopicPath        `json:"last_match,omitempty"`
	Profile   string            `json:"profile,omitempty"`
	Locale    string            `json:"locale,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// HasProfile reports whether a birth chart summary is already cached.
func (s *Session) HasProfile() bool {
	return s != nil && s.Profile != ""
}
