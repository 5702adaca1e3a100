// Package queue defines message payloads exchanged over the message broker.
package queue

import "time"

// AuthEventsQueue is the durable queue carrying AuthEvent messages.
const AuthEventsQueue = "auth.events"

// EventType names an auth lifecycle event.
type EventType string

const (
	EventUserRegistered EventType = "user.registered"
	EventLoginSucceeded EventType = "login.succeeded"
	EventRefreshRotated EventType = "refresh.rotated"
	EventReuseDetected  EventType = "refresh.reuse_detected"
	EventLogout         EventType = "logout"
)

// AuthEvent is published after every credential lifecycle transition. It
// carries identifiers only; passwords and raw tokens never leave the
// service.
type AuthEvent struct {
	Type       EventType `json:"type"`
	UserID     uint64    `json:"user_id"`
	Email      string    `json:"email,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
