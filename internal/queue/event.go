// Package queue carries auth events over RabbitMQ: the publisher used by the
// auth service and the audit consumer that writes them to logs/auth.log.
package queue

import "time" // event timestamps

// AuthEventsQueue is the durable queue all auth events are routed to.
const AuthEventsQueue = "auth.events"

// Event types.
const (
	EventRegistered      = "user.registered"
	EventLoggedIn        = "user.logged_in"
	EventTokenRefreshed  = "user.token_refreshed"
	EventLoggedOut       = "user.logged_out"
	EventPasswordChanged = "user.password_changed"
)

// AuthEvent is published after every successful account or session change.
// It never carries credentials or tokens. OccurredAt is always UTC and
// RemoteIP is the client address the request came from, when known.
// Username is empty for logout, which only knows the user id.
type AuthEvent struct {
	Type       string    `json:"type"`
	UserID     string    `json:"user_id"`
	Username   string    `json:"username,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	RemoteIP   string    `json:"remote_ip,omitempty"`
}
