// Package delivery defines the two-stage per-recipient delivery state
// the router tracks between a message being handed to an agent's
// inbox and that agent acknowledging it, and the deadline arithmetic
// used to decide when a pending delivery has expired.
package delivery

import "fmt"

// Status is where a single (message, agent) delivery sits in its
// lifecycle: delivered (awaiting ack), accepted (positive ack), or
// failed (nack, deadline exceeded, or retries exhausted).
type Status string

const (
	StatusDelivered Status = "delivered"
	StatusAccepted  Status = "accepted"
	StatusFailed    Status = "failed"
)

// State is the delivery record for one message addressed to one agent.
type State struct {
	MessageID     string `json:"message_id"`
	Agent         string `json:"agent"`
	Status        Status `json:"status"`
	RetryCount    int    `json:"retry_count"`
	FirstTS       int64  `json:"first_ts"`
	LastTS        int64  `json:"last_ts"`
	NextRetryAt   *int64 `json:"next_retry_at"`
	ExpiresAt     int64  `json:"expires_at"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// Terminal reports whether status can no longer transition.
func (s State) Terminal() bool {
	return s.Status == StatusAccepted || s.Status == StatusFailed
}

// Key builds the map key the router uses for its delivery table.
func Key(messageID, agent string) string {
	return fmt.Sprintf("%s:%s", messageID, agent)
}

// ComputeExpiresAt derives a message's delivery deadline: an explicit
// "deadline" field wins outright, otherwise it is ts plus the
// message's own "ttl_ms" if present, otherwise ts plus defaultTTLMS.
func ComputeExpiresAt(message map[string]any, tsMS, defaultTTLMS int64) int64 {
	if deadline, ok := asInt64(message["deadline"]); ok {
		return deadline
	}
	if ttl, ok := asInt64(message["ttl_ms"]); ok {
		return tsMS + ttl
	}
	return tsMS + defaultTTLMS
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
