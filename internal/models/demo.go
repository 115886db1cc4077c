package models

import (
	"time"

	"github.com/google/uuid"
)

// MetricFramework selects which quota a demo metric generation counts against.
type MetricFramework string

const (
	FrameworkCSF   MetricFramework = "csf"
	FrameworkAIRMF MetricFramework = "ai_rmf"
)

// Valid reports whether f is a known framework.
func (f MetricFramework) Valid() bool {
	return f == FrameworkCSF || f == FrameworkAIRMF
}

// LockScope selects which demo sessions an abuse lockout applies to.
type LockScope string

const (
	// LockScopeSession locks only the offending session.
	LockScopeSession LockScope = "session"
	// LockScopeEmail locks every session registered with the same email.
	LockScopeEmail LockScope = "email"
	// LockScopeIP locks every session registered from the same IP address.
	LockScopeIP LockScope = "ip"
)

// Valid reports whether s is a known lock scope.
func (s LockScope) Valid() bool {
	return s == LockScopeSession || s == LockScopeEmail || s == LockScopeIP
}

// DemoUser is a time- and quota-bounded anonymous trial session.
//
// Expired and AIChatLocked are one-way transitions: once set they are never
// cleared. Expiry is also evaluated lazily against DemoExpiresAt, so a
// session is treated as expired as soon as the deadline passes even if the
// Expired flag has not been flushed to storage yet.
type DemoUser struct {
	ID        uuid.UUID `db:"id"`
	SessionID string    `db:"session_id"`
	Email     string    `db:"email"`
	IPAddress string    `db:"ip_address"`

	DemoStartedAt time.Time `db:"demo_started_at"`
	DemoExpiresAt time.Time `db:"demo_expires_at"`
	Expired       bool      `db:"expired"`

	AIMetricsCreatedCSF   int  `db:"ai_metrics_created_csf"`
	AIMetricsCreatedAIRMF int  `db:"ai_metrics_created_ai_rmf"`
	AIChatInteractions    int  `db:"ai_chat_interactions"`
	AIChatLocked          bool `db:"ai_chat_locked"`
	InvalidRequestCount   int  `db:"invalid_request_count"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// IsExpired reports whether the session is expired as of now, either because
// the flag was flushed or because the deadline has passed.
func (d *DemoUser) IsExpired(now time.Time) bool {
	return d.Expired || !now.Before(d.DemoExpiresAt)
}

// MetricsCreated returns the counter for the given framework.
func (d *DemoUser) MetricsCreated(f MetricFramework) int {
	if f == FrameworkAIRMF {
		return d.AIMetricsCreatedAIRMF
	}
	return d.AIMetricsCreatedCSF
}
