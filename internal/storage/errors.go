package storage

import "errors"

var (
	// ErrConfigurationNotFound is returned when an AI configuration is not found
	ErrConfigurationNotFound = errors.New("configuration not found")

	// ErrNoActiveConfiguration is returned when a user has no active AI configuration
	ErrNoActiveConfiguration = errors.New("no active configuration")

	// ErrDemoSessionNotFound is returned when a demo session is not found
	ErrDemoSessionNotFound = errors.New("demo session not found")

	// ErrDemoSessionExists is returned when a demo session already exists for the email
	ErrDemoSessionExists = errors.New("demo session already exists")

	// ErrMetricQuotaExceeded is returned when a demo user has used up their metric quota
	ErrMetricQuotaExceeded = errors.New("metric quota exceeded")
)
