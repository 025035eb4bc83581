package models

import (
	"time"
)

// DefaultQueueName is where jobs for models without a provider mapping go.
const DefaultQueueName = "probe-default"

// Provider is an external model provider (OpenAI, Anthropic, ...). Each
// provider owns a named queue whose worker concurrency enforces the
// provider's parallelism cap.
type Provider struct {
	Name                string    `db:"name"                  json:"name"`
	Enabled             bool      `db:"enabled"               json:"enabled"`
	MaxParallelRequests int       `db:"max_parallel_requests" json:"max_parallel_requests"`
	RequestsPerMinute   int       `db:"requests_per_minute"   json:"requests_per_minute"`
	QueueName           string    `db:"queue_name"            json:"queue_name"`
	CreatedAt           time.Time `db:"created_at"            json:"created_at"`
	UpdatedAt           time.Time `db:"updated_at"            json:"updated_at"`
}

// ProviderLimits is the cached slice of a provider handed to callers.
type ProviderLimits struct {
	MaxParallelRequests int    `json:"max_parallel_requests"`
	RequestsPerMinute   int    `json:"requests_per_minute"`
	QueueName           string `json:"queue_name"`
}

// Limits extracts the cacheable limits view of a provider.
func (p *Provider) Limits() ProviderLimits {
	return ProviderLimits{
		MaxParallelRequests: p.MaxParallelRequests,
		RequestsPerMinute:   p.RequestsPerMinute,
		QueueName:           p.QueueName,
	}
}

// Model is one probe-able model identified by its slug (e.g. "gpt-4o").
type Model struct {
	ID           string    `db:"id"            json:"id"`
	ProviderName string    `db:"provider_name" json:"provider_name"`
	Active       bool      `db:"active"        json:"active"`
	IsDefault    bool      `db:"is_default"    json:"is_default"`
	CreatedAt    time.Time `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"    json:"updated_at"`
}
