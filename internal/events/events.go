// Package events publishes a PriceEvent for every terminal fetch outcome
// so downstream consumers (alerting, history, analytics) can react without
// polling the API.
package events

import (
	"context"
	"time"
)

// PriceEvent describes one settled fetch.
type PriceEvent struct {
	Store      string    `json:"store"`
	URL        string    `json:"url"`
	JobID      string    `json:"job_id"`
	Status     string    `json:"status"` // completed | failed
	Price      float64   `json:"price,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher delivers price events to a downstream channel. Publishing is
// best-effort: the dispatcher logs failures and moves on.
type Publisher interface {
	Publish(ctx context.Context, ev PriceEvent) error
}

// NopPublisher drops every event. Used when no events backend is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, ev PriceEvent) error { return nil }
