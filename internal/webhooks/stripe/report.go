package stripewebhook

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// StepResult is the outcome of one action within a sync.
type StepResult struct {
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
}

// SyncReport collects per-step outcomes for one event. Failed steps do not
// stop independent later steps, so a single report can carry several
// failures; the whole report is what lands on the dead-letter topic.
type SyncReport struct {
	EventID        string       `json:"event_id"`
	EventType      string       `json:"event_type"`
	Kind           string       `json:"kind"`
	PortalID       string       `json:"portal_id,omitempty"`
	SubscriptionID string       `json:"subscription_id,omitempty"`
	StartedAt      time.Time    `json:"started_at"`
	Steps          []StepResult `json:"steps"`

	err error
}

// NewSyncReport starts a report for one event.
func NewSyncReport(eventID, eventType string, kind Kind) *SyncReport {
	return &SyncReport{
		EventID:   eventID,
		EventType: eventType,
		Kind:      string(kind),
		StartedAt: time.Now().UTC(),
	}
}

// Record stores the step outcome and reports whether the step succeeded.
func (r *SyncReport) Record(step string, err error) bool {
	result := StepResult{Name: step}
	if err != nil {
		result.Error = err.Error()
		r.err = multierr.Append(r.err, fmt.Errorf("%s: %w", step, err))
	}
	r.Steps = append(r.Steps, result)
	return err == nil
}

// Failed reports whether any step errored.
func (r *SyncReport) Failed() bool {
	return r.err != nil
}

// Err returns the aggregated step failures, nil when everything succeeded.
func (r *SyncReport) Err() error {
	return r.err
}

// deadLetterPublisher is the slice of the pubsub client the report needs.
type deadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, payload any, attrs map[string]string) error
}
