// Package adapter publishes match outcomes to external sinks. Adapters
// are best effort: a sink failure is logged and never affects the match
// lifecycle.
package adapter

import (
	"context"
	"time"
)

// MatchReportedEvent describes one finished match as submitted to the
// competition server.
type MatchReportedEvent struct {
	SessionID  string    `json:"session_id"`
	ProblemID  string    `json:"problem_id"`
	Solver     string    `json:"solver"`
	Verdict    string    `json:"verdict"`
	Reason     string    `json:"reason"`
	Digest     string    `json:"stdout_digest,omitempty"`
	ReportedAt time.Time `json:"reported_at"`
}

// Adapter receives match outcome events.
type Adapter interface {
	MatchReported(ctx context.Context, ev MatchReportedEvent) error
}

// Nop discards all events.
type Nop struct{}

// MatchReported implements Adapter.
func (Nop) MatchReported(context.Context, MatchReportedEvent) error { return nil }

// Multi fans one event out to several adapters. The first error is
// returned after all adapters have been tried.
type Multi []Adapter

// MatchReported implements Adapter.
func (m Multi) MatchReported(ctx context.Context, ev MatchReportedEvent) error {
	var first error
	for _, a := range m {
		if err := a.MatchReported(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
