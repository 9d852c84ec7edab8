// Package scoring forwards landing results into the economy.
package scoring

import (
	"context"
	"fmt"

	"stream-drop/server/internal/storage"
)

// Committer banks a landing atomically and at most once per session.
type Committer interface {
	CommitLanding(ctx context.Context, sessionID, username string, score int) (storage.LandingOutcome, error)
}

// Feedback credits drop points and counts the drop for each landing.
type Feedback struct {
	committer Committer
}

func NewFeedback(committer Committer) *Feedback {
	return &Feedback{committer: committer}
}

// OnLanded banks score for the session owner. A replayed session is a no-op.
func (f *Feedback) OnLanded(ctx context.Context, sessionID, username string, score int) (storage.LandingOutcome, error) {
	if f == nil || f.committer == nil {
		return storage.LandingOutcome{}, fmt.Errorf("scoring: committer is not configured")
	}
	if score < 0 {
		score = 0
	}
	outcome, err := f.committer.CommitLanding(ctx, sessionID, username, score)
	if err != nil {
		return storage.LandingOutcome{}, fmt.Errorf("scoring: %w", err)
	}
	return outcome, nil
}
