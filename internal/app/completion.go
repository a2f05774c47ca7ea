package app

import (
	"context"
	"fmt"
	"time"

	"quizcraft-live-service/internal/domain"
)

// StatusFetcher reads the current session status. Typically backed by
// SessionService.Status or the HTTP status endpoint.
type StatusFetcher func(ctx context.Context) (domain.SessionStatus, error)

// CompletionResult says why the leaderboard was revealed.
type CompletionResult struct {
	// AllFinished is true when every expected participant completed.
	AllFinished bool
	// Ended is true when the host closed the session while participants
	// were still waiting; the leaderboard is revealed below the expected
	// count in that case.
	Ended  bool
	Status domain.SessionStatus
}

// CompletionCoordinator decides when a finished participant may see the
// final leaderboard instead of the "waiting for others" view. It prefers
// pushed room events (showResults, sessionEnded) and falls back to polling
// the session status at a fixed interval, so it never blocks indefinitely
// on a missed push.
type CompletionCoordinator struct {
	fetch    StatusFetcher
	events   <-chan Event
	interval time.Duration

	// fetchRetryBudget bounds consecutive status fetch failures before the
	// coordinator gives up.
	fetchRetryBudget int
}

func NewCompletionCoordinator(fetch StatusFetcher, events <-chan Event, interval time.Duration) *CompletionCoordinator {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &CompletionCoordinator{
		fetch:            fetch,
		events:           events,
		interval:         interval,
		fetchRetryBudget: 3,
	}
}

// Wait blocks until the leaderboard may be revealed or ctx is canceled.
//
// A session with exactly one expected participant reveals on the first
// status read, without waiting out a polling interval.
func (c *CompletionCoordinator) Wait(ctx context.Context) (CompletionResult, error) {
	status, err := c.fetch(ctx)
	if err != nil {
		return CompletionResult{}, err
	}
	if done, res := c.evaluate(status); done {
		return res, nil
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return CompletionResult{}, ctx.Err()

		case ev, ok := <-c.events:
			if !ok {
				// Push channel gone (room dropped); keep polling.
				c.events = nil
				continue
			}
			switch ev.Type {
			case EventShowResults:
				status, err := c.fetch(ctx)
				if err != nil {
					status = domain.SessionStatus{}
				}
				return CompletionResult{AllFinished: true, Status: status}, nil
			case EventSessionEnded:
				status, err := c.fetch(ctx)
				if err != nil {
					status = domain.SessionStatus{}
				}
				return CompletionResult{Ended: true, Status: status}, nil
			}

		case <-ticker.C:
			status, err := c.fetch(ctx)
			if err != nil {
				failures++
				if failures >= c.fetchRetryBudget {
					return CompletionResult{}, fmt.Errorf("session status unavailable after %d attempts: %w", failures, err)
				}
				continue
			}
			failures = 0
			if done, res := c.evaluate(status); done {
				return res, nil
			}
		}
	}
}

func (c *CompletionCoordinator) evaluate(status domain.SessionStatus) (bool, CompletionResult) {
	if status.TotalPlayers > 0 && status.CompletedCount >= status.TotalPlayers {
		return true, CompletionResult{AllFinished: true, Status: status}
	}
	if !status.IsLive && status.StartedAt != nil {
		// Host ended the session while participants were waiting.
		return true, CompletionResult{Ended: true, Status: status}
	}
	return false, CompletionResult{}
}
