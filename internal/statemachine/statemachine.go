// Package statemachine encodes the review lifecycle's legal
// transitions and claim-fencing discipline, in the small
// explicit-decision-table style of an orchestrator's scheduleDecision
// table, generalized here to a from->to transition table.
package statemachine

import (
	"errors"
	"fmt"

	"github.com/user/reviewbroker/internal/store"
)

// ErrInvalidTransition is returned when a requested status change is
// not in the legal transition table; state is left unchanged.
var ErrInvalidTransition = errors.New("invalid transition")

// ErrStaleClaim is returned when a caller's remembered claim_generation
// no longer matches the stored value; state is left unchanged.
var ErrStaleClaim = errors.New("stale claim")

var legalTransitions = map[string]map[string]bool{
	store.StatusPending: {
		store.StatusClaimed: true,
	},
	store.StatusClaimed: {
		store.StatusInReview:         true,
		store.StatusApproved:        true,
		store.StatusChangesRequested: true,
		store.StatusPending:         true, // reclaim
	},
	store.StatusInReview: {
		store.StatusApproved:         true,
		store.StatusChangesRequested: true,
	},
	store.StatusApproved: {
		store.StatusClosed: true,
	},
	store.StatusChangesRequested: {
		store.StatusClosed:  true,
		store.StatusPending: true, // revision
	},
	store.StatusClosed: {},
}

// Allowed reports whether the from->to transition is legal.
func Allowed(from, to string) bool {
	sinks, ok := legalTransitions[from]
	if !ok {
		return false
	}
	return sinks[to]
}

// RequireTransition returns ErrInvalidTransition (wrapped with the
// offending pair) when the transition is illegal.
func RequireTransition(from, to string) error {
	if Allowed(from, to) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// CheckFence compares a caller-supplied claim_generation against the
// review's stored value. A negative suppliedGeneration (the NoFence
// sentinel, -1) means the caller did not assert a fence and the check
// is skipped; 0 is compared like any other generation.
func CheckFence(storedGeneration, suppliedGeneration int) error {
	if suppliedGeneration < 0 {
		return nil
	}
	if suppliedGeneration != storedGeneration {
		return fmt.Errorf("%w: have generation %d, review is at %d", ErrStaleClaim, suppliedGeneration, storedGeneration)
	}
	return nil
}

// NoFence is the sentinel callers pass when they did not supply a
// claim_generation argument at all (distinct from asserting generation 0).
const NoFence = -1
