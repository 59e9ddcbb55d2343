package services

import "errors"

// Core error taxonomy. Handlers map these onto HTTP responses: rate-limit
// and cooldown rejections are soft (the client simply earns nothing this
// time), validation failures surface only as a generic rejection so callers
// learn nothing about detection specifics.
var (
	// ErrRateLimited — the action exceeded its window limit. Not retried.
	ErrRateLimited = errors.New("rate limited")

	// ErrCooldownActive — the player's action cooldown has not elapsed.
	ErrCooldownActive = errors.New("cooldown active")

	// ErrValidationFailed — the automation detector flagged the action; it
	// is discarded and the balance stays untouched.
	ErrValidationFailed = errors.New("action validation failed")

	// ErrConflictExhausted — the optimistic updater ran out of retries.
	// Surfaced as a hard failure, never partially applied.
	ErrConflictExhausted = errors.New("state update retries exhausted")

	// ErrQueueTimeout — the action expired waiting its turn in the per-actor
	// queue and was never executed.
	ErrQueueTimeout = errors.New("queued action timed out")

	// ErrLockNotAcquired — the distributed lock could not be taken within
	// its retry budget.
	ErrLockNotAcquired = errors.New("lock not acquired")

	// ErrInvalidTransition — a match status change would move backwards.
	ErrInvalidTransition = errors.New("invalid match status transition")

	// ErrInsufficientBalance — stake or purchase exceeds the balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrAlreadyQueued — the player is already waiting in the matchmaking
	// queue or has a live match.
	ErrAlreadyQueued = errors.New("already in matchmaking queue")

	// ErrMatchNotFound — no match row for the given id.
	ErrMatchNotFound = errors.New("match not found")

	// ErrUnknownBoost — the boost id is not in the catalog.
	ErrUnknownBoost = errors.New("unknown boost")

	// ErrNotParticipant — the caller is not one of the match's two players.
	ErrNotParticipant = errors.New("player is not a match participant")
)
