// Package transfer implements the per-transfer state machine, progress
// tracking, and the chunked upload/download worker that drives one
// session to completion.
package transfer

import (
	"errors"
	"fmt"
)

// Status is a transfer session's lifecycle state.
type Status string

const (
	StatusPending     Status = "pending"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
	StatusInProgress  Status = "in_progress"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// ErrInvalidTransition is returned when a status change does not follow
// one of the legal edges.
var ErrInvalidTransition = errors.New("transfer: invalid status transition")

var legalTransitions = map[Status]map[Status]bool{
	StatusPending:    {StatusApproved: true, StatusRejected: true, StatusCancelled: true},
	StatusApproved:   {StatusInProgress: true, StatusCancelled: true},
	StatusInProgress: {StatusPaused: true, StatusCompleted: true, StatusFailed: true, StatusCancelled: true},
	StatusPaused:     {StatusInProgress: true, StatusCancelled: true},
}

// IsTerminal reports whether s is a terminal status: once reached, no
// further transitions are legal.
func IsTerminal(s Status) bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusRejected:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the from->to edge is legal.
func CanTransition(from, to Status) bool {
	return legalTransitions[from][to]
}

func validateTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
