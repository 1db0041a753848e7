// Package lifecycle is the single gate for spec status changes.
package lifecycle

import (
	"errors"
	"fmt"

	"specline/internal/domain"
)

var (
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrUnknownStatus     = errors.New("unknown status")
)

type TransitionError struct {
	ID   string
	From domain.Status
	To   domain.Status
}

func (e *TransitionError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s %s -> %s", ErrIllegalTransition.Error(), e.From, e.To)
	}
	return fmt.Sprintf("%s: %s %s -> %s", e.ID, ErrIllegalTransition.Error(), e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }

// AllowedNext lists the statuses reachable from s without force.
func AllowedNext(s domain.Status) []domain.Status {
	switch s {
	case domain.StatusPending:
		return []domain.Status{domain.StatusReady, domain.StatusInProgress, domain.StatusBlocked,
			domain.StatusPaused, domain.StatusNeedsAttention, domain.StatusCancelled}
	case domain.StatusReady:
		return []domain.Status{domain.StatusPending, domain.StatusInProgress, domain.StatusBlocked,
			domain.StatusCancelled}
	case domain.StatusBlocked:
		return []domain.Status{domain.StatusPending, domain.StatusReady, domain.StatusCancelled}
	case domain.StatusInProgress:
		return []domain.Status{domain.StatusCompleted, domain.StatusFailed, domain.StatusPaused,
			domain.StatusNeedsAttention, domain.StatusCancelled}
	case domain.StatusPaused:
		return []domain.Status{domain.StatusInProgress, domain.StatusPending, domain.StatusCancelled}
	case domain.StatusNeedsAttention:
		return []domain.Status{domain.StatusInProgress, domain.StatusPending, domain.StatusFailed,
			domain.StatusCancelled}
	case domain.StatusFailed:
		return []domain.Status{domain.StatusPending, domain.StatusInProgress}
	case domain.StatusCompleted, domain.StatusCancelled:
		return nil
	}
	return nil
}

// CanTransition reports whether from -> to is legal without force. A status
// never transitions to itself.
func CanTransition(from, to domain.Status) bool {
	for _, next := range AllowedNext(from) {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves spec to the target status if the adjacency allows it.
func Transition(spec *domain.Spec, to domain.Status) error {
	if !to.IsValid() {
		return fmt.Errorf("%w %q", ErrUnknownStatus, to)
	}
	if !CanTransition(spec.Status, to) {
		return &TransitionError{ID: spec.ID, From: spec.Status, To: to}
	}
	spec.Status = to
	return nil
}

// ForceTransition skips the adjacency check. It is reserved for
// administrative corrections: resets, group cascades, stale cleanup and
// explicitly flagged user overrides.
func ForceTransition(spec *domain.Spec, to domain.Status) error {
	if !to.IsValid() {
		return fmt.Errorf("%w %q", ErrUnknownStatus, to)
	}
	spec.Status = to
	return nil
}
