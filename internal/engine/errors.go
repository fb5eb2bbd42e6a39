package engine

import (
	"errors"
	"fmt"
	"strings"

	"trading-sim/internal/risk"
)

// Error kinds. Every error returned by an Engine matches exactly one of
// these with errors.Is; component errors stay reachable in the chain.
var (
	// ErrValidation: malformed proposal; nothing changed.
	ErrValidation = errors.New("validation error")
	// ErrInsufficientMargin: margin (or fee headroom) exceeds available; nothing changed.
	ErrInsufficientMargin = errors.New("insufficient margin")
	// ErrStateConflict: duplicate position, unknown position, terminal order, ledger
	// invariant. Indicates a caller or orchestration bug.
	ErrStateConflict = errors.New("state conflict")
	// ErrEmergencyStop: the emergency flag is set.
	ErrEmergencyStop = errors.New("emergency stop active")
	// ErrRiskRejected: the risk gate refused the proposal for another reason.
	ErrRiskRejected = errors.New("rejected by risk gate")
	// ErrExecution: the fill model could not execute the order.
	ErrExecution = errors.New("execution failed")
)

// RejectionError carries the risk gate's reasons for a refused proposal.
type RejectionError struct {
	Kind    error
	Reasons []risk.Reason
}

func (e *RejectionError) Error() string {
	msgs := make([]string, 0, len(e.Reasons))
	for _, r := range e.Reasons {
		if r.Blocking {
			msgs = append(msgs, r.Message)
		}
	}
	return fmt.Sprintf("%v: %s", e.Kind, strings.Join(msgs, "; "))
}

func (e *RejectionError) Unwrap() error { return e.Kind }

// rejection maps an assessment's blocking reasons to an error kind. A
// drawdown or daily-loss breach refuses the proposal as an emergency stop.
func rejection(a risk.Assessment) *RejectionError {
	kind := ErrRiskRejected
	switch {
	case a.Portfolio.Breach:
		kind = ErrEmergencyStop
	case a.Has(risk.CodeInvalidProposal):
		kind = ErrValidation
	case a.Has(risk.CodePositionExists):
		kind = ErrStateConflict
	case a.Has(risk.CodeInsufficientMargin):
		kind = ErrInsufficientMargin
	}
	return &RejectionError{Kind: kind, Reasons: a.Blocking()}
}

func conflict(err error) error {
	return fmt.Errorf("%w: %w", ErrStateConflict, err)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Kind names the error kind of err for logs and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrEmergencyStop):
		return "emergency_stop"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrInsufficientMargin):
		return "insufficient_margin"
	case errors.Is(err, ErrStateConflict):
		return "state_conflict"
	case errors.Is(err, ErrRiskRejected):
		return "risk_rejected"
	case errors.Is(err, ErrExecution):
		return "execution"
	}
	return "internal"
}
