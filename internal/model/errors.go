package model

import (
	"fmt"
	"time"
)

// ValidationError reports malformed input at construction or update.
// Always recoverable: the caller corrects the input and retries.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// InvalidTransitionError reports an attempted state change that violates
// the order state machine. The caller should inspect the current status.
type InvalidTransitionError struct {
	From OrderStatus
	Op   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s order in status %s", e.Op, e.From)
}

// StaleDataError reports an out-of-order price update: the incoming
// observation is not strictly newer than the stored one.
type StaleDataError struct {
	Have time.Time
	Got  time.Time
}

func (e *StaleDataError) Error() string {
	return fmt.Sprintf("stale data: update ts %s not after current ts %s",
		e.Got.Format(time.RFC3339Nano), e.Have.Format(time.RFC3339Nano))
}

// PointNotFoundError reports a historical lookup with no matching price point.
type PointNotFoundError struct {
	Symbol string
	TS     time.Time
}

func (e *PointNotFoundError) Error() string {
	return fmt.Sprintf("no price point for %s at or before %s", e.Symbol, e.TS.Format(time.RFC3339))
}
