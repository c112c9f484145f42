package domain

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrNotFound                 = errors.New("record not found")
	ErrConcurrencyConflict      = errors.New("concurrent modification detected, retry the operation")
	ErrRefundExceedsBalance     = errors.New("refund amount exceeds refundable balance")
	ErrInvalidRefundAmount      = errors.New("refund amount must be greater than zero")
	ErrSchedulerBusy            = errors.New("another sweep instance holds the lock")
	ErrPackageInUse             = errors.New("package is still referenced by subscriptions")
	ErrActiveSubscriptionExists = errors.New("customer already has an active subscription")
	ErrDuplicateAccounting      = errors.New("accounting record already ingested")
	ErrDuplicatePhone           = errors.New("phone number already registered")
)

// InvalidTransitionError reports a state change that is not permitted from
// the entity's current state. It is returned synchronously and never retried.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s: invalid transition %s -> %s", e.Entity, e.From, e.To)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}

// ExternalSyncError reports that the AAA store rejected or never received a
// write. The local transition has already committed when this is returned;
// callers surface it as a degraded success and the scheduler's reconcile
// sweep retries the push.
type ExternalSyncError struct {
	SubscriptionID string
	Username       string
	Op             string
	Err            error
}

func (e *ExternalSyncError) Error() string {
	return fmt.Sprintf("aaa sync failed: op=%s subscription=%s username=%s: %v",
		e.Op, e.SubscriptionID, e.Username, e.Err)
}

func (e *ExternalSyncError) Unwrap() error {
	return e.Err
}

// IsExternalSync reports whether err is an ExternalSyncError.
func IsExternalSync(err error) bool {
	var ese *ExternalSyncError
	return errors.As(err, &ese)
}
