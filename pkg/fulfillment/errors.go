package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"

	"github.com/stripe/stripe-go/v83"
)

var (
	// ErrNoRecipientEmail is returned when no purchaser email can be resolved
	// from the event, the session, or the customer record.
	ErrNoRecipientEmail = errors.New("no recipient email found")

	// ErrSignerNotConfigured is returned when license signing key material is missing.
	ErrSignerNotConfigured = errors.New("license signer not configured")

	// ErrNotifierNotConfigured is returned when no mail transport is wired.
	ErrNotifierNotConfigured = errors.New("mail notifier not configured")
)

// Class partitions every external-collaborator failure into the retry
// contract the webhook ack depends on.
type Class int

const (
	// ClassPermanent failures are acknowledged to the provider so it stops
	// retrying; the incident is logged for manual follow-up.
	ClassPermanent Class = iota

	// ClassTransient failures are surfaced as a retry-me ack so the
	// provider's own backoff redelivers the event.
	ClassTransient
)

func (c Class) String() string {
	if c == ClassTransient {
		return "transient"
	}
	return "permanent"
}

// Error is a classified failure from an external collaborator (billing API,
// mail transport, license signer). Collaborators wrap their failures into
// this type at their own boundary so downstream logic never inspects
// transport-specific error shapes.
type Error struct {
	Class Class
	Op    string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Class, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable failure of op.
func Transient(op string, err error) error {
	return &Error{Class: ClassTransient, Op: op, Err: err}
}

// Permanent wraps err as a non-retryable failure of op.
func Permanent(op string, err error) error {
	return &Error{Class: ClassPermanent, Op: op, Err: err}
}

// IsTransient reports whether err should be surfaced to the billing provider
// as a retry-me ack. Classified errors carry their class; anything that
// escaped boundary classification falls through to shape inspection of the
// common transient categories: provider rate-limit/API errors, connection
// resets/refusals, and timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ferr *Error
	if errors.As(err, &ferr) {
		return ferr.Class == ClassTransient
	}

	var apiErr *stripe.APIError
	if errors.As(err, &apiErr) {
		return true
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == http.StatusTooManyRequests || stripeErr.Code == stripe.ErrorCodeRateLimit {
			return true
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}
