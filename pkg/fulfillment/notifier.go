package fulfillment

import (
	"context"
	"time"
)

// Delivery is one license-delivery message. LicenseKey must reach the
// recipient byte-for-byte; the remaining fields are display-only.
type Delivery struct {
	Email      string
	Name       string
	Tier       string
	LicenseKey string
	Seats      int
	ExpiresAt  time.Time
}

// Notifier hands a rendered license message to the outbound mail transport.
// Implementations classify transport failures into the transient/permanent
// taxonomy at their own boundary.
type Notifier interface {
	Deliver(ctx context.Context, d Delivery) error
}
