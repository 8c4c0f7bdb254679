package fulfillment

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Metadata keys forming the idempotency/recovery protocol. They live inside
// the provider-side subject's metadata map (customer for one-time purchases,
// subscription for recurring), which is the only durable state this system
// writes.
const (
	KeyProcessingID = "processing_id"
	KeyProcessingAt = "processing_at"
	KeyFulfilledID  = "fulfilled_id"
	KeyRenewalCount = "renewal_count"
)

// DefaultStaleAfter is how long a processing marker is treated as in flight
// before a redelivery may reclaim it (crash-recovery window).
const DefaultStaleAfter = 300 * time.Second

// Decision is the outcome of a TryBegin idempotency check.
type Decision int

const (
	// Proceed means the event is unseen (or its marker went stale) and the
	// caller now holds the processing marker.
	Proceed Decision = iota

	// SkipDuplicate means this event id has already been fully fulfilled.
	SkipDuplicate

	// SkipProcessing means another delivery of this event id is in flight
	// within the stale threshold.
	SkipProcessing
)

func (d Decision) String() string {
	switch d {
	case SkipDuplicate:
		return "duplicate"
	case SkipProcessing:
		return "concurrent"
	default:
		return "proceed"
	}
}

// SubjectStore reads and merges metadata on one kind of fulfillment subject.
//
// Merge must follow a read-merge-write pattern: fetch the subject's current
// metadata, overlay fields on top, and write the result back, preserving
// every unrelated key. An empty-string value clears the key (provider
// metadata semantics).
type SubjectStore interface {
	Fetch(ctx context.Context, subjectID string) (map[string]string, error)
	Merge(ctx context.Context, subjectID string, fields map[string]string) error
}

// LedgerConfig configures a Ledger.
type LedgerConfig struct {
	// StaleAfter overrides the processing-marker stale threshold.
	// Defaults to DefaultStaleAfter.
	StaleAfter time.Duration

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time

	// Logger is used for stale-recovery warnings and best-effort cleanup
	// failures. Defaults to a disabled logger.
	Logger zerolog.Logger
}

// Ledger implements the processing/fulfilled marker protocol on top of a
// SubjectStore. It is advisory, not exclusive: two concurrent deliveries of
// the same event can both pass TryBegin in a narrow window before either
// writes its marker. Sequential retries, the common case, are serialized by
// the re-fetch-before-decide pattern.
type Ledger struct {
	store      SubjectStore
	staleAfter time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

// NewLedger creates a Ledger over the given store.
func NewLedger(store SubjectStore, cfg LedgerConfig) *Ledger {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Ledger{
		store:      store,
		staleAfter: cfg.StaleAfter,
		now:        cfg.Now,
		log:        cfg.Logger,
	}
}

// TryBegin re-fetches the subject's metadata, decides whether eventID may be
// fulfilled, and on Proceed claims the processing marker.
func (l *Ledger) TryBegin(ctx context.Context, subjectID, eventID string) (Decision, error) {
	md, err := l.store.Fetch(ctx, subjectID)
	if err != nil {
		return Proceed, err
	}

	if md[KeyFulfilledID] == eventID {
		return SkipDuplicate, nil
	}

	if md[KeyProcessingID] == eventID {
		processingAt, _ := strconv.ParseInt(md[KeyProcessingAt], 10, 64)
		age := l.now().Unix() - processingAt
		if time.Duration(age)*time.Second < l.staleAfter {
			return SkipProcessing, nil
		}
		l.log.Warn().
			Str("subject_id", subjectID).
			Str("event_id", eventID).
			Int64("age_seconds", age).
			Msg("stale processing marker detected, reclaiming for recovery")
	}

	err = l.store.Merge(ctx, subjectID, map[string]string{
		KeyProcessingID: eventID,
		KeyProcessingAt: strconv.FormatInt(l.now().Unix(), 10),
	})
	if err != nil {
		return Proceed, err
	}
	return Proceed, nil
}

// Commit records eventID as fulfilled and clears the processing marker.
// When incrementRenewal is set, renewal_count is bumped by exactly one
// relative to the value present at commit time, tolerating metadata drift
// from concurrent unrelated updates.
func (l *Ledger) Commit(ctx context.Context, subjectID, eventID string, incrementRenewal bool) error {
	fields := map[string]string{
		KeyFulfilledID:  eventID,
		KeyProcessingID: "",
		KeyProcessingAt: "",
	}

	if incrementRenewal {
		md, err := l.store.Fetch(ctx, subjectID)
		if err != nil {
			return err
		}
		fields[KeyRenewalCount] = strconv.Itoa(RenewalCount(md) + 1)
	}

	return l.store.Merge(ctx, subjectID, fields)
}

// Release clears the processing marker after a permanent failure so a
// future, different event for the same subject is not blocked. Best-effort:
// a failed cleanup is logged, not escalated; the stale threshold is the
// real safety net.
func (l *Ledger) Release(ctx context.Context, subjectID string) {
	err := l.store.Merge(ctx, subjectID, map[string]string{
		KeyProcessingID: "",
		KeyProcessingAt: "",
	})
	if err != nil {
		l.log.Error().Err(err).
			Str("subject_id", subjectID).
			Msg("failed to clear processing marker")
	}
}

// RenewalCount parses the renewal counter out of subject metadata.
// Missing or unparsable values count as zero.
func RenewalCount(md map[string]string) int {
	n, err := strconv.Atoi(md[KeyRenewalCount])
	if err != nil || n < 0 {
		return 0
	}
	return n
}
