package fulfillment

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"
)

// memoryStore is an in-memory SubjectStore with provider metadata
// semantics: merging an empty string clears the key.
type memoryStore struct {
	metadata   map[string]map[string]string
	fetchErr   error
	mergeErr   error
	mergeCalls int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{metadata: make(map[string]map[string]string)}
}

func (s *memoryStore) Fetch(_ context.Context, subjectID string) (map[string]string, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	out := make(map[string]string, len(s.metadata[subjectID]))
	for k, v := range s.metadata[subjectID] {
		out[k] = v
	}
	return out, nil
}

func (s *memoryStore) Merge(_ context.Context, subjectID string, fields map[string]string) error {
	s.mergeCalls++
	if s.mergeErr != nil {
		return s.mergeErr
	}
	md := s.metadata[subjectID]
	if md == nil {
		md = make(map[string]string)
		s.metadata[subjectID] = md
	}
	for k, v := range fields {
		if v == "" {
			delete(md, k)
			continue
		}
		md[k] = v
	}
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestTryBeginUnseenProceedsAndClaimsMarker(t *testing.T) {
	store := newMemoryStore()
	now := time.Unix(1_700_000_000, 0)
	ledger := NewLedger(store, LedgerConfig{Now: fixedClock(now)})

	decision, err := ledger.TryBegin(context.Background(), "cus_1", "cs_1")
	if err != nil {
		t.Fatalf("TryBegin() error = %v", err)
	}
	if decision != Proceed {
		t.Fatalf("TryBegin() = %v, want Proceed", decision)
	}

	md := store.metadata["cus_1"]
	if md[KeyProcessingID] != "cs_1" {
		t.Errorf("processing_id = %q, want cs_1", md[KeyProcessingID])
	}
	if md[KeyProcessingAt] != strconv.FormatInt(now.Unix(), 10) {
		t.Errorf("processing_at = %q, want %d", md[KeyProcessingAt], now.Unix())
	}
}

func TestTryBeginFulfilledEventIsDuplicate(t *testing.T) {
	store := newMemoryStore()
	store.metadata["cus_1"] = map[string]string{KeyFulfilledID: "cs_1"}
	ledger := NewLedger(store, LedgerConfig{})

	decision, err := ledger.TryBegin(context.Background(), "cus_1", "cs_1")
	if err != nil {
		t.Fatalf("TryBegin() error = %v", err)
	}
	if decision != SkipDuplicate {
		t.Errorf("TryBegin() = %v, want SkipDuplicate", decision)
	}
	if store.mergeCalls != 0 {
		t.Errorf("mergeCalls = %d, want 0 (duplicates must have no side effects)", store.mergeCalls)
	}
}

func TestTryBeginRecentProcessingIsSkipped(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := newMemoryStore()
	store.metadata["cus_1"] = map[string]string{
		KeyProcessingID: "cs_1",
		KeyProcessingAt: strconv.FormatInt(now.Add(-100*time.Second).Unix(), 10),
	}
	ledger := NewLedger(store, LedgerConfig{Now: fixedClock(now)})

	decision, err := ledger.TryBegin(context.Background(), "cus_1", "cs_1")
	if err != nil {
		t.Fatalf("TryBegin() error = %v", err)
	}
	if decision != SkipProcessing {
		t.Errorf("TryBegin() = %v, want SkipProcessing", decision)
	}
}

func TestTryBeginStaleProcessingIsReclaimed(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := newMemoryStore()
	store.metadata["cus_1"] = map[string]string{
		KeyProcessingID: "cs_1",
		KeyProcessingAt: strconv.FormatInt(now.Add(-301*time.Second).Unix(), 10),
	}
	ledger := NewLedger(store, LedgerConfig{Now: fixedClock(now)})

	decision, err := ledger.TryBegin(context.Background(), "cus_1", "cs_1")
	if err != nil {
		t.Fatalf("TryBegin() error = %v", err)
	}
	if decision != Proceed {
		t.Errorf("TryBegin() = %v, want Proceed after stale threshold", decision)
	}
	if got := store.metadata["cus_1"][KeyProcessingAt]; got != strconv.FormatInt(now.Unix(), 10) {
		t.Errorf("processing_at = %q, want refreshed to %d", got, now.Unix())
	}
}

func TestTryBeginDifferentEventProceedsOverOldMarker(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := newMemoryStore()
	store.metadata["sub_1"] = map[string]string{
		KeyFulfilledID:  "in_1",
		KeyProcessingID: "in_1",
		KeyProcessingAt: strconv.FormatInt(now.Unix(), 10),
	}
	ledger := NewLedger(store, LedgerConfig{Now: fixedClock(now)})

	decision, err := ledger.TryBegin(context.Background(), "sub_1", "in_2")
	if err != nil {
		t.Fatalf("TryBegin() error = %v", err)
	}
	if decision != Proceed {
		t.Errorf("TryBegin() = %v, want Proceed for a new event id", decision)
	}
}

func TestCommitClearsMarkerAndPreservesUnrelatedKeys(t *testing.T) {
	store := newMemoryStore()
	store.metadata["cus_1"] = map[string]string{
		KeyProcessingID: "cs_1",
		KeyProcessingAt: "123",
		"tier":          "team",
		"seats":         "5",
	}
	ledger := NewLedger(store, LedgerConfig{})

	if err := ledger.Commit(context.Background(), "cus_1", "cs_1", false); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	md := store.metadata["cus_1"]
	if md[KeyFulfilledID] != "cs_1" {
		t.Errorf("fulfilled_id = %q, want cs_1", md[KeyFulfilledID])
	}
	if _, ok := md[KeyProcessingID]; ok {
		t.Error("processing_id not cleared")
	}
	if md["tier"] != "team" || md["seats"] != "5" {
		t.Errorf("unrelated metadata lost: %v", md)
	}
}

func TestCommitIncrementsRenewalFromCommitTimeValue(t *testing.T) {
	store := newMemoryStore()
	store.metadata["sub_1"] = map[string]string{KeyRenewalCount: "2"}
	ledger := NewLedger(store, LedgerConfig{})

	// Simulate metadata drift between begin and commit.
	store.metadata["sub_1"][KeyRenewalCount] = "7"

	if err := ledger.Commit(context.Background(), "sub_1", "in_3", true); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if got := store.metadata["sub_1"][KeyRenewalCount]; got != "8" {
		t.Errorf("renewal_count = %q, want 8 (commit-time value + 1)", got)
	}
}

func TestCommitWithoutRenewalLeavesCounterUntouched(t *testing.T) {
	store := newMemoryStore()
	store.metadata["sub_1"] = map[string]string{KeyRenewalCount: "4"}
	ledger := NewLedger(store, LedgerConfig{})

	if err := ledger.Commit(context.Background(), "sub_1", "in_9", false); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if got := store.metadata["sub_1"][KeyRenewalCount]; got != "4" {
		t.Errorf("renewal_count = %q, want 4", got)
	}
}

func TestReleaseClearsProcessingOnly(t *testing.T) {
	store := newMemoryStore()
	store.metadata["cus_1"] = map[string]string{
		KeyProcessingID: "cs_2",
		KeyProcessingAt: "456",
		KeyFulfilledID:  "cs_1",
	}
	ledger := NewLedger(store, LedgerConfig{})

	ledger.Release(context.Background(), "cus_1")

	md := store.metadata["cus_1"]
	if _, ok := md[KeyProcessingID]; ok {
		t.Error("processing_id not cleared")
	}
	if md[KeyFulfilledID] != "cs_1" {
		t.Errorf("fulfilled_id = %q, want cs_1 preserved", md[KeyFulfilledID])
	}
}

func TestReleaseSwallowsStoreFailures(t *testing.T) {
	store := newMemoryStore()
	store.mergeErr = errors.New("metadata write failed")
	ledger := NewLedger(store, LedgerConfig{})

	// Must not panic or escalate; the stale threshold is the safety net.
	ledger.Release(context.Background(), "cus_1")
}

func TestRenewalCountParsing(t *testing.T) {
	tests := []struct {
		name string
		md   map[string]string
		want int
	}{
		{"missing", map[string]string{}, 0},
		{"valid", map[string]string{KeyRenewalCount: "3"}, 3},
		{"garbage", map[string]string{KeyRenewalCount: "abc"}, 0},
		{"negative", map[string]string{KeyRenewalCount: "-2"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RenewalCount(tt.md); got != tt.want {
				t.Errorf("RenewalCount(%v) = %d, want %d", tt.md, got, tt.want)
			}
		})
	}
}
