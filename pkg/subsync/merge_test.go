package subsync

import (
	"errors"
	"testing"
	"time"
)

func baseRecord(observedAt time.Time) *SubscriptionRecord {
	return &SubscriptionRecord{
		UserID:                 "user1",
		ExternalSubscriptionID: "sub_1",
		ExternalCustomerID:     "cus_1",
		Status:                 StatusActive,
		PriceID:                "price_basic",
		ObservedAt:             observedAt,
		CreatedAt:              observedAt,
		UpdatedAt:              observedAt,
	}
}

func TestMerge_AppliesNewerSnapshot(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := baseRecord(t0)

	incoming := &SubscriptionSnapshot{
		ExternalSubscriptionID: "sub_1",
		ExternalCustomerID:     "cus_1",
		Status:                 StatusPastDue,
		PriceID:                "price_basic",
		CancelAtPeriodEnd:      true,
		ObservedAt:             t0.Add(time.Hour),
	}

	merged, applied, err := Merge(current, incoming)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if !applied {
		t.Fatal("Expected snapshot to be applied")
	}
	if merged.Status != StatusPastDue {
		t.Errorf("Status mismatch: got %s", merged.Status)
	}
	if !merged.CancelAtPeriodEnd {
		t.Error("Expected CancelAtPeriodEnd to be carried over")
	}
	if merged.UserID != "user1" {
		t.Errorf("UserID must be preserved: got %s", merged.UserID)
	}
	if !merged.CreatedAt.Equal(current.CreatedAt) {
		t.Error("CreatedAt must be preserved")
	}
}

func TestMerge_SkipsStaleSnapshot(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := baseRecord(t0)

	stale := &SubscriptionSnapshot{
		ExternalSubscriptionID: "sub_1",
		Status:                 StatusCanceled,
		ObservedAt:             t0.Add(-time.Hour),
	}

	merged, applied, err := Merge(current, stale)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if applied {
		t.Fatal("Expected stale snapshot to be skipped")
	}
	if merged.Status != StatusActive {
		t.Errorf("Stale snapshot changed the record: got %s", merged.Status)
	}
}

func TestMerge_EqualObservedAtApplies(t *testing.T) {
	// Ties go to the incoming snapshot so identical redeliveries stay
	// idempotent without being treated as stale.
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := baseRecord(t0)

	incoming := &SubscriptionSnapshot{
		ExternalSubscriptionID: "sub_1",
		Status:                 StatusActive,
		PriceID:                "price_basic",
		ObservedAt:             t0,
	}

	merged, applied, err := Merge(current, incoming)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if !applied {
		t.Error("Expected snapshot with equal ObservedAt to apply")
	}
	if merged.Status != StatusActive {
		t.Errorf("Unexpected status: %s", merged.Status)
	}
}

func TestMerge_Idempotent(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := baseRecord(t0)

	incoming := &SubscriptionSnapshot{
		ExternalSubscriptionID: "sub_1",
		ExternalCustomerID:     "cus_1",
		Status:                 StatusPastDue,
		PriceID:                "price_basic",
		ObservedAt:             t0.Add(time.Hour),
	}

	once, _, err := Merge(current, incoming)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	twice, _, err := Merge(once, incoming)
	if err != nil {
		t.Fatalf("Second merge failed: %v", err)
	}

	if *once != *twice {
		t.Errorf("Merge is not idempotent: %+v vs %+v", once, twice)
	}
}

func TestMerge_SubscriptionMismatch(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := baseRecord(t0)

	incoming := &SubscriptionSnapshot{
		ExternalSubscriptionID: "sub_other",
		Status:                 StatusActive,
		ObservedAt:             t0.Add(time.Hour),
	}

	_, _, err := Merge(current, incoming)
	if !errors.Is(err, ErrSubscriptionMismatch) {
		t.Errorf("Expected ErrSubscriptionMismatch, got %v", err)
	}
}

func TestMerge_NilCurrent(t *testing.T) {
	incoming := &SubscriptionSnapshot{
		ExternalSubscriptionID: "sub_1",
		Status:                 StatusActive,
		ObservedAt:             time.Now().UTC(),
	}

	_, _, err := Merge(nil, incoming)
	if !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Expected ErrRecordNotFound, got %v", err)
	}
}

func TestMerge_InvalidSnapshot(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := baseRecord(t0)

	cases := []struct {
		name string
		snap *SubscriptionSnapshot
		want error
	}{
		{"nil snapshot", nil, ErrInvalidPayload},
		{"missing subscription id", &SubscriptionSnapshot{Status: StatusActive, ObservedAt: t0}, ErrInvalidPayload},
		{"unknown status", &SubscriptionSnapshot{ExternalSubscriptionID: "sub_1", Status: "paused", ObservedAt: t0}, ErrUnknownStatus},
		{"missing observed_at", &SubscriptionSnapshot{ExternalSubscriptionID: "sub_1", Status: StatusActive}, ErrInvalidPayload},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Merge(current, tc.snap)
			if !errors.Is(err, tc.want) {
				t.Errorf("Expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestMerge_DoesNotMutateArguments(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := baseRecord(t0)
	before := *current

	incoming := &SubscriptionSnapshot{
		ExternalSubscriptionID: "sub_1",
		Status:                 StatusCanceled,
		ObservedAt:             t0.Add(time.Hour),
	}

	if _, _, err := Merge(current, incoming); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if *current != before {
		t.Errorf("Merge mutated the current record: %+v", current)
	}
}

func TestParseStatus(t *testing.T) {
	cases := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{"active", StatusActive, false},
		{"PAST_DUE", StatusPastDue, false},
		{" canceled ", StatusCanceled, false},
		{"incomplete", StatusIncomplete, false},
		{"trialing", StatusTrialing, false},
		{"unpaid", StatusUnpaid, false},
		{"paused", "", true},
		{"", "", true},
	}

	for _, tc := range cases {
		got, err := ParseStatus(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrUnknownStatus) {
				t.Errorf("ParseStatus(%q): expected ErrUnknownStatus, got %v", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseStatus(%q) failed: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseStatus(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}
