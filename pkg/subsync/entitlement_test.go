package subsync

import (
	"testing"
	"time"
)

func TestEntitled(t *testing.T) {
	cases := []struct {
		name string
		rec  *SubscriptionRecord
		want bool
	}{
		{"nil record", nil, false},
		{"active", &SubscriptionRecord{Status: StatusActive}, true},
		{"trialing", &SubscriptionRecord{Status: StatusTrialing}, true},
		{"past_due keeps access during retries", &SubscriptionRecord{Status: StatusPastDue}, true},
		{"canceled", &SubscriptionRecord{Status: StatusCanceled}, false},
		{"incomplete", &SubscriptionRecord{Status: StatusIncomplete}, false},
		{"unpaid", &SubscriptionRecord{Status: StatusUnpaid}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Entitled(tc.rec); got != tc.want {
				t.Errorf("Entitled() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEntitled_IgnoresPendingCancellation(t *testing.T) {
	// A pending cancel-at-period-end does not revoke access; the status flips
	// to canceled only when the provider reports the period actually ended.
	rec := &SubscriptionRecord{
		Status:            StatusActive,
		CancelAtPeriodEnd: true,
		CurrentPeriodEnd:  time.Now().UTC().Add(-time.Hour),
	}
	if !Entitled(rec) {
		t.Error("Expected active record with pending cancellation to stay entitled")
	}
}
