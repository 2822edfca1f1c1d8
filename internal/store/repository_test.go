package store

import (
	"strings"
	"testing"
	"time"

	"github.com/dineflow/billing-service/internal/domain"
)

// fakeSubscriptionRow plays back a fixed column list through the rowScanner
// interface.
type fakeSubscriptionRow struct {
	id     string
	status domain.SubscriptionStatus
}

func (f fakeSubscriptionRow) Scan(dest ...any) error {
	now := time.Now().UTC()
	*dest[0].(*string) = f.id
	*dest[1].(*string) = "rest-1"
	*dest[2].(*string) = "plan-1"
	*dest[3].(*domain.SubscriptionStatus) = f.status
	*dest[4].(*time.Time) = now
	*dest[5].(*time.Time) = now
	*dest[6].(*time.Time) = now
	*dest[7].(**time.Time) = nil
	*dest[8].(*bool) = false
	*dest[9].(**time.Time) = nil
	*dest[10].(**string) = nil
	*dest[11].(**string) = nil
	*dest[12].(**string) = nil
	*dest[13].(**time.Time) = nil
	*dest[14].(*time.Time) = now
	*dest[15].(*time.Time) = now
	return nil
}

func TestScanSubscription_AcceptsKnownStatuses(t *testing.T) {
	for _, status := range []domain.SubscriptionStatus{
		domain.StatusTrial, domain.StatusActive, domain.StatusInactive,
		domain.StatusExpired, domain.StatusCancelled,
	} {
		sub, err := scanSubscription(fakeSubscriptionRow{id: "sub-1", status: status})
		if err != nil {
			t.Fatalf("%s: scanSubscription returned error: %v", status, err)
		}
		if sub.Status != status {
			t.Fatalf("expected status %s, got %s", status, sub.Status)
		}
	}
}

func TestScanSubscription_RejectsUnknownStatus(t *testing.T) {
	_, err := scanSubscription(fakeSubscriptionRow{id: "sub-1", status: "suspended"})
	if err == nil {
		t.Fatal("expected an error for an unknown status")
	}
	if !strings.Contains(err.Error(), "suspended") {
		t.Fatalf("expected the unknown status in the error, got %v", err)
	}
}
