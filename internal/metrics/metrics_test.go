package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register should tolerate duplicates: %v", err)
	}
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(notificationsCancelledTotal)
	NotificationCancelled()
	if got := testutil.ToFloat64(notificationsCancelledTotal); got != before+1 {
		t.Fatalf("expected cancelled counter to advance, got %v", got)
	}

	failed := testutil.ToFloat64(groupsDeliveredTotal.WithLabelValues("error"))
	GroupDelivered(errors.New("boom"))
	if got := testutil.ToFloat64(groupsDeliveredTotal.WithLabelValues("error")); got != failed+1 {
		t.Fatalf("expected error delivery to be counted, got %v", got)
	}

	SetOpenBatches(3)
	if got := testutil.ToFloat64(openBatches); got != 3 {
		t.Fatalf("unexpected open batches: %v", got)
	}
}
