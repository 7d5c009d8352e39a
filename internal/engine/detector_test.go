package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/miradorstack/mirador-correlator/internal/models"
	"github.com/miradorstack/mirador-correlator/internal/store/memstore"
)

type recordingNotifier struct {
	groups chan models.GroupView
	err    error
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{groups: make(chan models.GroupView, 16)}
}

func (n *recordingNotifier) Notify(_ context.Context, v models.GroupView) error {
	n.groups <- v
	return n.err
}

func testConfig(delay time.Duration) Config {
	cfg := DefaultConfig()
	cfg.NotifyDelay = delay
	return cfg
}

func startDetector(t *testing.T, d *Detector) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("run: %v", err)
		}
	})
}

func TestIsolatedRootNotifiedOnce(t *testing.T) {
	n := newRecordingNotifier()
	d := New(testConfig(30*time.Millisecond), chain(), memstore.New(), n, nil)
	startDetector(t, d)

	if err := d.Enqueue(context.Background(), []*models.Alert{newAlert("z", "Z", 0)}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case v := <-n.groups:
		root, _ := v.Root()
		if root.ID != "z" {
			t.Fatalf("root = %s, want z", root.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("group was never delivered")
	}
	select {
	case v := <-n.groups:
		t.Fatalf("unexpected second delivery %+v", v)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestStrongerParentSuppressesPendingNotification(t *testing.T) {
	n := newRecordingNotifier()
	d := New(testConfig(100*time.Millisecond), chain(), memstore.New(), n, nil)
	startDetector(t, d)

	ctx := context.Background()
	_ = d.Enqueue(ctx, []*models.Alert{newAlert("x", "B", 10*time.Second)})
	_ = d.Enqueue(ctx, []*models.Alert{newAlert("y", "A", 0)})

	select {
	case v := <-n.groups:
		root, _ := v.Root()
		if root.ID != "y" || len(v.Alerts) != 2 {
			t.Fatalf("unexpected delivery %+v", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("group was never delivered")
	}
	select {
	case v := <-n.groups:
		t.Fatalf("cancelled root delivered anyway: %+v", v)
	case <-time.After(250 * time.Millisecond):
	}
}

func TestPayloadProcessedInStartOrder(t *testing.T) {
	d := New(testConfig(time.Hour), chain(), memstore.New(), newRecordingNotifier(), nil)
	defer d.shutdown()

	child := newAlert("b", "B", 10*time.Second)
	parent := newAlert("a", "A", 0)
	d.Ingest(context.Background(), []*models.Alert{child, parent})

	if len(d.Batches()) != 1 {
		t.Fatalf("expected one batch, got %d", len(d.Batches()))
	}
	if child.ParentID != "a" || !parent.IsRoot {
		t.Fatalf("parent should be placed first: child parent=%q", child.ParentID)
	}
}

func TestStoreProtocol(t *testing.T) {
	st := memstore.New()
	d := New(testConfig(time.Hour), chain(), st, newRecordingNotifier(), nil)
	defer d.shutdown()
	ctx := context.Background()

	d.Ingest(ctx, []*models.Alert{newAlert("a", "A", 0)})
	d.Ingest(ctx, []*models.Alert{newAlert("a", "A", 0)})
	if n, _ := st.Count(ctx, "a"); n != 2 {
		t.Fatalf("duplicate should still be stored, count=%d", n)
	}
	if len(d.Batches()) != 1 || d.Batches()[0].Len() != 1 {
		t.Fatalf("duplicate firing must not be processed again")
	}

	resolved := newAlert("a", "A", 0)
	resolved.Status = models.StatusResolved
	d.Ingest(ctx, []*models.Alert{resolved})
	b := d.Batches()[0]
	if b.Contains("a") {
		t.Fatalf("resolved alert should leave active membership")
	}

	ghost := newAlert("ghost", "A", 0)
	ghost.Status = models.StatusResolved
	d.Ingest(ctx, []*models.Alert{ghost})
	if ok, _ := st.Has(ctx, "ghost"); !ok {
		t.Fatalf("unknown resolved alert should be stored")
	}

	d.Ingest(ctx, []*models.Alert{newAlert("a", "A", time.Second)})
	if !b.Contains("a") || len(d.Batches()) != 1 {
		t.Fatalf("refire should reactivate the alert in its open batch")
	}
}

func TestSeverityFilterAndUnknownService(t *testing.T) {
	st := memstore.New()
	d := New(testConfig(time.Hour), chain(), st, newRecordingNotifier(), nil)
	defer d.shutdown()
	ctx := context.Background()

	warn := newAlert("w", "A", 0)
	warn.Severity = "warning"
	d.Ingest(ctx, []*models.Alert{warn})
	if ok, _ := st.Has(ctx, "w"); ok || len(d.Batches()) != 0 {
		t.Fatalf("non-critical alert should be skipped entirely")
	}

	outcome, err := d.ProcessAlert(newAlert("q", "Q", 0))
	if err == nil || outcome != "error" {
		t.Fatalf("unknown service should fail: %s %v", outcome, err)
	}
	d.Ingest(ctx, []*models.Alert{newAlert("q", "Q", 0), newAlert("z", "Z", 0)})
	if len(d.Batches()) != 1 {
		t.Fatalf("a failing alert must not stop the rest of the payload")
	}
}

func TestHandleFeedbackCountsHolders(t *testing.T) {
	d := New(testConfig(time.Hour), chain(), memstore.New(), newRecordingNotifier(), nil)
	defer d.shutdown()
	d.Ingest(context.Background(), []*models.Alert{newAlert("a", "A", 0), newAlert("b", "B", 5*time.Second)})

	holders := d.HandleFeedback(models.Feedback{Relations: []models.Relation{
		{Cause: "a", Effect: "b", Confirmed: false},
		{Cause: "x", Effect: "y", Confirmed: true},
	}})
	if holders != 1 {
		t.Fatalf("holders = %d, want 1", holders)
	}
	l, _ := d.Links().Get("a", "b")
	if l.Beta != 1+DefaultConfig().DenialWeight {
		t.Fatalf("feedback should be visible through the shared table, beta=%v", l.Beta)
	}
}

func denyThreeTimes(d *Detector, cause, effect string) {
	for i := 0; i < 3; i++ {
		d.HandleFeedback(models.Feedback{Relations: []models.Relation{{Cause: cause, Effect: effect, Confirmed: false}}})
	}
}

func TestDeniedPairStaysApartWhenFeedbackComesFirst(t *testing.T) {
	d := New(testConfig(time.Hour), chain(), memstore.New(), newRecordingNotifier(), nil)
	defer d.shutdown()
	denyThreeTimes(d, "x", "y")

	x := newAlert("x", "A", 0)
	y := newAlert("y", "B", 10*time.Second)
	d.Ingest(context.Background(), []*models.Alert{x, y})

	l, _ := d.Links().Get("x", "y")
	if l.Strength() >= 0.2 || d.Links().Decided(l) {
		t.Fatalf("strength %v should stay below 0.2 after co-occurring", l.Strength())
	}
	if y.ParentID != "" || !y.IsRoot {
		t.Fatalf("denied pair linked anyway: y parent = %q", y.ParentID)
	}
	b := d.Batches()[0]
	gx, _ := b.GroupOf("x")
	gy, _ := b.GroupOf("y")
	if gx == gy {
		t.Fatalf("x and y should sit in separate groups")
	}
}

func TestDeniedPairIsUnlinkedForLaterPlacement(t *testing.T) {
	d := New(testConfig(time.Hour), chain(), memstore.New(), newRecordingNotifier(), nil)
	defer d.shutdown()
	ctx := context.Background()

	x := newAlert("x", "A", 0)
	y := newAlert("y", "B", 10*time.Second)
	d.Ingest(ctx, []*models.Alert{x, y})
	if y.ParentID != "x" {
		t.Fatalf("y should start as x's child, parent = %q", y.ParentID)
	}

	denyThreeTimes(d, "x", "y")
	l, _ := d.Links().Get("x", "y")
	if l.Strength() >= 0.2 || d.Links().Decided(l) {
		t.Fatalf("strength %v should drop below 0.2", l.Strength())
	}

	// A later alert on A now takes y, since x no longer holds a decided claim.
	p := newAlert("p", "A", 5*time.Second)
	d.Ingest(ctx, []*models.Alert{p})
	if y.ParentID != "p" || p.ParentID != "x" {
		t.Fatalf("expected x -> p -> y, got y parent %q p parent %q", y.ParentID, p.ParentID)
	}
}

func TestAlertForUnknownServiceIsRetriedOnceServiceExists(t *testing.T) {
	st := memstore.New()
	g := chain()
	d := New(testConfig(time.Hour), g, st, newRecordingNotifier(), nil)
	defer d.shutdown()
	ctx := context.Background()

	d.Ingest(ctx, []*models.Alert{newAlert("q", "Q", 0)})
	if len(d.Batches()) != 0 {
		t.Fatalf("alert on unknown service must not open a batch")
	}
	if ok, _ := st.Has(ctx, "q"); ok {
		t.Fatalf("unprocessed alert must not be recorded as active")
	}

	g.Add("Q", nil, nil)
	d.Ingest(ctx, []*models.Alert{newAlert("q", "Q", 0)})
	if len(d.Batches()) != 1 || !d.Batches()[0].Contains("q") {
		t.Fatalf("re-sent alert should be processed once its service is known")
	}
	if n, _ := st.Count(ctx, "q"); n != 1 {
		t.Fatalf("store count = %d, want 1", n)
	}
}

func TestDeliveryFailureDoesNotStopLoop(t *testing.T) {
	n := newRecordingNotifier()
	n.err = errors.New("sink down")
	d := New(testConfig(20*time.Millisecond), chain(), memstore.New(), n, nil)
	startDetector(t, d)

	_ = d.Enqueue(context.Background(), []*models.Alert{newAlert("z", "Z", 0)})
	select {
	case <-n.groups:
	case <-time.After(2 * time.Second):
		t.Fatalf("group was never delivered")
	}
	_ = d.Enqueue(context.Background(), []*models.Alert{newAlert("z2", "Z", 0)})
	select {
	case <-n.groups:
	case <-time.After(2 * time.Second):
		t.Fatalf("a delivery failure must not stop the loop")
	}
}

func TestEnqueueAfterStop(t *testing.T) {
	d := New(testConfig(time.Hour), chain(), memstore.New(), newRecordingNotifier(), nil)
	d.payloads = make(chan []*models.Alert)
	d.shutdown()
	if err := d.Enqueue(context.Background(), nil); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}
