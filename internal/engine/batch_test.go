package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/miradorstack/mirador-correlator/internal/graph"
	"github.com/miradorstack/mirador-correlator/internal/models"
)

func TestCheckAndAddIdempotent(t *testing.T) {
	links := NewLinkTable(DefaultLinkParams())
	b := newTestBatch(chain(), links, newFakeScheduler())
	a := newAlert("a", "A", 0)
	b.Seed(a)

	x := newAlert("b", "B", 10*time.Second)
	if ok, err := b.CheckAndAdd(x); err != nil || !ok {
		t.Fatalf("expected b to join: %v %v", ok, err)
	}
	l, _ := links.Get("a", "b")
	alpha := l.Alpha

	if ok, err := b.CheckAndAdd(x); err != nil || !ok {
		t.Fatalf("re-offer should be accepted: %v %v", ok, err)
	}
	if b.Len() != 2 {
		t.Fatalf("membership duplicated: %d", b.Len())
	}
	if l.Alpha != alpha {
		t.Fatalf("observation counted twice: %v -> %v", alpha, l.Alpha)
	}
}

func TestCheckAndAddTemporalWindow(t *testing.T) {
	b := newTestBatch(chain(), NewLinkTable(DefaultLinkParams()), newFakeScheduler())
	b.Seed(newAlert("a", "A", 0))

	late := newAlert("b", "B", 3*time.Minute+time.Second)
	if ok, _ := b.CheckAndAdd(late); ok {
		t.Fatalf("alert beyond slack must be rejected")
	}
	edge := newAlert("b", "B", 3*time.Minute)
	if ok, _ := b.CheckAndAdd(edge); !ok {
		t.Fatalf("alert on the slack boundary must be admitted")
	}

	lower, upper := b.Bounds()
	for _, id := range []string{"a", "b"} {
		m, _ := b.Alert(id)
		if m.StartsAt.Before(lower.Add(-3*time.Minute)) || m.StartsAt.After(upper.Add(3*time.Minute)) {
			t.Fatalf("member %s outside window", id)
		}
	}
}

func TestCheckAndAddRejectsUnrelatedAndUnknown(t *testing.T) {
	b := newTestBatch(chain(), NewLinkTable(DefaultLinkParams()), newFakeScheduler())
	b.Seed(newAlert("a", "A", 0))

	if ok, err := b.CheckAndAdd(newAlert("z", "Z", time.Second)); ok || err != nil {
		t.Fatalf("unrelated service should be rejected without error: %v %v", ok, err)
	}
	_, err := b.CheckAndAdd(newAlert("q", "Q", time.Second))
	if !errors.Is(err, graph.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSameServiceLinksBothWays(t *testing.T) {
	links := NewLinkTable(DefaultLinkParams())
	b := newTestBatch(chain(), links, newFakeScheduler())
	b.Seed(newAlert("b1", "B", 0))
	if ok, _ := b.CheckAndAdd(newAlert("b2", "B", 5*time.Second)); !ok {
		t.Fatalf("same-service alert should join")
	}
	fwd, ok1 := links.Get("b1", "b2")
	rev, ok2 := links.Get("b2", "b1")
	if !ok1 || !ok2 {
		t.Fatalf("expected links in both directions")
	}
	if fwd.Alpha != 2 || rev.Alpha != 1 {
		t.Fatalf("only the temporally compatible direction should be observed: fwd=%v rev=%v", fwd.Alpha, rev.Alpha)
	}
}

func TestBridgingScenario(t *testing.T) {
	links := NewLinkTable(DefaultLinkParams())
	links.Seed([]models.LinkPrior{
		{Cause: "a", Effect: "b", Alpha: 3},
		{Cause: "b", Effect: "c", Alpha: 3},
	})
	sched := newFakeScheduler()
	bt := newTestBatch(chain(), links, sched)

	a := newAlert("a", "A", 0)
	c := newAlert("c", "C", 10*time.Second)
	b := newAlert("b", "B", 5*time.Second)
	bt.Seed(a)
	for _, x := range []*models.Alert{c, b} {
		if ok, err := bt.CheckAndAdd(x); err != nil || !ok {
			t.Fatalf("alert %s not admitted: %v %v", x.ID, ok, err)
		}
	}

	g, _ := bt.GroupOf("c")
	if g.Root().ID != "a" {
		t.Fatalf("root = %s, want a", g.Root().ID)
	}
	if c.ParentID != "b" || b.ParentID != "a" {
		t.Fatalf("unexpected parents: c->%q b->%q", c.ParentID, b.ParentID)
	}
	if !bt.Pending("a") || len(bt.Groups()) != 1 {
		t.Fatalf("expected a single pending group rooted at a")
	}
}

func TestBridgeMergesGroups(t *testing.T) {
	links := NewLinkTable(DefaultLinkParams())
	links.Seed([]models.LinkPrior{
		{Cause: "a", Effect: "b", Alpha: 3},
		{Cause: "b", Effect: "c", Alpha: 3},
		{Cause: "a", Effect: "c", Beta: 20},
	})
	sched := newFakeScheduler()
	bt := newTestBatch(chain(), links, sched)

	a := newAlert("a", "A", 0)
	c := newAlert("c", "C", 10*time.Second)
	b := newAlert("b", "B", 5*time.Second)
	bt.Seed(a)
	bt.CheckAndAdd(c)

	ga, _ := bt.GroupOf("a")
	gc, _ := bt.GroupOf("c")
	if ga == gc || !bt.Pending("c") {
		t.Fatalf("weak a->c link should leave c as its own pending root")
	}
	cToken := sched.armed["c"]

	bt.CheckAndAdd(b)

	if bt.Pending("c") {
		t.Fatalf("absorbed root must lose its pending notification")
	}
	if _, ok := bt.Fire("c", cToken); ok {
		t.Fatalf("cancelled timer must not deliver")
	}
	groups := bt.Groups()
	if len(groups) != 1 || groups[0] != ga {
		t.Fatalf("expected only a's group to remain, got %d groups", len(groups))
	}
	for _, id := range []string{"a", "b", "c"} {
		g, _ := bt.GroupOf(id)
		if g != ga || !ga.Contains(id) {
			t.Fatalf("alert %s not in the surviving group", id)
		}
	}
	if c.IsRoot || c.ParentID != "b" {
		t.Fatalf("ex-root c should be an ordinary child of b: %+v", c)
	}

	want := NewGroup(newAlert("c", "C", 0))
	want.AddOther(newAlert("b", "B", 0))
	want.AddRoot(newAlert("a", "A", 0))
	if ga.Checksum() != want.Checksum() {
		t.Fatalf("checksum mismatch after merge")
	}
}

func TestStrongerParentCancelsPendingRoot(t *testing.T) {
	sched := newFakeScheduler()
	bt := newTestBatch(chain(), NewLinkTable(DefaultLinkParams()), sched)

	x := newAlert("x", "B", 10*time.Second)
	bt.Seed(x)
	xToken := sched.armed["x"]

	y := newAlert("y", "A", 0)
	if ok, _ := bt.CheckAndAdd(y); !ok {
		t.Fatalf("parent alert should join")
	}
	if bt.Pending("x") {
		t.Fatalf("x's notification should have been cancelled")
	}
	if _, ok := bt.Fire("x", xToken); ok {
		t.Fatalf("x must never be delivered")
	}
	view, ok := bt.Fire("y", sched.armed["y"])
	if !ok {
		t.Fatalf("y's notification should deliver")
	}
	root, _ := view.Root()
	if root.ID != "y" || len(view.Alerts) != 2 || x.ParentID != "y" {
		t.Fatalf("unexpected delivered group %+v", view)
	}
	if !bt.Disposable() {
		t.Fatalf("batch should be disposable after its only group is delivered")
	}
}

func TestContestedChildKeepsStrongerParent(t *testing.T) {
	g := graph.New()
	g.Add("P", nil, []string{"C"})
	g.Add("Q", nil, []string{"C"})
	links := NewLinkTable(DefaultLinkParams())
	links.Seed([]models.LinkPrior{{Cause: "p", Effect: "c", Alpha: 6}})
	bt := newTestBatch(g, links, newFakeScheduler())

	p := newAlert("p", "P", 0)
	c := newAlert("c", "C", 5*time.Second)
	q := newAlert("q", "Q", time.Second)
	bt.Seed(p)
	bt.CheckAndAdd(c)
	if c.ParentID != "p" {
		t.Fatalf("c should attach to p")
	}
	if ok, _ := bt.CheckAndAdd(q); !ok {
		t.Fatalf("q should join through c")
	}
	if c.ParentID != "p" {
		t.Fatalf("c re-parented to weaker claimant %s", c.ParentID)
	}
	gq, _ := bt.GroupOf("q")
	if gq.Root().ID != "q" {
		t.Fatalf("q should become its own root")
	}
}

func TestFeedbackMakesPairUnrelated(t *testing.T) {
	links := NewLinkTable(DefaultLinkParams())
	for i := 0; i < 3; i++ {
		links.Feedback("x", "y", false)
	}
	bt := newTestBatch(chain(), links, newFakeScheduler())
	x := newAlert("x", "A", 0)
	y := newAlert("y", "B", 10*time.Second)
	bt.Seed(x)
	if ok, _ := bt.CheckAndAdd(y); !ok {
		t.Fatalf("y should be admitted as a candidate")
	}
	if y.ParentID != "" {
		t.Fatalf("denied pair must not be linked, y parent = %s", y.ParentID)
	}
	gx, _ := bt.GroupOf("x")
	gy, _ := bt.GroupOf("y")
	if gx == gy || gy.Root().ID != "y" {
		t.Fatalf("y should form its own group")
	}
	l, _ := links.Get("x", "y")
	if l.Alpha != 2 || links.Decided(l) {
		t.Fatalf("co-occurrence must not revive a denied pair: %+v", l)
	}
}

func TestSupersedeThroughNonRootChildReparentsOldRoot(t *testing.T) {
	links := NewLinkTable(DefaultLinkParams())
	bt := newTestBatch(chain(), links, newFakeScheduler())
	r := newAlert("r", "B", 0)
	c := newAlert("c", "C", 10*time.Second)
	bt.Seed(r)
	bt.CheckAndAdd(c)
	if c.ParentID != "r" {
		t.Fatalf("c should attach to r")
	}
	for i := 0; i < 3; i++ {
		links.Feedback("r", "c", false)
		links.Feedback("r", "a", false)
	}

	a := newAlert("a", "B", 5*time.Second)
	if ok, _ := bt.CheckAndAdd(a); !ok {
		t.Fatalf("a should join the batch")
	}
	g, _ := bt.GroupOf("r")
	if g.Root().ID != "a" || c.ParentID != "a" {
		t.Fatalf("a should take over through c: root=%s c parent=%q", g.Root().ID, c.ParentID)
	}
	if r.IsRoot || r.ParentID != "a" {
		t.Fatalf("demoted root should hang off the new root, parent=%q", r.ParentID)
	}
}

func TestIsolatedAlertIsOwnRoot(t *testing.T) {
	sched := newFakeScheduler()
	bt := newTestBatch(chain(), NewLinkTable(DefaultLinkParams()), sched)
	z := newAlert("z", "Z", 0)
	bt.Seed(z)
	view, ok := bt.Fire("z", sched.armed["z"])
	if !ok {
		t.Fatalf("expected delivery")
	}
	if root, _ := view.Root(); root.ID != "z" || len(view.Alerts) != 1 {
		t.Fatalf("unexpected view %+v", view)
	}
	if _, ok := bt.Fire("z", sched.armed["z"]); ok {
		t.Fatalf("a timer must deliver at most once")
	}
}

func TestAttachToDeliveredGroupRearmsRoot(t *testing.T) {
	sched := newFakeScheduler()
	bt := newTestBatch(chain(), NewLinkTable(DefaultLinkParams()), sched)
	a := newAlert("a", "A", 0)
	bt.Seed(a)
	if _, ok := bt.Fire("a", sched.armed["a"]); !ok {
		t.Fatalf("expected first delivery")
	}
	bt.CheckAndAdd(newAlert("b", "B", 10*time.Second))
	if !bt.Pending("a") || bt.Disposable() {
		t.Fatalf("late child should re-arm the delivered root")
	}
	view, ok := bt.Fire("a", sched.armed["a"])
	if !ok || len(view.Alerts) != 2 {
		t.Fatalf("expected enlarged redelivery, got %+v", view)
	}
}

func TestResolveStopsAttractingLinks(t *testing.T) {
	bt := newTestBatch(chain(), NewLinkTable(DefaultLinkParams()), newFakeScheduler())
	bt.Seed(newAlert("a", "A", 0))
	if !bt.Resolve("a", t0.Add(time.Minute)) {
		t.Fatalf("expected resolve to succeed")
	}
	if bt.Contains("a") {
		t.Fatalf("resolved alert still a member")
	}
	if ok, _ := bt.CheckAndAdd(newAlert("b", "B", time.Second)); ok {
		t.Fatalf("resolved alert must not attract links")
	}
	if !bt.Reactivate("a") || !bt.Contains("a") {
		t.Fatalf("expected reactivation")
	}
	if a, _ := bt.Alert("a"); a.Status != models.StatusFiring {
		t.Fatalf("reactivated alert should be firing")
	}
}

func TestCountersNeverDecrease(t *testing.T) {
	links := NewLinkTable(DefaultLinkParams())
	bt := newTestBatch(chain(), links, newFakeScheduler())
	snapshot := func() map[LinkKey][2]float64 {
		out := make(map[LinkKey][2]float64)
		for _, p := range links.Snapshot() {
			out[LinkKey{p.Cause, p.Effect}] = [2]float64{p.Alpha, p.Beta}
		}
		return out
	}
	check := func(before map[LinkKey][2]float64) map[LinkKey][2]float64 {
		after := snapshot()
		for k, v := range before {
			if after[k][0] < v[0] || after[k][1] < v[1] {
				t.Fatalf("link %v decreased: %v -> %v", k, v, after[k])
			}
		}
		return after
	}

	state := snapshot()
	bt.Seed(newAlert("a", "A", 0))
	state = check(state)
	bt.CheckAndAdd(newAlert("b", "B", 5*time.Second))
	state = check(state)
	links.Feedback("a", "b", false)
	state = check(state)
	bt.CheckAndAdd(newAlert("b2", "B", 6*time.Second))
	state = check(state)
	links.Feedback("b", "b2", true)
	check(state)
}
