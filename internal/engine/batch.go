package engine

import (
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-correlator/internal/graph"
	"github.com/miradorstack/mirador-correlator/internal/metrics"
	"github.com/miradorstack/mirador-correlator/internal/models"
)

// Topology is the part of the service graph a batch reads.
type Topology interface {
	HasNode(id string) bool
	Ancestors(id string, maxDepth int) iter.Seq[graph.Node]
	Dependents(id string) ([]graph.Node, error)
}

// Scheduler arms a delayed notification for a root alert. The returned func
// stops the timer; calling it after the timer fired is harmless.
type Scheduler interface {
	Schedule(batchID, alertID string, token uint64, delay time.Duration) (stop func())
}

// BatchOptions tunes admission and notification.
type BatchOptions struct {
	Slack            time.Duration
	NotifyDelay      time.Duration
	MaxAncestorDepth int
}

type pendingNotify struct {
	token uint64
	stop  func()
}

type pair struct {
	cause  *models.Alert
	effect *models.Alert
}

// Batch is a sliding-window cluster of alerts that may share a root cause.
type Batch struct {
	id     string
	opts   BatchOptions
	topo   Topology
	links  *LinkTable
	sched  Scheduler
	logger *slog.Logger

	lower, upper time.Time
	members      map[string]*models.Alert
	byService    map[string][]*models.Alert
	linked       map[LinkKey]struct{}
	observed     map[LinkKey]struct{}
	groups       map[string]*Group
	groupOf      map[string]*Group
	pending      map[string]pendingNotify
	tokens       uint64
}

// NewBatch returns an empty batch sharing links.
func NewBatch(topo Topology, links *LinkTable, sched Scheduler, opts BatchOptions, logger *slog.Logger) *Batch {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &Batch{
		id:        id,
		opts:      opts,
		topo:      topo,
		links:     links,
		sched:     sched,
		logger:    logger.With(slog.String("batch", id)),
		members:   make(map[string]*models.Alert),
		byService: make(map[string][]*models.Alert),
		linked:    make(map[LinkKey]struct{}),
		observed:  make(map[LinkKey]struct{}),
		groups:    make(map[string]*Group),
		groupOf:   make(map[string]*Group),
		pending:   make(map[string]pendingNotify),
	}
}

// ID identifies the batch.
func (b *Batch) ID() string { return b.id }

// Bounds returns the earliest and latest member start times.
func (b *Batch) Bounds() (time.Time, time.Time) { return b.lower, b.upper }

// Contains reports active membership.
func (b *Batch) Contains(id string) bool {
	_, ok := b.members[id]
	return ok
}

// Len counts active members.
func (b *Batch) Len() int { return len(b.members) }

// Alert returns any alert the batch has grouped, resolved ones included.
func (b *Batch) Alert(id string) (*models.Alert, bool) {
	g, ok := b.groupOf[id]
	if !ok {
		return nil, false
	}
	for _, m := range g.Members() {
		if m.ID == id {
			return m, true
		}
	}
	return nil, false
}

// GroupOf returns the group currently holding an alert.
func (b *Batch) GroupOf(id string) (*Group, bool) {
	g, ok := b.groupOf[id]
	return g, ok
}

// Groups returns the groups still awaiting delivery.
func (b *Batch) Groups() []*Group {
	out := make([]*Group, 0, len(b.groups))
	for _, g := range b.groups {
		out = append(out, g)
	}
	return out
}

// AlertIDs lists every alert the batch has grouped.
func (b *Batch) AlertIDs() []string {
	out := make([]string, 0, len(b.groupOf))
	for id := range b.groupOf {
		out = append(out, id)
	}
	return out
}

// Pending reports whether a notification is armed for alert id.
func (b *Batch) Pending(id string) bool {
	_, ok := b.pending[id]
	return ok
}

// HoldsLink reports whether the batch discovered the pair.
func (b *Batch) HoldsLink(cause, effect string) bool {
	_, ok := b.linked[LinkKey{Cause: cause, Effect: effect}]
	return ok
}

// Disposable is true once nothing is pending and every group was delivered.
func (b *Batch) Disposable() bool {
	return len(b.pending) == 0 && len(b.groups) == 0
}

func (b *Batch) withinWindow(t time.Time) bool {
	return !t.Before(b.lower.Add(-b.opts.Slack)) && !t.After(b.upper.Add(b.opts.Slack))
}

// Seed makes a the sole member and root of a fresh group.
func (b *Batch) Seed(a *models.Alert) {
	b.admit(a)
	b.newRoot(a)
}

// CheckAndAdd offers a to the batch. It returns false when a falls outside
// the window or has no related member; graph.ErrNotFound when its service is
// unknown. Offering a current member again changes nothing.
func (b *Batch) CheckAndAdd(a *models.Alert) (bool, error) {
	if b.Contains(a.ID) {
		return true, nil
	}
	if len(b.members) > 0 && !b.withinWindow(a.StartsAt) {
		b.logger.Debug("temporal check failed", slog.String("alert", a.ID))
		return false, nil
	}
	if !b.topo.HasNode(a.Service) {
		return false, fmt.Errorf("alert %s service %s: %w", a.ID, a.Service, graph.ErrNotFound)
	}

	pairs, err := b.discover(a)
	if err != nil {
		return false, err
	}
	if len(pairs) == 0 {
		b.logger.Debug("no links found", slog.String("alert", a.ID))
		return false, nil
	}

	b.admit(a)
	for _, p := range pairs {
		key := LinkKey{Cause: p.cause.ID, Effect: p.effect.ID}
		b.links.Ensure(key.Cause, key.Effect)
		b.linked[key] = struct{}{}
		if _, seen := b.observed[key]; seen {
			continue
		}
		if !p.cause.StartsAt.After(p.effect.StartsAt) {
			b.links.Observe(key.Cause, key.Effect)
			b.observed[key] = struct{}{}
		}
	}

	b.place(a)
	return true, nil
}

// discover collects candidate pairs: same-service members both ways, members
// on ancestor services as causes, members on direct dependents as effects.
func (b *Batch) discover(a *models.Alert) ([]pair, error) {
	var pairs []pair
	for _, o := range b.byService[a.Service] {
		pairs = append(pairs, pair{cause: o, effect: a}, pair{cause: a, effect: o})
	}
	for n := range b.topo.Ancestors(a.Service, b.opts.MaxAncestorDepth) {
		for _, p := range b.byService[n.ID] {
			pairs = append(pairs, pair{cause: p, effect: a})
		}
	}
	deps, err := b.topo.Dependents(a.Service)
	if err != nil {
		return nil, err
	}
	for _, d := range deps {
		for _, c := range b.byService[d.ID] {
			pairs = append(pairs, pair{cause: a, effect: c})
		}
	}
	return pairs, nil
}

func (b *Batch) admit(a *models.Alert) {
	b.members[a.ID] = a
	b.byService[a.Service] = append(b.byService[a.Service], a)
	a.BatchID = b.id
	if b.lower.IsZero() || a.StartsAt.Before(b.lower) {
		b.lower = a.StartsAt
	}
	if b.upper.IsZero() || a.StartsAt.After(b.upper) {
		b.upper = a.StartsAt
	}
}

// place decides where a sits in the causal structure of the batch.
func (b *Batch) place(a *models.Alert) {
	var bestChild, bestParent *Link
	for _, l := range b.links.Effects(a.ID) {
		if !b.Contains(l.Effect) || !b.links.Decided(l) {
			continue
		}
		if bestChild == nil || l.Strength() > bestChild.Strength() {
			bestChild = l
		}
	}
	for _, l := range b.links.Causes(a.ID) {
		if !b.Contains(l.Cause) || !b.links.Decided(l) {
			continue
		}
		if bestParent == nil || l.Strength() > bestParent.Strength() {
			bestParent = l
		}
	}

	if bestChild != nil && b.contested(a.ID, bestChild) {
		b.logger.Debug("child claimed by a stronger parent",
			slog.String("alert", a.ID), slog.String("child", bestChild.Effect))
		bestChild = nil
	}
	if bestChild != nil && bestParent != nil && b.descends(bestParent.Cause, bestChild.Effect) {
		bestChild = nil
	}

	switch {
	case bestChild != nil && bestParent != nil:
		b.bridge(a, b.members[bestParent.Cause], b.members[bestChild.Effect])
	case bestChild != nil:
		b.supersede(a, b.members[bestChild.Effect])
	case bestParent != nil:
		b.attach(a, b.members[bestParent.Cause])
	default:
		b.newRoot(a)
	}
}

// contested is true when another member parent of the child holds a claim at
// least as strong as a's, so the child is never re-parented to a weaker one.
func (b *Batch) contested(id string, claim *Link) bool {
	strength := claim.Strength()
	for _, l := range b.links.Causes(claim.Effect) {
		if l.Cause == id || !b.Contains(l.Cause) {
			continue
		}
		if l.Strength() >= strength {
			return true
		}
	}
	return false
}

// descends reports whether ancestor is reachable from id by following
// parent pointers.
func (b *Batch) descends(id, ancestor string) bool {
	seen := make(map[string]struct{})
	for id != "" {
		if id == ancestor {
			return true
		}
		if _, loop := seen[id]; loop {
			return false
		}
		seen[id] = struct{}{}
		a, ok := b.Alert(id)
		if !ok {
			return false
		}
		id = a.ParentID
	}
	return false
}

func (b *Batch) bridge(a, parent, child *models.Alert) {
	pg := b.groupOf[parent.ID]
	cg := b.groupOf[child.ID]
	b.logger.Debug("bridging", slog.String("alert", a.ID), slog.String("parent", parent.ID), slog.String("child", child.ID))

	pg.AddOther(a)
	a.ParentID = parent.ID
	b.groupOf[a.ID] = pg
	child.ParentID = a.ID

	if cg != pg {
		b.cancel(cg.Root().ID)
		for _, m := range cg.Members() {
			pg.AddOther(m)
			b.groupOf[m.ID] = pg
		}
		delete(b.groups, cg.ID())
	}
	b.register(pg.Root())
}

func (b *Batch) supersede(a, child *models.Alert) {
	g := b.groupOf[child.ID]
	old := g.Root()
	b.logger.Debug("superseding root", slog.String("alert", a.ID), slog.String("previous", old.ID))
	b.cancel(old.ID)
	g.AddRoot(a)
	child.ParentID = a.ID
	if old.ID != child.ID {
		old.ParentID = a.ID
	}
	b.groupOf[a.ID] = g
	b.register(a)
}

func (b *Batch) attach(a, parent *models.Alert) {
	g := b.groupOf[parent.ID]
	g.AddOther(a)
	a.ParentID = parent.ID
	b.groupOf[a.ID] = g
	if g.Delivered() {
		b.register(g.Root())
	}
}

func (b *Batch) newRoot(a *models.Alert) {
	g := NewGroup(a)
	b.groupOf[a.ID] = g
	b.register(a)
}

// register arms a fresh notification for root, replacing any pending one.
func (b *Batch) register(root *models.Alert) {
	b.cancel(root.ID)
	g := b.groupOf[root.ID]
	g.delivered = false
	b.groups[g.ID()] = g

	b.tokens++
	token := b.tokens
	stop := b.sched.Schedule(b.id, root.ID, token, b.opts.NotifyDelay)
	b.pending[root.ID] = pendingNotify{token: token, stop: stop}
	b.logger.Debug("registered root", slog.String("alert", root.ID), slog.String("group", g.ID()))
}

func (b *Batch) cancel(id string) {
	p, ok := b.pending[id]
	if !ok {
		return
	}
	p.stop()
	delete(b.pending, id)
	metrics.NotificationCancelled()
	b.logger.Debug("notification cancelled", slog.String("alert", id))
}

// Fire handles an expired timer. It returns the group to deliver, or false
// when the timer was superseded or the alert is no longer its group's root.
func (b *Batch) Fire(alertID string, token uint64) (models.GroupView, bool) {
	p, ok := b.pending[alertID]
	if !ok || p.token != token {
		return models.GroupView{}, false
	}
	delete(b.pending, alertID)
	g, ok := b.groupOf[alertID]
	if !ok || g.Root().ID != alertID {
		return models.GroupView{}, false
	}
	g.delivered = true
	delete(b.groups, g.ID())
	return g.View(), true
}

// Resolve drops the alert from active membership so it no longer attracts
// links. Its group and any pending notification are left as they are.
func (b *Batch) Resolve(id string, endsAt time.Time) bool {
	a, ok := b.members[id]
	if !ok {
		return false
	}
	delete(b.members, id)
	peers := b.byService[a.Service]
	for i, p := range peers {
		if p.ID == id {
			b.byService[a.Service] = append(peers[:i:i], peers[i+1:]...)
			break
		}
	}
	if len(b.byService[a.Service]) == 0 {
		delete(b.byService, a.Service)
	}
	a.Status = models.StatusResolved
	a.EndsAt = endsAt
	return true
}

// Reactivate restores a resolved alert that fired again while its batch is
// still open. Its place in the group is kept.
func (b *Batch) Reactivate(id string) bool {
	if b.Contains(id) {
		return true
	}
	a, ok := b.Alert(id)
	if !ok {
		return false
	}
	a.Status = models.StatusFiring
	a.EndsAt = time.Time{}
	b.members[id] = a
	b.byService[a.Service] = append(b.byService[a.Service], a)
	return true
}

// Stop disarms every pending notification.
func (b *Batch) Stop() {
	for id, p := range b.pending {
		p.stop()
		delete(b.pending, id)
	}
}
