package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/miradorstack/mirador-correlator/internal/graph"
	"github.com/miradorstack/mirador-correlator/internal/metrics"
	"github.com/miradorstack/mirador-correlator/internal/models"
	"github.com/miradorstack/mirador-correlator/internal/store"
)

// ErrStopped is returned by Enqueue and SubmitFeedback after Run has exited.
var ErrStopped = errors.New("detector stopped")

// Notifier receives finished groups.
type Notifier interface {
	Notify(ctx context.Context, group models.GroupView) error
}

// Config tunes the detector.
type Config struct {
	Slack               time.Duration
	NotifyDelay         time.Duration
	ConfidenceThreshold float64
	InitialAlpha        float64
	InitialBeta         float64
	DenialWeight        float64
	Severities          []string
	MaxAncestorDepth    int
	QueueSize           int
}

// DefaultConfig mirrors the service defaults.
func DefaultConfig() Config {
	return Config{
		Slack:               3 * time.Minute,
		NotifyDelay:         5 * time.Second,
		ConfidenceThreshold: 0.25,
		InitialAlpha:        1,
		InitialBeta:         1,
		DenialWeight:        3,
		Severities:          []string{"critical"},
		QueueSize:           256,
	}
}

type timerEvent struct {
	batchID string
	alertID string
	token   uint64
}

// Detector owns every batch, group, timer and the link table. Run is the only
// goroutine that mutates them; producers hand work over through channels.
type Detector struct {
	cfg      Config
	topo     Topology
	store    store.Store
	notifier Notifier
	links    *LinkTable
	logger   *slog.Logger

	severities map[string]struct{}
	batches    []*Batch
	byID       map[string]*Batch
	batchOf    map[string]*Batch

	payloads chan []*models.Alert
	feedback chan models.Feedback
	timers   chan timerEvent
	done     chan struct{}
	stopOnce sync.Once

	deliveries sync.WaitGroup
}

// New wires a detector. Seed priors through Links before calling Run.
func New(cfg Config, topo Topology, st store.Store, notifier Notifier, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	severities := make(map[string]struct{}, len(cfg.Severities))
	for _, s := range cfg.Severities {
		severities[strings.ToLower(s)] = struct{}{}
	}
	return &Detector{
		cfg:      cfg,
		topo:     topo,
		store:    st,
		notifier: notifier,
		links: NewLinkTable(LinkParams{
			InitialAlpha: cfg.InitialAlpha,
			InitialBeta:  cfg.InitialBeta,
			Threshold:    cfg.ConfidenceThreshold,
			DenialWeight: cfg.DenialWeight,
		}),
		logger:     logger,
		severities: severities,
		byID:       make(map[string]*Batch),
		batchOf:    make(map[string]*Batch),
		payloads:   make(chan []*models.Alert, cfg.QueueSize),
		feedback:   make(chan models.Feedback, cfg.QueueSize),
		timers:     make(chan timerEvent, cfg.QueueSize),
		done:       make(chan struct{}),
	}
}

// Links exposes the shared table; only touch it before Run starts.
func (d *Detector) Links() *LinkTable { return d.links }

// Enqueue hands a payload to the loop.
func (d *Detector) Enqueue(ctx context.Context, alerts []*models.Alert) error {
	select {
	case d.payloads <- alerts:
		return nil
	case <-d.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitFeedback hands operator feedback to the loop.
func (d *Detector) SubmitFeedback(ctx context.Context, fb models.Feedback) error {
	select {
	case d.feedback <- fb:
		return nil
	case <-d.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Schedule implements Scheduler on real timers. Expiry is only posted to the
// loop; the batch decides on the loop whether it still counts.
func (d *Detector) Schedule(batchID, alertID string, token uint64, delay time.Duration) func() {
	t := time.AfterFunc(delay, func() {
		select {
		case d.timers <- timerEvent{batchID: batchID, alertID: alertID, token: token}:
		case <-d.done:
		}
	})
	return func() { t.Stop() }
}

// Run processes payloads, feedback and timer expiries until ctx is done, then
// disarms timers and waits for in-flight deliveries.
func (d *Detector) Run(ctx context.Context) error {
	deliverCtx := context.WithoutCancel(ctx)
	defer d.shutdown()

	d.logger.Info("detector started",
		slog.Duration("slack", d.cfg.Slack),
		slog.Duration("notify_delay", d.cfg.NotifyDelay),
		slog.Float64("threshold", d.cfg.ConfidenceThreshold),
		slog.Int("links", d.links.Len()))

	for {
		select {
		case <-ctx.Done():
			return nil
		case alerts := <-d.payloads:
			d.Ingest(ctx, alerts)
		case fb := <-d.feedback:
			d.HandleFeedback(fb)
		case ev := <-d.timers:
			d.expire(deliverCtx, ev)
		}
	}
}

func (d *Detector) shutdown() {
	d.stopOnce.Do(func() {
		close(d.done)
		for _, b := range d.batches {
			b.Stop()
		}
		d.deliveries.Wait()
		d.logger.Info("detector stopped")
	})
}

// Ingest processes one payload in ascending start time. It must only be
// called from the loop goroutine.
func (d *Detector) Ingest(ctx context.Context, alerts []*models.Alert) {
	ordered := slices.Clone(alerts)
	slices.SortStableFunc(ordered, func(a, b *models.Alert) int {
		return a.StartsAt.Compare(b.StartsAt)
	})
	for _, a := range ordered {
		start := time.Now()
		outcome := d.handle(ctx, a)
		metrics.ObserveAlert(time.Since(start), outcome)
	}
	metrics.SetOpenBatches(len(d.batches))
}

func (d *Detector) handle(ctx context.Context, a *models.Alert) string {
	if _, ok := d.severities[strings.ToLower(a.Severity)]; !ok {
		return metrics.OutcomeSkipped
	}
	// Not stored, so a re-send is processed once the service shows up.
	if a.Firing() && !d.topo.HasNode(a.Service) {
		d.logger.Warn("alert not processed",
			slog.String("alert", a.ID), slog.String("service", a.Service), slog.Any("error", graph.ErrNotFound))
		return metrics.OutcomeError
	}

	prev, _, err := d.store.Get(ctx, a.ID)
	if err != nil {
		d.logger.Error("alert store read failed", slog.String("alert", a.ID), slog.Any("error", err))
		return metrics.OutcomeError
	}
	active := prev != nil && prev.Firing()

	if err := d.store.Put(ctx, a); err != nil {
		d.logger.Error("alert store write failed", slog.String("alert", a.ID), slog.Any("error", err))
		return metrics.OutcomeError
	}

	switch {
	case a.Firing() && active:
		return metrics.OutcomeDuplicate
	case !a.Firing():
		if b := d.batchOf[a.ID]; active && b != nil {
			b.Resolve(a.ID, a.EndsAt)
			d.logger.Debug("alert resolved", slog.String("alert", a.ID), slog.String("batch", b.ID()))
		}
		return metrics.OutcomeResolved
	}

	outcome, err := d.ProcessAlert(a)
	if err != nil {
		d.logger.Warn("alert not processed", slog.String("alert", a.ID), slog.Any("error", err))
		return metrics.OutcomeError
	}
	return outcome
}

// ProcessAlert places a firing alert into the first accepting batch, or into
// a new batch as its own root.
func (d *Detector) ProcessAlert(a *models.Alert) (string, error) {
	if b := d.batchOf[a.ID]; b != nil && b.Reactivate(a.ID) {
		d.logger.Debug("alert fired again in open batch", slog.String("alert", a.ID), slog.String("batch", b.ID()))
		return metrics.OutcomeGrouped, nil
	}
	if !d.topo.HasNode(a.Service) {
		return metrics.OutcomeError, fmt.Errorf("alert %s service %s: %w", a.ID, a.Service, graph.ErrNotFound)
	}

	for _, b := range d.batches {
		ok, err := b.CheckAndAdd(a)
		if err != nil {
			return metrics.OutcomeError, err
		}
		if ok {
			d.batchOf[a.ID] = b
			d.logger.Debug("alert joined batch", slog.String("alert", a.ID), slog.String("batch", b.ID()))
			return metrics.OutcomeGrouped, nil
		}
	}

	b := NewBatch(d.topo, d.links, d, BatchOptions{
		Slack:            d.cfg.Slack,
		NotifyDelay:      d.cfg.NotifyDelay,
		MaxAncestorDepth: d.cfg.MaxAncestorDepth,
	}, d.logger)
	b.Seed(a)
	d.batches = append(d.batches, b)
	d.byID[b.ID()] = b
	d.batchOf[a.ID] = b
	d.logger.Debug("opened batch", slog.String("alert", a.ID), slog.String("batch", b.ID()))
	return metrics.OutcomeNewBatch, nil
}

// HandleFeedback applies each verdict to the shared table and returns how
// many open batches hold an updated pair.
func (d *Detector) HandleFeedback(fb models.Feedback) int {
	holders := 0
	for _, r := range fb.Relations {
		l := d.links.Feedback(r.Cause, r.Effect, r.Confirmed)
		metrics.FeedbackApplied(r.Confirmed)
		for _, b := range d.batches {
			if b.HoldsLink(r.Cause, r.Effect) {
				holders++
			}
		}
		d.logger.Debug("link updated from feedback",
			slog.String("cause", r.Cause), slog.String("effect", r.Effect),
			slog.Float64("alpha", l.Alpha), slog.Float64("beta", l.Beta))
	}
	d.logger.Info("causal link counts updated from feedback", slog.Int("relations", len(fb.Relations)), slog.Int("open_batches", holders))
	return holders
}

func (d *Detector) expire(ctx context.Context, ev timerEvent) {
	b, ok := d.byID[ev.batchID]
	if !ok {
		return
	}
	view, ok := b.Fire(ev.alertID, ev.token)
	if !ok {
		d.logger.Debug("stale notification ignored", slog.String("alert", ev.alertID))
		return
	}
	d.logger.Info("notifying group", slog.String("root", ev.alertID), slog.String("group", view.GroupID), slog.Int("alerts", len(view.Alerts)))
	d.deliver(ctx, view)

	if b.Disposable() {
		d.dispose(b)
	}
}

func (d *Detector) deliver(ctx context.Context, view models.GroupView) {
	d.deliveries.Add(1)
	go func() {
		defer d.deliveries.Done()
		err := d.notifier.Notify(ctx, view)
		metrics.GroupDelivered(err)
		if err != nil {
			d.logger.Error("group notification failed", slog.String("group", view.GroupID), slog.Any("error", err))
		}
	}()
}

func (d *Detector) dispose(b *Batch) {
	for _, id := range b.AlertIDs() {
		if d.batchOf[id] == b {
			delete(d.batchOf, id)
		}
	}
	delete(d.byID, b.ID())
	d.batches = slices.DeleteFunc(d.batches, func(x *Batch) bool { return x == b })
	metrics.SetOpenBatches(len(d.batches))
	d.logger.Debug("batch disposed", slog.String("batch", b.ID()))
}

// Batches returns the open batches in creation order. Loop goroutine only.
func (d *Detector) Batches() []*Batch { return slices.Clone(d.batches) }
