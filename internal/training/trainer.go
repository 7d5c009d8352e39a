// Package training estimates causal link priors from historical alerts.
package training

import (
	"cmp"
	"context"
	"hash/fnv"
	"iter"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/miradorstack/mirador-correlator/internal/graph"
	"github.com/miradorstack/mirador-correlator/internal/models"
)

// Topology is the graph view the trainer needs.
type Topology interface {
	Ancestors(id string, maxDepth int) iter.Seq[graph.Node]
}

// Options tunes segmentation and counting.
type Options struct {
	BatchGap         time.Duration
	TemporalDelta    time.Duration
	Normalize        bool
	MaxAncestorDepth int
}

// DefaultOptions matches the service defaults.
func DefaultOptions() Options {
	return Options{BatchGap: 15 * time.Minute, TemporalDelta: 3 * time.Minute, Normalize: true}
}

// Trainer turns alert history into prior deltas for the link table.
type Trainer struct {
	topo   Topology
	opts   Options
	store  PriorStore
	logger *slog.Logger
}

// NewTrainer constructs a Trainer; store may be nil for dry runs.
func NewTrainer(logger *slog.Logger, topo Topology, opts Options, store PriorStore) *Trainer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BatchGap <= 0 {
		opts.BatchGap = DefaultOptions().BatchGap
	}
	return &Trainer{topo: topo, opts: opts, store: store, logger: logger}
}

// Train segments history, optionally evens out recurring batch shapes, and
// counts one alpha or beta per alert against its most recent eligible
// predecessor. The result is sorted by pair and holds deltas over the prior.
func (t *Trainer) Train(ctx context.Context, alerts []*models.Alert) ([]models.LinkPrior, error) {
	if len(alerts) == 0 {
		return nil, nil
	}

	batches := Segment(alerts, t.opts.BatchGap)
	segmented := len(batches)
	if t.opts.Normalize {
		batches = Normalize(batches)
	}

	counts := make(map[[2]string]*models.LinkPrior)
	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t.countBatch(batch, counts)
	}

	priors := make([]models.LinkPrior, 0, len(counts))
	for _, p := range counts {
		priors = append(priors, *p)
	}
	slices.SortFunc(priors, func(a, b models.LinkPrior) int {
		if c := cmp.Compare(a.Cause, b.Cause); c != 0 {
			return c
		}
		return cmp.Compare(a.Effect, b.Effect)
	})

	t.logger.Info("training complete",
		slog.Int("alerts", len(alerts)),
		slog.Int("batches", segmented),
		slog.Int("batches_used", len(batches)),
		slog.Int("links", len(priors)))

	if t.store != nil && len(priors) > 0 {
		if err := t.store.StorePriors(ctx, priors); err != nil {
			t.logger.Warn("prior store failed", slog.Any("error", err))
			return priors, err
		}
	}
	return priors, nil
}

func (t *Trainer) countBatch(batch []*models.Alert, counts map[[2]string]*models.LinkPrior) {
	ancestors := make(map[string]map[string]struct{})
	eligible := func(service, candidate string) bool {
		if service == candidate {
			return true
		}
		set, ok := ancestors[service]
		if !ok {
			set = make(map[string]struct{})
			for n := range t.topo.Ancestors(service, t.opts.MaxAncestorDepth) {
				set[n.ID] = struct{}{}
			}
			ancestors[service] = set
		}
		_, ok = set[candidate]
		return ok
	}

	for i, a := range batch {
		var pred *models.Alert
		for j := i - 1; j >= 0; j-- {
			p := batch[j]
			if p.ID == a.ID || p.StartsAt.After(a.StartsAt) {
				continue
			}
			if eligible(a.Service, p.Service) {
				pred = p
				break
			}
		}
		if pred == nil {
			continue
		}
		key := [2]string{pred.ID, a.ID}
		c, ok := counts[key]
		if !ok {
			c = &models.LinkPrior{Cause: pred.ID, Effect: a.ID}
			counts[key] = c
		}
		if a.StartsAt.Sub(pred.StartsAt) <= t.opts.TemporalDelta {
			c.Alpha++
		} else {
			c.Beta++
		}
	}
}

// Segment sorts alerts by start time and splits wherever consecutive starts
// are more than gap apart.
func Segment(alerts []*models.Alert, gap time.Duration) [][]*models.Alert {
	sorted := slices.Clone(alerts)
	slices.SortStableFunc(sorted, func(a, b *models.Alert) int {
		return a.StartsAt.Compare(b.StartsAt)
	})

	var batches [][]*models.Alert
	var current []*models.Alert
	for _, a := range sorted {
		if len(current) > 0 && a.StartsAt.Sub(current[len(current)-1].StartsAt) > gap {
			batches = append(batches, current)
			current = nil
		}
		current = append(current, a)
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// Shape identifies a batch by the set of alert ids it contains.
func Shape(batch []*models.Alert) uint64 {
	ids := make([]string, 0, len(batch))
	for _, a := range batch {
		ids = append(ids, a.ID)
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)
	h := fnv.New64a()
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// Normalize caps every shape that recurs more often than the mean shape
// frequency at ceil(mean) occurrences, keeping the earliest ones.
func Normalize(batches [][]*models.Alert) [][]*models.Alert {
	if len(batches) == 0 {
		return batches
	}
	shapes := make([]uint64, len(batches))
	freq := make(map[uint64]int)
	for i, b := range batches {
		shapes[i] = Shape(b)
		freq[shapes[i]]++
	}
	mean := float64(len(batches)) / float64(len(freq))
	limit := int(math.Ceil(mean))

	kept := make(map[uint64]int)
	out := make([][]*models.Alert, 0, len(batches))
	for i, b := range batches {
		s := shapes[i]
		if float64(freq[s]) > mean && kept[s] >= limit {
			continue
		}
		kept[s]++
		out = append(out, b)
	}
	return out
}
