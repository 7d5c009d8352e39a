package engine

import (
	"cmp"
	"slices"

	"github.com/miradorstack/mirador-correlator/internal/models"
)

// LinkKey identifies a directed cause -> effect pair of alert ids.
type LinkKey struct {
	Cause  string
	Effect string
}

// Link is the Beta(Alpha, Beta) belief that Cause produced Effect.
type Link struct {
	Cause  string
	Effect string
	Alpha  float64
	Beta   float64
}

// Strength is the point estimate alpha/(alpha+beta).
func (l *Link) Strength() float64 {
	total := l.Alpha + l.Beta
	if total <= 0 {
		return 0
	}
	return l.Alpha / total
}

// LinkParams sets the prior and the decision threshold. DenialWeight is
// added to beta for every denied relation; a confirmation adds one to alpha.
type LinkParams struct {
	InitialAlpha float64
	InitialBeta  float64
	Threshold    float64
	DenialWeight float64
}

// DefaultLinkParams is a uniform Beta(1,1) prior with threshold 0.25. Three
// denials keep a pair below 0.2 even after it co-occurred once.
func DefaultLinkParams() LinkParams {
	return LinkParams{InitialAlpha: 1, InitialBeta: 1, Threshold: 0.25, DenialWeight: 3}
}

// LinkTable is the process-wide causal link store shared by every batch.
// Counters only grow and entries are never removed. It is owned by the
// detector loop and is not safe for concurrent use.
type LinkTable struct {
	params  LinkParams
	links   map[LinkKey]*Link
	causes  map[string][]*Link
	effects map[string][]*Link
}

// NewLinkTable returns an empty table.
func NewLinkTable(params LinkParams) *LinkTable {
	if params.InitialAlpha <= 0 {
		params.InitialAlpha = 1
	}
	if params.InitialBeta <= 0 {
		params.InitialBeta = 1
	}
	if params.DenialWeight <= 0 {
		params.DenialWeight = DefaultLinkParams().DenialWeight
	}
	return &LinkTable{
		params:  params,
		links:   make(map[LinkKey]*Link),
		causes:  make(map[string][]*Link),
		effects: make(map[string][]*Link),
	}
}

// Ensure returns the link for the pair, creating it at the prior.
func (t *LinkTable) Ensure(cause, effect string) *Link {
	key := LinkKey{Cause: cause, Effect: effect}
	if l, ok := t.links[key]; ok {
		return l
	}
	l := &Link{Cause: cause, Effect: effect, Alpha: t.params.InitialAlpha, Beta: t.params.InitialBeta}
	t.links[key] = l
	t.causes[effect] = append(t.causes[effect], l)
	t.effects[cause] = append(t.effects[cause], l)
	return l
}

// Get looks a pair up without creating it.
func (t *LinkTable) Get(cause, effect string) (*Link, bool) {
	l, ok := t.links[LinkKey{Cause: cause, Effect: effect}]
	return l, ok
}

// Observe records a temporally compatible co-occurrence.
func (t *LinkTable) Observe(cause, effect string) *Link {
	l := t.Ensure(cause, effect)
	l.Alpha++
	return l
}

// Feedback applies one operator verdict.
func (t *LinkTable) Feedback(cause, effect string, confirmed bool) *Link {
	l := t.Ensure(cause, effect)
	if confirmed {
		l.Alpha++
	} else {
		l.Beta += t.params.DenialWeight
	}
	return l
}

// Seed adds prior deltas on top of the uniform prior. Negative deltas are
// ignored so counters never decrease.
func (t *LinkTable) Seed(priors []models.LinkPrior) int {
	seeded := 0
	for _, p := range priors {
		if p.Cause == "" || p.Effect == "" || p.Cause == p.Effect {
			continue
		}
		l := t.Ensure(p.Cause, p.Effect)
		if p.Alpha > 0 {
			l.Alpha += p.Alpha
		}
		if p.Beta > 0 {
			l.Beta += p.Beta
		}
		seeded++
	}
	return seeded
}

// Strength returns the pair's strength, or the prior's when unseen.
func (t *LinkTable) Strength(cause, effect string) float64 {
	if l, ok := t.Get(cause, effect); ok {
		return l.Strength()
	}
	return t.params.InitialAlpha / (t.params.InitialAlpha + t.params.InitialBeta)
}

// Decided reports whether the link clears the confidence threshold.
func (t *LinkTable) Decided(l *Link) bool {
	return l.Strength() >= t.params.Threshold
}

// Causes lists links whose effect is id, in creation order.
func (t *LinkTable) Causes(id string) []*Link { return t.causes[id] }

// Effects lists links whose cause is id, in creation order.
func (t *LinkTable) Effects(id string) []*Link { return t.effects[id] }

// Len returns the number of links.
func (t *LinkTable) Len() int { return len(t.links) }

// Snapshot exports every link as a delta over the prior, sorted by pair.
func (t *LinkTable) Snapshot() []models.LinkPrior {
	out := make([]models.LinkPrior, 0, len(t.links))
	for _, ls := range t.effects {
		for _, l := range ls {
			out = append(out, models.LinkPrior{
				Cause:  l.Cause,
				Effect: l.Effect,
				Alpha:  l.Alpha - t.params.InitialAlpha,
				Beta:   l.Beta - t.params.InitialBeta,
			})
		}
	}
	slices.SortFunc(out, func(a, b models.LinkPrior) int {
		if c := cmp.Compare(a.Cause, b.Cause); c != 0 {
			return c
		}
		return cmp.Compare(a.Effect, b.Effect)
	})
	return out
}
