package engine

import (
	"time"

	"github.com/miradorstack/mirador-correlator/internal/graph"
	"github.com/miradorstack/mirador-correlator/internal/models"
)

var t0 = time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)

func newAlert(id, service string, offset time.Duration) *models.Alert {
	return &models.Alert{
		ID:       id,
		Service:  service,
		Severity: "critical",
		Status:   models.StatusFiring,
		StartsAt: t0.Add(offset),
	}
}

// chain builds A -> B -> C plus an unrelated service Z.
func chain() *graph.ServiceGraph {
	g := graph.New()
	g.Add("A", nil, []string{"B"})
	g.Add("B", []string{"A"}, []string{"C"})
	g.Add("Z", nil, nil)
	return g
}

type fakeScheduler struct {
	armed   map[string]uint64
	stopped []string
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{armed: make(map[string]uint64)}
}

func (f *fakeScheduler) Schedule(_, alertID string, token uint64, _ time.Duration) func() {
	f.armed[alertID] = token
	return func() {
		if f.armed[alertID] == token {
			delete(f.armed, alertID)
		}
		f.stopped = append(f.stopped, alertID)
	}
}

func newTestBatch(topo Topology, links *LinkTable, sched Scheduler) *Batch {
	return NewBatch(topo, links, sched, BatchOptions{Slack: 3 * time.Minute, NotifyDelay: 5 * time.Second}, nil)
}
