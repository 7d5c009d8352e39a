package engine

import (
	"hash/fnv"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-correlator/internal/models"
)

// Group is one root alert plus the alerts it explains. The checksum is a
// wrap-around sum of per-member hashes, so it is independent of the order in
// which members joined.
type Group struct {
	id        string
	root      *models.Alert
	others    map[string]*models.Alert
	order     []string
	checksum  uint64
	delivered bool
}

// NewGroup starts a group rooted at root.
func NewGroup(root *models.Alert) *Group {
	g := &Group{id: uuid.NewString(), others: make(map[string]*models.Alert)}
	g.setRoot(root)
	return g
}

func memberHash(id string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64()
}

func (g *Group) setRoot(a *models.Alert) {
	g.root = a
	g.checksum += memberHash(a.ID)
	a.IsRoot = true
	a.ParentID = ""
	a.GroupID = g.id
}

// ID is the opaque transport id.
func (g *Group) ID() string { return g.id }

// Root returns the current root alert.
func (g *Group) Root() *models.Alert { return g.root }

// Checksum returns the membership checksum.
func (g *Group) Checksum() uint64 { return g.checksum }

// Delivered reports whether the group has been handed to the notifier since
// it last changed root registration.
func (g *Group) Delivered() bool { return g.delivered }

// AddRoot makes a the root. The previous root stays in the group as an
// ordinary member. a is taken out of the ordinary members if present.
func (g *Group) AddRoot(a *models.Alert) *models.Alert {
	prev := g.root
	if prev != nil && prev.ID == a.ID {
		return prev
	}
	g.RemoveOther(a.ID)
	if prev != nil {
		g.checksum -= memberHash(prev.ID)
	}
	g.setRoot(a)
	if prev != nil {
		g.AddOther(prev)
	}
	return prev
}

// AddOther adds a as an ordinary member; adding an existing member is a no-op.
func (g *Group) AddOther(a *models.Alert) {
	if g.Contains(a.ID) {
		return
	}
	g.others[a.ID] = a
	g.order = append(g.order, a.ID)
	g.checksum += memberHash(a.ID)
	a.IsRoot = false
	a.GroupID = g.id
}

// RemoveOther drops an ordinary member. The root cannot be removed.
func (g *Group) RemoveOther(id string) bool {
	if _, ok := g.others[id]; !ok {
		return false
	}
	delete(g.others, id)
	for i, o := range g.order {
		if o == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	g.checksum -= memberHash(id)
	return true
}

// Contains reports whether id is the root or an ordinary member.
func (g *Group) Contains(id string) bool {
	if g.root != nil && g.root.ID == id {
		return true
	}
	_, ok := g.others[id]
	return ok
}

// Len counts the root and ordinary members.
func (g *Group) Len() int { return 1 + len(g.others) }

// Members returns the root first, then ordinary members in join order.
func (g *Group) Members() []*models.Alert {
	out := make([]*models.Alert, 0, g.Len())
	out = append(out, g.root)
	for _, id := range g.order {
		out = append(out, g.others[id])
	}
	return out
}

// View renders the transport form.
func (g *Group) View() models.GroupView {
	members := g.Members()
	view := models.GroupView{GroupID: g.id, Alerts: make([]models.GroupMember, 0, len(members))}
	for _, m := range members {
		view.Alerts = append(view.Alerts, m.Member())
	}
	return view
}
