package models

import "time"

// Status is the Alertmanager lifecycle state of an alert.
type Status string

const (
	StatusFiring   Status = "firing"
	StatusResolved Status = "resolved"
)

// ParseStatus maps the wire value onto a Status.
func ParseStatus(v string) (Status, bool) {
	switch Status(v) {
	case StatusFiring:
		return StatusFiring, true
	case StatusResolved:
		return StatusResolved, true
	}
	return "", false
}

// Alert is one firing or resolved signal for a service instance. The causal
// fields (IsRoot, ParentID, BatchID, GroupID) are owned by the batch the alert
// currently lives in and change as evidence arrives.
type Alert struct {
	ID          string            `json:"id"`
	Service     string            `json:"service"`
	Instance    string            `json:"instance,omitempty"`
	Severity    string            `json:"severity,omitempty"`
	Status      Status            `json:"status"`
	StartsAt    time.Time         `json:"starts_at"`
	EndsAt      time.Time         `json:"ends_at,omitempty"`
	Summary     string            `json:"summary,omitempty"`
	Description string            `json:"description,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`

	IsRoot      bool   `json:"is_root"`
	ParentID    string `json:"parent_id,omitempty"`
	BatchID     string `json:"batch_id,omitempty"`
	GroupID     string `json:"group_id,omitempty"`
	Occurrences int    `json:"occurrences,omitempty"`
}

// Firing reports whether the alert is still active.
func (a *Alert) Firing() bool {
	return a.Status == StatusFiring
}

// Member renders the alert in group transport form.
func (a *Alert) Member() GroupMember {
	summary := a.Summary
	if summary == "" {
		summary = a.Description
	}
	return GroupMember{
		ID:       a.ID,
		ParentID: a.ParentID,
		Service:  a.Service,
		Summary:  summary,
	}
}

// Clone returns a copy safe to hand to another goroutine.
func (a *Alert) Clone() *Alert {
	if a == nil {
		return nil
	}
	cp := *a
	if a.Labels != nil {
		cp.Labels = make(map[string]string, len(a.Labels))
		for k, v := range a.Labels {
			cp.Labels[k] = v
		}
	}
	return &cp
}
