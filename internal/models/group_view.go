package models

import (
	"encoding/json"
	"fmt"
)

// GroupMember is an alert as it appears in a delivered group.
type GroupMember struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id"`
	Service  string `json:"service"`
	Summary  string `json:"summary"`
}

// GroupView is the transport form of a correlated group. The root is always
// the first entry of Alerts.
type GroupView struct {
	Alerts  []GroupMember `json:"alerts"`
	GroupID string        `json:"group_id"`
}

// Root returns the group's root alert.
func (v GroupView) Root() (GroupMember, bool) {
	if len(v.Alerts) == 0 {
		return GroupMember{}, false
	}
	return v.Alerts[0], true
}

// MemberIDs lists every alert id in the group, root included.
func (v GroupView) MemberIDs() []string {
	ids := make([]string, 0, len(v.Alerts))
	for _, m := range v.Alerts {
		ids = append(ids, m.ID)
	}
	return ids
}

// ParseGroupView decodes a transport-form group.
func ParseGroupView(data []byte) (GroupView, error) {
	var v GroupView
	if err := json.Unmarshal(data, &v); err != nil {
		return GroupView{}, fmt.Errorf("decode group: %w", err)
	}
	if v.GroupID == "" {
		return GroupView{}, fmt.Errorf("group has no group_id")
	}
	if len(v.Alerts) == 0 {
		return GroupView{}, fmt.Errorf("group %s has no alerts", v.GroupID)
	}
	return v, nil
}
