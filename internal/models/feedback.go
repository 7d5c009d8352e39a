package models

import (
	"encoding/json"
	"fmt"
)

// Relation is one operator verdict on a causal edge.
type Relation struct {
	Cause     string
	Effect    string
	Confirmed bool
}

// UnmarshalJSON accepts the [cause, effect, confirmed] triple form.
func (r *Relation) UnmarshalJSON(data []byte) error {
	var triple []json.RawMessage
	if err := json.Unmarshal(data, &triple); err != nil {
		return fmt.Errorf("feedback relation must be an array: %w", err)
	}
	if len(triple) != 3 {
		return fmt.Errorf("feedback relation needs 3 elements, got %d", len(triple))
	}
	if err := json.Unmarshal(triple[0], &r.Cause); err != nil {
		return fmt.Errorf("feedback cause: %w", err)
	}
	if err := json.Unmarshal(triple[1], &r.Effect); err != nil {
		return fmt.Errorf("feedback effect: %w", err)
	}
	if err := json.Unmarshal(triple[2], &r.Confirmed); err != nil {
		return fmt.Errorf("feedback confirmed flag: %w", err)
	}
	if r.Cause == "" || r.Effect == "" {
		return fmt.Errorf("feedback relation has empty alert id")
	}
	return nil
}

// MarshalJSON emits the triple form.
func (r Relation) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.Cause, r.Effect, r.Confirmed})
}

// Feedback is an ordered batch of relations submitted together.
type Feedback struct {
	Relations []Relation
}

// ParseFeedback decodes a JSON array of relation triples.
func ParseFeedback(data []byte) (Feedback, error) {
	var relations []Relation
	if err := json.Unmarshal(data, &relations); err != nil {
		return Feedback{}, err
	}
	if len(relations) == 0 {
		return Feedback{}, fmt.Errorf("feedback contains no relations")
	}
	return Feedback{Relations: relations}, nil
}
