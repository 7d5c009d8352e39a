package models

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/miradorstack/mirador-correlator/internal/utils"
)

// WebhookAlert is a single alert in an Alertmanager webhook payload.
type WebhookAlert struct {
	Status       string            `json:"status"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations,omitempty"`
	StartsAt     string            `json:"startsAt"`
	EndsAt       string            `json:"endsAt,omitempty"`
	GeneratorURL string            `json:"generatorURL,omitempty"`
	Fingerprint  string            `json:"fingerprint,omitempty"`
}

// Webhook is the Alertmanager webhook envelope.
type Webhook struct {
	Version     string         `json:"version,omitempty"`
	GroupKey    string         `json:"groupKey,omitempty"`
	Status      string         `json:"status,omitempty"`
	Receiver    string         `json:"receiver,omitempty"`
	ExternalURL string         `json:"externalURL,omitempty"`
	Alerts      []WebhookAlert `json:"alerts"`
}

// ToAlert validates the wire alert and converts it. The job label names the
// service and instance disambiguates within it; without an instance the id is
// a hash of the full label set.
func (w WebhookAlert) ToAlert() (*Alert, error) {
	job := strings.TrimSpace(w.Labels["job"])
	if job == "" {
		return nil, fmt.Errorf("alert has no job label")
	}
	status, ok := ParseStatus(w.Status)
	if !ok {
		return nil, fmt.Errorf("alert %s: unknown status %q", job, w.Status)
	}
	startsAt, err := utils.ParseAlertTime(w.StartsAt)
	if err != nil {
		return nil, fmt.Errorf("alert %s: startsAt: %w", job, err)
	}

	alert := &Alert{
		Service:     job,
		Instance:    w.Labels["instance"],
		Severity:    w.Labels["severity"],
		Status:      status,
		StartsAt:    startsAt,
		Summary:     w.Annotations["summary"],
		Description: w.Annotations["description"],
		Labels:      w.Labels,
	}
	if w.EndsAt != "" {
		endsAt, err := utils.ParseAlertTime(w.EndsAt)
		if err != nil {
			return nil, fmt.Errorf("alert %s: endsAt: %w", job, err)
		}
		alert.EndsAt = endsAt
	}

	if alert.Instance != "" {
		alert.ID = job + "." + alert.Instance
	} else {
		alert.ID = job + "." + labelHash(w.Labels)
	}
	return alert, nil
}

// ParsePayload decodes either a webhook envelope or a bare array of alerts.
// Alerts that fail validation are returned as errors alongside the good ones.
func ParsePayload(data []byte) ([]*Alert, []error, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("empty payload")
	}

	var raw []WebhookAlert
	if data[0] == '[' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, nil, fmt.Errorf("decode alerts: %w", err)
		}
	} else {
		var wh Webhook
		if err := json.Unmarshal(data, &wh); err != nil {
			return nil, nil, fmt.Errorf("decode webhook: %w", err)
		}
		raw = wh.Alerts
	}

	alerts := make([]*Alert, 0, len(raw))
	var invalid []error
	for _, w := range raw {
		alert, err := w.ToAlert()
		if err != nil {
			invalid = append(invalid, err)
			continue
		}
		alerts = append(alerts, alert)
	}
	return alerts, invalid, nil
}

func labelHash(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(labels[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
