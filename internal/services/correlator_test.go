package services

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-correlator/internal/api"
	"github.com/miradorstack/mirador-correlator/internal/engine"
	"github.com/miradorstack/mirador-correlator/internal/models"
)

type detectorStub struct {
	alerts   []*models.Alert
	feedback []models.Feedback
	err      error
}

func (d *detectorStub) Enqueue(_ context.Context, alerts []*models.Alert) error {
	if d.err != nil {
		return d.err
	}
	d.alerts = append(d.alerts, alerts...)
	return nil
}

func (d *detectorStub) SubmitFeedback(_ context.Context, fb models.Feedback) error {
	if d.err != nil {
		return d.err
	}
	d.feedback = append(d.feedback, fb)
	return nil
}

const payload = `{"alerts":[
  {"status":"firing","labels":{"job":"db","instance":"db-0","severity":"critical"},"startsAt":"2025-03-01T12:00:00Z"},
  {"status":"firing","labels":{"severity":"critical"},"startsAt":"2025-03-01T12:00:00Z"}
]}`

func TestIngestQueuesValidAlerts(t *testing.T) {
	det := &detectorStub{}
	svc := NewCorrelatorService(nil, det)

	ack, err := svc.Ingest(context.Background(), []byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack.Accepted != 1 || ack.Rejected != 1 || len(ack.Errors) != 1 {
		t.Fatalf("unexpected ack %+v", ack)
	}
	if len(det.alerts) != 1 || det.alerts[0].ID != "db.db-0" {
		t.Fatalf("expected db.db-0 queued, got %+v", det.alerts)
	}
}

func TestIngestRejectsMalformed(t *testing.T) {
	svc := NewCorrelatorService(nil, &detectorStub{})
	if _, err := svc.Ingest(context.Background(), []byte(`{"alerts":`)); !errors.Is(err, api.ErrInvalidPayload) {
		t.Fatalf("expected invalid payload, got %v", err)
	}
	onlyBad := `[{"status":"firing","labels":{},"startsAt":"2025-03-01T12:00:00Z"}]`
	if _, err := svc.Ingest(context.Background(), []byte(onlyBad)); !errors.Is(err, api.ErrInvalidPayload) {
		t.Fatalf("expected invalid payload, got %v", err)
	}
}

func TestIngestWhenStopped(t *testing.T) {
	svc := NewCorrelatorService(nil, &detectorStub{err: engine.ErrStopped})
	if _, err := svc.Ingest(context.Background(), []byte(payload)); !errors.Is(err, api.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestFeedback(t *testing.T) {
	det := &detectorStub{}
	svc := NewCorrelatorService(nil, det)

	if err := svc.Feedback(context.Background(), []byte(`[["db.db-0","api.api-0",false]]`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(det.feedback) != 1 || det.feedback[0].Relations[0].Confirmed {
		t.Fatalf("unexpected feedback %+v", det.feedback)
	}
	if err := svc.Feedback(context.Background(), []byte(`[]`)); !errors.Is(err, api.ErrInvalidPayload) {
		t.Fatalf("expected invalid payload, got %v", err)
	}
}

func TestGRPCStatusCodes(t *testing.T) {
	det := &detectorStub{}
	svc := NewCorrelatorService(nil, det)

	req, err := api.WebhookStruct([]byte(payload))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if _, err := svc.IngestAlerts(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(det.alerts) != 1 {
		t.Fatalf("expected alert queued")
	}

	if _, err := svc.IngestAlerts(context.Background(), nil); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}

	bad, _ := structpb.NewList([]any{[]any{"a", "b"}})
	if _, err := svc.SubmitFeedback(context.Background(), bad); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}

	stopped := NewCorrelatorService(nil, &detectorStub{err: engine.ErrStopped})
	if _, err := stopped.IngestAlerts(context.Background(), req); status.Code(err) != codes.Unavailable {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
