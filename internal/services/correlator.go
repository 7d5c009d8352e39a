package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-correlator/internal/api"
	"github.com/miradorstack/mirador-correlator/internal/engine"
	"github.com/miradorstack/mirador-correlator/internal/models"
)

// Detector is the part of the engine the service hands work to.
type Detector interface {
	Enqueue(ctx context.Context, alerts []*models.Alert) error
	SubmitFeedback(ctx context.Context, fb models.Feedback) error
}

// CorrelatorService validates inbound payloads and queues them on the
// detector. It backs both the REST and gRPC surfaces.
type CorrelatorService struct {
	logger   *slog.Logger
	detector Detector
}

var (
	_ api.Ingestor         = (*CorrelatorService)(nil)
	_ api.CorrelatorServer = (*CorrelatorService)(nil)
)

// NewCorrelatorService constructs the service facade.
func NewCorrelatorService(logger *slog.Logger, detector Detector) *CorrelatorService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CorrelatorService{logger: logger, detector: detector}
}

// Ingest parses a webhook or bare alert array and queues the valid alerts.
// Invalid alerts are reported back; a payload with none valid is rejected.
func (s *CorrelatorService) Ingest(ctx context.Context, data []byte) (api.IngestAck, error) {
	alerts, invalid, err := models.ParsePayload(data)
	if err != nil {
		return api.IngestAck{}, fmt.Errorf("%w: %v", api.ErrInvalidPayload, err)
	}
	ack := api.IngestAck{Accepted: len(alerts), Rejected: len(invalid)}
	for _, e := range invalid {
		ack.Errors = append(ack.Errors, e.Error())
		s.logger.Warn("rejected alert", slog.Any("error", e))
	}
	if len(alerts) == 0 {
		if len(invalid) > 0 {
			return ack, fmt.Errorf("%w: no valid alerts", api.ErrInvalidPayload)
		}
		return ack, nil
	}
	if err := s.detector.Enqueue(ctx, alerts); err != nil {
		return api.IngestAck{}, s.queueError(err)
	}
	s.logger.Debug("payload queued", slog.Int("alerts", len(alerts)), slog.Int("rejected", len(invalid)))
	return ack, nil
}

// Feedback parses relation triples and queues them.
func (s *CorrelatorService) Feedback(ctx context.Context, data []byte) error {
	fb, err := models.ParseFeedback(data)
	if err != nil {
		return fmt.Errorf("%w: %v", api.ErrInvalidPayload, err)
	}
	if err := s.detector.SubmitFeedback(ctx, fb); err != nil {
		return s.queueError(err)
	}
	s.logger.Debug("feedback queued", slog.Int("relations", len(fb.Relations)))
	return nil
}

func (s *CorrelatorService) queueError(err error) error {
	if errors.Is(err, engine.ErrStopped) {
		return fmt.Errorf("%w: %v", api.ErrUnavailable, err)
	}
	return err
}

// IngestAlerts implements the gRPC surface.
func (s *CorrelatorService) IngestAlerts(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	data, err := api.MessageJSON(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if _, err := s.Ingest(ctx, data); err != nil {
		return nil, grpcError(err)
	}
	return &emptypb.Empty{}, nil
}

// SubmitFeedback implements the gRPC surface.
func (s *CorrelatorService) SubmitFeedback(ctx context.Context, req *structpb.ListValue) (*emptypb.Empty, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	data, err := api.MessageJSON(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.Feedback(ctx, data); err != nil {
		return nil, grpcError(err)
	}
	return &emptypb.Empty{}, nil
}

func grpcError(err error) error {
	switch {
	case errors.Is(err, api.ErrInvalidPayload):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, api.ErrUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	}
	return status.Error(codes.Internal, err.Error())
}
