// Package notify delivers finished alert groups to operators.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/miradorstack/mirador-correlator/internal/models"
)

// Notifier receives finished groups.
type Notifier interface {
	Notify(ctx context.Context, group models.GroupView) error
}

// LogNotifier writes each group as a structured log record.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(ctx context.Context, group models.GroupView) error {
	root, _ := group.Root()
	n.logger.InfoContext(ctx, "alert group",
		slog.String("group_id", group.GroupID),
		slog.String("root", root.ID),
		slog.String("service", root.Service),
		slog.String("summary", root.Summary),
		slog.Int("alerts", len(group.Alerts)),
		slog.Any("members", group.MemberIDs()))
	return nil
}

// Multi fans a group out to every notifier and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, group models.GroupView) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, group); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
