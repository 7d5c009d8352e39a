package training

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/miradorstack/mirador-correlator/internal/models"
)

// LoadHistory reads every .json file under dir; each holds an array of
// Alertmanager alerts (a webhook envelope is accepted too). Alerts that fail
// validation are skipped and counted.
func LoadHistory(dir string, logger *slog.Logger) ([]*models.Alert, error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)

	var (
		alerts  []*models.Alert
		skipped int
	)
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read history file %s: %w", name, err)
		}
		parsed, invalid, err := models.ParsePayload(data)
		if err != nil {
			return nil, fmt.Errorf("history file %s: %w", name, err)
		}
		skipped += len(invalid)
		alerts = append(alerts, parsed...)
	}
	if len(alerts) == 0 {
		return nil, errors.New("no historical alerts found in " + dir)
	}
	logger.Info("loaded alert history", slog.Int("files", len(names)), slog.Int("alerts", len(alerts)), slog.Int("skipped", skipped))
	return alerts, nil
}
