package commands

import (
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-correlator/internal/models"
	"github.com/miradorstack/mirador-correlator/internal/training"
)

var (
	historyPath string
	priorsPath  string
	dryRun      bool
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Estimate causal link priors from historical alerts",
	Long: `Read a directory of historical Alertmanager alert files, segment it into
incident batches and count how often each alert followed its nearest upstream
or same-service predecessor. The counts are written as a YAML priors file
that serve seeds its link table from.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		if historyPath != "" {
			cfg.Trainer.HistoryPath = historyPath
		}
		if priorsPath != "" {
			cfg.Trainer.PriorsPath = priorsPath
		}
		if cfg.Trainer.HistoryPath == "" {
			return errors.New("no history directory: set --history or trainer.historyPath")
		}
		if cfg.Trainer.PriorsPath == "" && !dryRun {
			return errors.New("no priors output: set --priors or trainer.priorsPath")
		}

		ctx := cmd.Context()
		provider, err := newCacheProvider(cfg.Cache, logger)
		if err != nil {
			return err
		}
		defer provider.Close()
		g, _, err := newGraph(ctx, cfg.Graph, provider, logger)
		if err != nil {
			return err
		}

		history, err := training.LoadHistory(cfg.Trainer.HistoryPath, logger)
		if err != nil {
			return err
		}
		history = slices.DeleteFunc(history, func(a *models.Alert) bool {
			processed := slices.ContainsFunc(cfg.Detector.Severities, func(s string) bool {
				return strings.EqualFold(s, a.Severity)
			})
			return !processed || !g.HasNode(a.Service)
		})

		var store training.PriorStore
		if !dryRun {
			store = training.FileStore{Path: cfg.Trainer.PriorsPath}
		}
		trainer := training.NewTrainer(logger, g, training.Options{
			BatchGap:         cfg.Trainer.BatchGap,
			TemporalDelta:    cfg.Trainer.TemporalDelta,
			Normalize:        cfg.Trainer.Normalize,
			MaxAncestorDepth: cfg.Detector.MaxAncestorDepth,
		}, store)
		priors, err := trainer.Train(ctx, history)
		if err != nil {
			return err
		}
		logger.Info("priors written", slog.String("path", cfg.Trainer.PriorsPath), slog.Int("links", len(priors)), slog.Bool("dry_run", dryRun))
		return nil
	},
}

func init() {
	trainCmd.Flags().StringVar(&historyPath, "history", "", "Directory of historical alert JSON files")
	trainCmd.Flags().StringVar(&priorsPath, "priors", "", "Output priors YAML file")
	trainCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Train without writing the priors file")
}
