package training

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-correlator/internal/models"
)

// PriorStore persists trained priors.
type PriorStore interface {
	StorePriors(ctx context.Context, priors []models.LinkPrior) error
}

// StoreFunc adapts a function to the PriorStore interface.
type StoreFunc func(ctx context.Context, priors []models.LinkPrior) error

// StorePriors implements PriorStore.
func (f StoreFunc) StorePriors(ctx context.Context, priors []models.LinkPrior) error {
	return f(ctx, priors)
}

// PriorsFile is the on-disk priors document.
type PriorsFile struct {
	Links []models.LinkPrior `yaml:"links"`
}

// FileStore writes priors as YAML, replacing the file atomically.
type FileStore struct {
	Path string
}

// StorePriors implements PriorStore.
func (s FileStore) StorePriors(_ context.Context, priors []models.LinkPrior) error {
	data, err := yaml.Marshal(PriorsFile{Links: priors})
	if err != nil {
		return fmt.Errorf("encode priors: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.Path), ".priors-*")
	if err != nil {
		return fmt.Errorf("write priors: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write priors: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write priors: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("write priors: %w", err)
	}
	return nil
}

// LoadPriors reads a priors file written by FileStore.
func LoadPriors(path string) ([]models.LinkPrior, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read priors: %w", err)
	}
	var f PriorsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse priors %s: %w", path, err)
	}
	return f.Links, nil
}
