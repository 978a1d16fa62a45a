package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/harrison/rendertest/internal/filelock"
	"github.com/harrison/rendertest/internal/models"
)

// CaseStore is the batch-local copy of the tests list. It is read once and
// rewritten after every case so an interrupted batch leaves current state.
type CaseStore struct {
	Path string
}

// ImportTestsList copies src into outputDir as the batch case list and
// returns a store for the copy. Failure here is fatal for the batch.
func ImportTestsList(src, outputDir string) (*CaseStore, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read tests list: %w", err)
	}

	dst := filepath.Join(outputDir, models.TestCasesFile)
	if err := filelock.AtomicWrite(dst, data); err != nil {
		return nil, fmt.Errorf("failed to copy tests list: %w", err)
	}
	return &CaseStore{Path: dst}, nil
}

// Load decodes the case list.
func (s *CaseStore) Load() ([]models.TestCase, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read case list: %w", err)
	}

	var cases []models.TestCase
	if err := json.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("failed to parse case list %s: %w", s.Path, err)
	}
	return cases, nil
}

// Save rewrites the whole case list under an advisory lock.
func (s *CaseStore) Save(cases []models.TestCase) error {
	if err := filelock.LockAndWriteJSON(s.Path, cases); err != nil {
		return fmt.Errorf("failed to save case list: %w", err)
	}
	return nil
}
