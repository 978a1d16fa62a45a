// Package report persists per-case results and builds the batch-level
// documents from them.
//
// Every document is replaced wholesale through a temp file and a rename, so a
// reader never sees a half-written report even if the harness is killed.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/harrison/rendertest/internal/filelock"
	"github.com/harrison/rendertest/internal/models"
)

// CasePath returns the report location for caseName inside dir.
func CasePath(dir, caseName string) string {
	return filepath.Join(dir, caseName+models.CaseReportSuffix)
}

// WriteCaseReport overwrites the case's report as a single-element array.
// Writing the same report twice leaves identical bytes on disk.
func WriteCaseReport(dir string, r *models.CaseReport) error {
	if r.TestCase == "" {
		return fmt.Errorf("case report has no test_case")
	}
	if err := filelock.WriteJSON(CasePath(dir, r.TestCase), []*models.CaseReport{r}); err != nil {
		return fmt.Errorf("failed to write report for %s: %w", r.TestCase, err)
	}
	return nil
}

// ReadCaseReport loads the first element of a case report document.
func ReadCaseReport(path string) (*models.CaseReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var reports []models.CaseReport
	if err := json.Unmarshal(data, &reports); err != nil {
		return nil, fmt.Errorf("malformed report %s: %w", filepath.Base(path), err)
	}
	if len(reports) == 0 {
		return nil, fmt.Errorf("malformed report %s: empty array", filepath.Base(path))
	}
	return &reports[0], nil
}
