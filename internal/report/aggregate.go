package report

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/harrison/rendertest/internal/filelock"
	"github.com/harrison/rendertest/internal/fileutil"
	"github.com/harrison/rendertest/internal/models"
)

// AggregateOptions controls report aggregation.
type AggregateOptions struct {
	// Order lists case names in input order. Reports for names not listed
	// follow, sorted by name.
	Order []string
	// Strict turns a malformed per-case report into a fatal error instead of
	// skipping it.
	Strict bool
}

// AggregateResult describes the written aggregate.
type AggregateResult struct {
	Path    string
	Reports []models.CaseReport
	Skipped []error // malformed files left out of the aggregate
}

// Aggregate merges every per-case report in dir into report.json.
func Aggregate(dir string, opts AggregateOptions) (*AggregateResult, error) {
	scan, err := fileutil.ScanDirectory(dir, fileutil.ScanOptions{Suffix: models.CaseReportSuffix})
	if err != nil {
		return nil, fmt.Errorf("failed to scan reports: %w", err)
	}

	result := &AggregateResult{Path: filepath.Join(dir, models.AggregateReport)}
	for _, path := range scan.Files {
		r, err := ReadCaseReport(path)
		if err != nil {
			if opts.Strict {
				return nil, err
			}
			result.Skipped = append(result.Skipped, err)
			continue
		}
		if r.TestCase == "" {
			r.TestCase = strings.TrimSuffix(filepath.Base(path), models.CaseReportSuffix)
		}
		result.Reports = append(result.Reports, *r)
	}

	sortReports(result.Reports, opts.Order)

	reports := result.Reports
	if reports == nil {
		reports = []models.CaseReport{}
	}
	if err := filelock.WriteJSON(result.Path, reports); err != nil {
		return nil, fmt.Errorf("failed to write aggregate report: %w", err)
	}
	return result, nil
}

func sortReports(reports []models.CaseReport, order []string) {
	rank := make(map[string]int, len(order))
	for i, name := range order {
		if _, dup := rank[name]; !dup {
			rank[name] = i
		}
	}

	sort.SliceStable(reports, func(i, j int) bool {
		ri, iKnown := rank[reports[i].TestCase]
		rj, jKnown := rank[reports[j].TestCase]
		switch {
		case iKnown && jKnown:
			return ri < rj
		case iKnown != jKnown:
			return iKnown
		default:
			return reports[i].TestCase < reports[j].TestCase
		}
	})
}
