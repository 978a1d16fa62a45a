// Package baseline copies reference results from the shared baseline store
// into the batch-local baseline area so later comparison steps can find them.
package baseline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/harrison/rendertest/internal/fileutil"
	"github.com/harrison/rendertest/internal/models"
)

// ErrBaselineNotFound means the store has no reference report for the case.
var ErrBaselineNotFound = errors.New("baseline not found")

// UpdateMarker in update_refs selects baseline-update mode, which skips copying.
const UpdateMarker = "Update"

const storeSubdir = "rpr_viewer_autotests_baselines"

// CopyError reports a failed copy of a baseline file.
type CopyError struct {
	CaseName string
	Path     string
	Err      error
}

func (e *CopyError) Error() string {
	return fmt.Sprintf("copy baseline for %s: %s: %v", e.CaseName, e.Path, e.Err)
}

func (e *CopyError) Unwrap() error {
	return e.Err
}

// IsUpdateMode reports whether updateRefs requests regenerating baselines.
func IsUpdateMode(updateRefs string) bool {
	return strings.Contains(updateRefs, UpdateMarker)
}

// DefaultStoreDir is the shared store location for group on the given
// platform. Outside Windows it is resolved relative to $CIS_TOOLS.
func DefaultStoreDir(goos, group string, getenv func(string) string) string {
	if goos == "windows" {
		return filepath.Join("c:/TestResources", storeSubdir, group)
	}
	root := os.Expand("$CIS_TOOLS/../TestResources", getenv)
	return filepath.Join(root, storeSubdir, group)
}

// LocalDir is the batch-local baseline area for group.
func LocalDir(outputDir, group string) string {
	return filepath.Join(outputDir, "..", "..", "..", "Baseline", group)
}

// Copier copies one case's reference report and images at a time.
type Copier struct {
	StoreDir          string
	LocalDir          string
	ThumbnailPrefixes []string
}

// Prepare creates the local baseline area and its Color directory.
func (c *Copier) Prepare() error {
	if err := os.MkdirAll(filepath.Join(c.LocalDir, models.ColorDir), 0755); err != nil {
		return fmt.Errorf("failed to create baseline dir: %w", err)
	}
	return nil
}

// Copy copies the case's reference report, then every image it references
// (the render plus its thumbnail variants) that exists in the store. It
// returns the local paths written.
func (c *Copier) Copy(caseName string) ([]string, error) {
	reportName := caseName + models.CaseReportSuffix
	src := filepath.Join(c.StoreDir, reportName)
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrBaselineNotFound, src)
		}
		return nil, &CopyError{CaseName: caseName, Path: src, Err: err}
	}

	dst := filepath.Join(c.LocalDir, reportName)
	if err := fileutil.CopyFile(src, dst); err != nil {
		return nil, &CopyError{CaseName: caseName, Path: src, Err: err}
	}
	copied := []string{dst}

	refs, err := imageRefs(dst, c.ThumbnailPrefixes)
	if err != nil {
		return copied, &CopyError{CaseName: caseName, Path: dst, Err: err}
	}

	for _, rel := range refs {
		from := filepath.Join(c.StoreDir, filepath.FromSlash(rel))
		if _, err := os.Stat(from); err != nil {
			continue
		}
		to := filepath.Join(c.LocalDir, filepath.FromSlash(rel))
		if err := fileutil.CopyFile(from, to); err != nil {
			return copied, &CopyError{CaseName: caseName, Path: from, Err: err}
		}
		copied = append(copied, to)
	}
	return copied, nil
}

// imageRefs reads the image paths a baseline report points at. Store
// reports may be a bare object or a single-element array.
func imageRefs(path string, prefixes []string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		var arr []map[string]any
		if arrErr := json.Unmarshal(data, &arr); arrErr != nil || len(arr) == 0 {
			return nil, fmt.Errorf("malformed baseline report: %w", err)
		}
		doc = arr[0]
	}

	var refs []string
	for _, prefix := range append([]string{""}, prefixes...) {
		if rel, ok := doc[prefix+models.RenderColorPathKey].(string); ok && rel != "" {
			refs = append(refs, rel)
		}
	}
	return refs, nil
}
