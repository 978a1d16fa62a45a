package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// ScanOptions configures the directory scanning behavior
type ScanOptions struct {
	// Pattern is a regex pattern to match filenames (without extension)
	Pattern string
	// Extensions is a list of file extensions to include (e.g., ".json", ".log")
	Extensions []string
	// Suffix, when set, must match the end of the full filename (e.g. "_RPR.json")
	Suffix string
	// Recursive enables scanning of subdirectories (hidden ones are skipped)
	Recursive bool
}

// ScanResult contains the results of a directory scan
type ScanResult struct {
	// Files contains the absolute paths of all matched files, sorted
	Files []string
	// Errors contains non-fatal errors encountered during scanning
	Errors []error
}

// matcher is the compiled form of ScanOptions.
type matcher struct {
	pattern *regexp.Regexp
	exts    map[string]bool
	suffix  string
}

func newMatcher(opts ScanOptions) (*matcher, error) {
	m := &matcher{
		exts:   make(map[string]bool, len(opts.Extensions)),
		suffix: opts.Suffix,
	}

	if opts.Pattern != "" {
		re, err := regexp.Compile(opts.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern: %w", err)
		}
		m.pattern = re
	}

	for _, ext := range opts.Extensions {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		m.exts[strings.ToLower(ext)] = true
	}

	return m, nil
}

func (m *matcher) match(filename string) bool {
	ext := filepath.Ext(filename)
	if len(m.exts) > 0 && !m.exts[strings.ToLower(ext)] {
		return false
	}
	if m.suffix != "" && !strings.HasSuffix(filename, m.suffix) {
		return false
	}
	if m.pattern != nil && !m.pattern.MatchString(strings.TrimSuffix(filename, ext)) {
		return false
	}
	return true
}

// ScanDirectory scans a directory for files matching the provided options
func ScanDirectory(dir string, opts ScanOptions) (*ScanResult, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to access directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", dir)
	}

	m, err := newMatcher(opts)
	if err != nil {
		return nil, err
	}

	result := &ScanResult{
		Files:  make([]string, 0),
		Errors: make([]error, 0),
	}

	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("error accessing %s: %w", path, err))
			return nil
		}
		if path == dir {
			return nil
		}

		if d.IsDir() {
			if !opts.Recursive || strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		if !m.match(d.Name()) {
			return nil
		}

		absPath, err := filepath.Abs(path)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("failed to resolve path %s: %w", path, err))
			return nil
		}
		result.Files = append(result.Files, absPath)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	sort.Strings(result.Files)
	return result, nil
}

// RemoveMatching deletes every file in dir matched by opts and returns the
// removed paths. A missing dir is not an error: there is nothing to clean.
func RemoveMatching(dir string, opts ScanOptions) ([]string, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}

	result, err := ScanDirectory(dir, opts)
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, file := range result.Files {
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove %s: %w", file, err)
		}
		removed = append(removed, file)
	}
	return removed, nil
}
