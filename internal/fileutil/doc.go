// Package fileutil scans batch output directories.
//
// The harness uses it to find per-case report documents and per-case logs for
// aggregation, and to remove stale render artifacts from the shared work
// directory between attempts. CopyFile publishes artifacts and baselines. Results are sorted so aggregation output is
// deterministic, and non-fatal errors (an unreadable subdirectory) are
// collected instead of aborting the scan.
//
//	result, err := fileutil.ScanDirectory(outputDir, fileutil.ScanOptions{
//	    Pattern:    "_RPR$",
//	    Extensions: []string{".json"},
//	})
package fileutil
