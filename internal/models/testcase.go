package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Test case status values. Active and ignore are input states; success, diff,
// crash and ignore are the terminal states written back after a run.
const (
	StatusActive  = "active"
	StatusSuccess = "success"
	StatusDiff    = "diff"
	StatusCrash   = "crash"
	StatusIgnore  = "ignore"
)

// IsTerminalStatus reports whether status is a final per-case outcome.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusSuccess, StatusDiff, StatusCrash, StatusIgnore:
		return true
	default:
		return false
	}
}

// TestCase is one named render-and-validate unit from the tests list.
// Optional parameters are pointers so that an absent key can be told apart
// from a zero value when building the render command.
type TestCase struct {
	Name         string   `json:"name"`
	Status       string   `json:"status,omitempty"`
	SceneSubPath string   `json:"scene_sub_path,omitempty"`
	FileExt      string   `json:"file_ext,omitempty"`
	RenderTime   *float64 `json:"render_time,omitempty"` // per-attempt timeout in seconds

	Width               *int     `json:"width,omitempty"`
	Complexity          *string  `json:"complexity,omitempty"`
	ColorCorrectionMode *string  `json:"color_correction_mode,omitempty"`
	Renderer            *string  `json:"renderer,omitempty"`
	Camera              *string  `json:"camera,omitempty"`
	StartFrame          *float64 `json:"start_frame,omitempty"`
	EndFrame            *float64 `json:"end_frame,omitempty"`
	Step                *float64 `json:"step,omitempty"`

	ScriptInfo     []string   `json:"script_info,omitempty"`
	SkipOn         [][]string `json:"skip_on,omitempty"`
	MinToolVersion string     `json:"min_tool_version,omitempty"`
	ExtraArgs      string     `json:"extra_args,omitempty"`

	// Extra holds every key not modelled above (overlay settings included)
	// so the document round-trips without loss.
	Extra map[string]json.RawMessage `json:"-"`
}

var testCaseKeys = []string{
	"name", "status", "scene_sub_path", "file_ext", "render_time",
	"width", "complexity", "color_correction_mode", "renderer", "camera",
	"start_frame", "end_frame", "step",
	"script_info", "skip_on", "min_tool_version", "extra_args",
}

// UnmarshalJSON decodes the modelled fields and keeps the rest in Extra.
func (tc *TestCase) UnmarshalJSON(data []byte) error {
	type plain TestCase
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, key := range testCaseKeys {
		delete(raw, key)
	}
	p.Extra = nil
	if len(raw) > 0 {
		p.Extra = raw
	}

	*tc = TestCase(p)
	return nil
}

// MarshalJSON encodes the modelled fields followed by the preserved extras.
func (tc TestCase) MarshalJSON() ([]byte, error) {
	type plain TestCase
	base, err := json.Marshal(plain(tc))
	if err != nil {
		return nil, err
	}
	if len(tc.Extra) == 0 {
		return base, nil
	}

	merged := make(map[string]json.RawMessage, len(tc.Extra)+len(testCaseKeys))
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for key, value := range tc.Extra {
		if _, exists := merged[key]; !exists {
			merged[key] = value
		}
	}
	return json.Marshal(merged)
}

// MissingRequired lists the required keys that are absent from the case.
func (tc *TestCase) MissingRequired() []string {
	var missing []string
	if tc.SceneSubPath == "" {
		missing = append(missing, "scene_sub_path")
	}
	if tc.FileExt == "" {
		missing = append(missing, "file_ext")
	}
	if tc.RenderTime == nil {
		missing = append(missing, "render_time")
	}
	return missing
}

// IsActive returns true if the case should be executed. An empty status is
// treated as active so minimal tests lists work.
func (tc *TestCase) IsActive() bool {
	return tc.Status == "" || tc.Status == StatusActive
}

// Timeout returns the per-attempt wall-clock budget, or 0 if render_time is unset.
func (tc *TestCase) Timeout() time.Duration {
	if tc.RenderTime == nil {
		return 0
	}
	return time.Duration(*tc.RenderTime * float64(time.Second))
}

// ImageName is the published artifact file name: <name><file_ext>.
func (tc *TestCase) ImageName() string {
	return tc.Name + tc.FileExt
}

// ValidateBatch checks that names are unique and usable as file names across
// a tests list. Per-case field problems are not reported here; they fail only
// the affected case at run time.
func ValidateBatch(cases []TestCase) error {
	seen := make(map[string]int, len(cases))
	for i, tc := range cases {
		if tc.Name == "" {
			return fmt.Errorf("test case at index %d has no name", i)
		}
		if strings.ContainsAny(tc.Name, `/\`) || tc.Name == "." || tc.Name == ".." {
			return fmt.Errorf("test case name %q at index %d must not contain path elements", tc.Name, i)
		}
		if prev, dup := seen[tc.Name]; dup {
			return fmt.Errorf("duplicate test case name %q at index %d (first seen at %d)", tc.Name, i, prev)
		}
		seen[tc.Name] = i
	}
	return nil
}
