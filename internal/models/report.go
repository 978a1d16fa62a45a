package models

import "time"

// File layout of a batch output directory.
const (
	CaseReportSuffix   = "_RPR.json"
	ColorDir           = "Color"
	CaseLogsDir        = "render_tool_logs"
	TestCasesFile      = "test_cases.json"
	AggregateReport    = "report.json"
	CombinedLogFile    = "renderTool.log"
	DateTimeLayout     = "01/02/2006 15:04:05"
	RenderColorPathKey = "render_color_path"
)

// DefaultThumbnailPrefixes are the thumbnail variants referenced from a report
// as <prefix>render_color_path.
var DefaultThumbnailPrefixes = []string{"thumb64_", "thumb256_"}

// CaseReport is the persisted outcome of one test case. It is always stored
// as a single-element JSON array under <output_dir>/<name>_RPR.json.
type CaseReport struct {
	TestStatus      string   `json:"test_status"`
	RenderDevice    string   `json:"render_device"`
	TestCase        string   `json:"test_case"`
	SceneName       string   `json:"scene_name"`
	Tool            string   `json:"tool"`
	FileName        string   `json:"file_name"`
	DateTime        string   `json:"date_time"`
	TestGroup       string   `json:"test_group"`
	RenderColorPath string   `json:"render_color_path"`
	TestcaseTimeout float64  `json:"testcase_timeout"`
	ScriptInfo      []string `json:"script_info"`

	Width               int      `json:"width"`
	Complexity          string   `json:"complexity"`
	ColorCorrectionMode string   `json:"color_correction_mode"`
	Renderer            string   `json:"renderer,omitempty"`
	Camera              string   `json:"camera,omitempty"`
	StartFrame          *float64 `json:"start_frame,omitempty"`
	EndFrame            *float64 `json:"end_frame,omitempty"`
	Step                *float64 `json:"step,omitempty"`

	Message                 []string `json:"message"`
	RenderTime              float64  `json:"render_time"`
	RenderLog               string   `json:"render_log"`
	GroupTimeoutExceeded    bool     `json:"group_timeout_exceeded"`
	TestcaseTimeoutExceeded bool     `json:"testcase_timeout_exceeded"`
	TestingStart            string   `json:"testing_start"`
	Attempts                int      `json:"attempts"`
	BatchID                 string   `json:"batch_id,omitempty"`
}

// AddMessage appends a diagnostic line unless it is already the last one.
func (r *CaseReport) AddMessage(msg string) {
	if msg == "" {
		return
	}
	if n := len(r.Message); n > 0 && r.Message[n-1] == msg {
		return
	}
	r.Message = append(r.Message, msg)
}

// FormatDateTime renders t in the report date layout.
func FormatDateTime(t time.Time) string {
	return t.Format(DateTimeLayout)
}
