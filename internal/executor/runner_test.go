package executor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/rendertest/internal/models"
	"github.com/harrison/rendertest/internal/process"
	"github.com/harrison/rendertest/internal/profile"
	"github.com/harrison/rendertest/internal/report"
)

// batchEnv lays out a batch the way CI does: the output dir sits three
// levels below the directory that receives Baseline/.
type batchEnv struct {
	root      string
	outputDir string
	scenes    string
	store     string
	testsList string
}

func newBatchEnv(t *testing.T, cases string) *batchEnv {
	t.Helper()
	root := t.TempDir()
	env := &batchEnv{
		root:      root,
		outputDir: filepath.Join(root, "Work", "Results", "Smoke", "out"),
		scenes:    filepath.Join(root, "scenes"),
		store:     filepath.Join(root, "store"),
		testsList: filepath.Join(root, "test_cases.json"),
	}
	require.NoError(t, os.MkdirAll(env.store, 0755))
	require.NoError(t, os.WriteFile(env.testsList, []byte(cases), 0644))
	return env
}

func (e *batchEnv) scene(name string) string {
	return filepath.Join(e.scenes, "Smoke", name+".usda")
}

func (e *batchEnv) options() Options {
	return Options{
		ToolPath:      "rpr-viewer",
		TestsList:     e.testsList,
		OutputDir:     e.outputDir,
		ScenePath:     e.scenes,
		TestGroup:     "Smoke",
		Retries:       2,
		Engine:        "Northstar",
		RenderDevice:  "GPU0",
		BaselineStore: e.store,
		BatchID:       "batch-abc",
	}
}

func scenarioCases() string {
	platform := profile.PlatformName(runtime.GOOS)
	return `[
    {"name": "A", "status": "active", "scene_sub_path": "Smoke/A.usda", "file_ext": ".png", "render_time": 5},
    {"name": "B", "status": "active", "scene_sub_path": "Smoke/B.usda", "file_ext": ".png", "render_time": 5,
     "script_info": ["Check sphere lighting"], "reviewer": "qa"},
    {"name": "C", "status": "active", "scene_sub_path": "Smoke/C.usda", "file_ext": ".png", "render_time": 5,
     "skip_on": [["` + platform + `"]]}
]`
}

func TestRunner_Scenario(t *testing.T) {
	env := newBatchEnv(t, scenarioCases())

	// Baseline for B only.
	require.NoError(t, os.WriteFile(filepath.Join(env.store, "B_RPR.json"),
		[]byte(`[{"test_case": "B", "render_color_path": "Color/B.png"}]`), 0644))
	require.NoError(t, writePNG(filepath.Join(env.store, "Color", "B.png")))

	runner := newScriptedRunner()
	runner.script(env.scene("A"), step{timedOut: true})
	runner.script(env.scene("B"), step{writeImage: true})

	log := &recordingLogger{}
	batch, err := NewRunner(env.options(), log, runner).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, batch.Results, 3)
	got := map[string][2]interface{}{}
	for _, r := range batch.Results {
		got[r.Case.Name] = [2]interface{}{r.Status, r.Attempts}
	}
	assert.Equal(t, [2]interface{}{models.StatusCrash, 2}, got["A"])
	assert.Equal(t, [2]interface{}{models.StatusSuccess, 1}, got["B"])
	assert.Equal(t, [2]interface{}{models.StatusIgnore, 0}, got["C"])
	assert.Equal(t, 1, batch.Success)
	assert.Equal(t, 1, batch.Crash)
	assert.Equal(t, 1, batch.Ignore)
	assert.Equal(t, "batch-abc", batch.BatchID)

	assert.Equal(t, 0, runner.callsFor(env.scene("C")), "skipped case must never reach the supervisor")
	assert.Equal(t, []int{2}, log.batchStarts)
	assert.Equal(t, []string{"A", "B"}, log.caseStarts)

	// Aggregate report in input order.
	data, err := os.ReadFile(filepath.Join(env.outputDir, models.AggregateReport))
	require.NoError(t, err)
	var aggregate []models.CaseReport
	require.NoError(t, json.Unmarshal(data, &aggregate))
	require.Len(t, aggregate, 3)
	assert.Equal(t, "A", aggregate[0].TestCase)
	assert.Equal(t, "B", aggregate[1].TestCase)
	assert.Equal(t, "C", aggregate[2].TestCase)
	assert.Equal(t, models.StatusCrash, aggregate[0].TestStatus)
	assert.Equal(t, models.StatusSuccess, aggregate[1].TestStatus)
	assert.Equal(t, models.StatusIgnore, aggregate[2].TestStatus)

	b := aggregate[1]
	assert.Equal(t, "Color/B.png", b.RenderColorPath)
	assert.Equal(t, "B.png", b.FileName)
	assert.Equal(t, "Northstar", b.Tool)
	assert.Equal(t, "GPU0", b.RenderDevice)
	assert.Equal(t, "Smoke", b.TestGroup)
	assert.Equal(t, []string{"Check sphere lighting"}, b.ScriptInfo)
	assert.Equal(t, 960, b.Width)
	assert.Equal(t, "low", b.Complexity)
	assert.Equal(t, "sRGB", b.ColorCorrectionMode)
	assert.Equal(t, 5.0, b.TestcaseTimeout)
	assert.Equal(t, "render_tool_logs/B.log", b.RenderLog)
	assert.NotEmpty(t, b.TestingStart)
	_, err = time.Parse(models.DateTimeLayout, b.DateTime)
	assert.NoError(t, err)

	assert.True(t, aggregate[0].TestcaseTimeoutExceeded)
	assert.Equal(t, 0, aggregate[2].Attempts)

	// Case list carries final statuses and unknown keys.
	store := &report.CaseStore{Path: filepath.Join(env.outputDir, models.TestCasesFile)}
	cases, err := store.Load()
	require.NoError(t, err)
	require.Len(t, cases, 3)
	assert.Equal(t, models.StatusCrash, cases[0].Status)
	assert.Equal(t, models.StatusSuccess, cases[1].Status)
	assert.Equal(t, models.StatusIgnore, cases[2].Status)
	assert.Contains(t, cases[1].Extra, "reviewer")

	// Published image and combined log.
	assert.FileExists(t, filepath.Join(env.outputDir, models.ColorDir, "B.png"))
	combined, err := os.ReadFile(filepath.Join(env.outputDir, models.CombinedLogFile))
	require.NoError(t, err)
	assert.Contains(t, string(combined), report.LogHeader("A.log"))
	assert.Contains(t, string(combined), report.LogHeader("B.log"))
	assert.NotContains(t, string(combined), "C.log")
	assert.FileExists(t, filepath.Join(env.outputDir, report.SummaryMarkdown))
	assert.FileExists(t, filepath.Join(env.outputDir, report.SummaryHTML))

	// Baseline copied for B; A and C had none and only produced warnings.
	localBaseline := filepath.Join(env.root, "Work", "Baseline", "Smoke")
	assert.FileExists(t, filepath.Join(localBaseline, "B_RPR.json"))
	assert.FileExists(t, filepath.Join(localBaseline, "Color", "B.png"))
	assert.NoFileExists(t, filepath.Join(localBaseline, "A_RPR.json"))
	baselineWarnings := 0
	for _, w := range log.warnings {
		if strings.Contains(w, "baseline not found") {
			baselineWarnings++
		}
	}
	assert.Equal(t, 2, baselineWarnings)
}

func TestRunner_RecordsHistory(t *testing.T) {
	env := newBatchEnv(t, scenarioCases())
	runner := newScriptedRunner()
	runner.script(env.scene("A"), step{timedOut: true})
	runner.script(env.scene("B"), step{writeImage: true})

	rec := &memoryRecorder{}
	_, err := NewRunner(env.options(), nil, runner).WithHistory(rec).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, rec.attempts, 3)
	assert.Equal(t, "A", rec.attempts[0].CaseName)
	assert.Equal(t, "A", rec.attempts[1].CaseName)
	assert.Equal(t, "B", rec.attempts[2].CaseName)
	assert.Equal(t, models.StatusSuccess, rec.attempts[2].Status)
	for _, a := range rec.attempts {
		assert.Equal(t, "batch-abc", a.BatchID)
	}
}

func TestRunner_TestsListErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		env := newBatchEnv(t, "[]")
		opts := env.options()
		opts.TestsList = filepath.Join(env.root, "missing.json")

		_, err := NewRunner(opts, nil, newScriptedRunner()).Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read tests list")
	})

	t.Run("malformed json", func(t *testing.T) {
		env := newBatchEnv(t, "{not json")
		_, err := NewRunner(env.options(), nil, newScriptedRunner()).Run(context.Background())
		require.Error(t, err)
	})

	t.Run("duplicate names", func(t *testing.T) {
		env := newBatchEnv(t, `[{"name": "A"}, {"name": "A"}]`)
		_, err := NewRunner(env.options(), nil, newScriptedRunner()).Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate test case name")
	})
}

func TestRunner_PreparationFailureFailsOnlyThatCase(t *testing.T) {
	env := newBatchEnv(t, `[
    {"name": "broken", "status": "active", "scene_sub_path": "Smoke/broken.usda", "render_time": 5},
    {"name": "quotes", "status": "active", "scene_sub_path": "Smoke/quotes.usda", "file_ext": ".png", "render_time": 5, "extra_args": "--tag 'unterminated"},
    {"name": "B", "status": "active", "scene_sub_path": "Smoke/B.usda", "file_ext": ".png", "render_time": 5}
]`)
	runner := newScriptedRunner()
	runner.script(env.scene("B"), step{writeImage: true})

	log := &recordingLogger{}
	batch, err := NewRunner(env.options(), log, runner).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, batch.Results, 3)
	assert.Contains(t, strings.Join(log.errors, "\n"), "broken: not rendered, invalid case definition")

	for _, r := range batch.Results[:2] {
		assert.Equal(t, models.StatusCrash, r.Status, r.Case.Name)
		assert.Equal(t, 0, r.Attempts, r.Case.Name)
		require.NotEmpty(t, r.Messages, r.Case.Name)
		assert.Contains(t, r.Messages[0], "preparation failed", r.Case.Name)
	}
	assert.Equal(t, models.StatusSuccess, batch.Results[2].Status)
	assert.Len(t, runner.calls, 1)

	saved, err := report.ReadCaseReport(report.CasePath(env.outputDir, "broken"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusCrash, saved.TestStatus)
	assert.Contains(t, saved.Message[0], "file_ext")
}

func TestRunner_OnlyActiveCasesRender(t *testing.T) {
	env := newBatchEnv(t, `[
    {"name": "A", "status": "success", "scene_sub_path": "Smoke/A.usda", "file_ext": ".png", "render_time": 5},
    {"name": "B", "status": "crash", "scene_sub_path": "Smoke/B.usda", "file_ext": ".png", "render_time": 5},
    {"name": "C", "status": "diff", "scene_sub_path": "Smoke/C.usda", "file_ext": ".png", "render_time": 5},
    {"name": "D", "scene_sub_path": "Smoke/D.usda", "file_ext": ".png", "render_time": 5},
    {"name": "E", "status": "pending", "scene_sub_path": "Smoke/E.usda", "file_ext": ".png", "render_time": 5}
]`)
	runner := newScriptedRunner()
	runner.script(env.scene("D"), step{writeImage: true})

	log := &recordingLogger{}
	batch, err := NewRunner(env.options(), log, runner).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, batch.Results, 5)

	assert.Len(t, runner.calls, 1, "only the active case is rendered")
	assert.Equal(t, 1, runner.callsFor(env.scene("D")))
	assert.Equal(t, []int{1}, log.batchStarts)
	assert.Equal(t, []string{"D"}, log.caseStarts)

	for _, r := range batch.Results[:3] {
		assert.Equal(t, models.StatusCrash, r.Status, r.Case.Name)
		assert.Equal(t, 0, r.Attempts, r.Case.Name)
		require.NotEmpty(t, r.Messages, r.Case.Name)
		assert.Contains(t, r.Messages[0], "case not rendered", r.Case.Name)
		assert.Contains(t, r.Messages[0], r.Case.Status, r.Case.Name)
	}
	assert.Equal(t, models.StatusSuccess, batch.Results[3].Status)
	assert.Contains(t, batch.Results[4].Messages[0], `unknown status "pending"`)

	saved, err := report.ReadCaseReport(report.CasePath(env.outputDir, "A"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusCrash, saved.TestStatus)
	assert.Equal(t, 0, saved.Attempts)

	cases, err := (&report.CaseStore{Path: filepath.Join(env.outputDir, models.TestCasesFile)}).Load()
	require.NoError(t, err)
	statuses := make([]string, len(cases))
	for i, tc := range cases {
		statuses[i] = tc.Status
	}
	assert.Equal(t, []string{"success", "crash", "diff", "success", "pending"}, statuses)
}

func TestRunner_GroupTimeout(t *testing.T) {
	env := newBatchEnv(t, scenarioCases())
	runner := newScriptedRunner()
	runner.script(env.scene("A"), step{writeImage: true})
	runner.script(env.scene("B"), step{writeImage: true})

	opts := env.options()
	opts.GroupTimeout = time.Nanosecond

	batch, err := NewRunner(opts, nil, runner).Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, runner.calls)
	assert.Equal(t, 2, batch.Crash)
	assert.Equal(t, 1, batch.Ignore)

	saved, err := report.ReadCaseReport(report.CasePath(env.outputDir, "A"))
	require.NoError(t, err)
	assert.True(t, saved.GroupTimeoutExceeded)
	assert.Equal(t, models.StatusCrash, saved.TestStatus)
	require.NotEmpty(t, saved.Message)
	assert.Contains(t, saved.Message[len(saved.Message)-1], "group timeout")

	skipped, err := report.ReadCaseReport(report.CasePath(env.outputDir, "C"))
	require.NoError(t, err)
	assert.False(t, skipped.GroupTimeoutExceeded)
}

func TestRunner_CanceledBatchStillAggregates(t *testing.T) {
	env := newBatchEnv(t, scenarioCases())
	runner := newScriptedRunner()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch, err := NewRunner(env.options(), nil, runner).Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, runner.calls)
	assert.Equal(t, 2, batch.Crash)
	assert.FileExists(t, filepath.Join(env.outputDir, models.AggregateReport))
}

func TestRunner_UpdateModeSkipsBaseline(t *testing.T) {
	env := newBatchEnv(t, scenarioCases())
	require.NoError(t, os.WriteFile(filepath.Join(env.store, "B_RPR.json"), []byte(`[{"render_color_path": "Color/B.png"}]`), 0644))

	runner := newScriptedRunner()
	runner.script(env.scene("A"), step{writeImage: true})
	runner.script(env.scene("B"), step{writeImage: true})

	opts := env.options()
	opts.UpdateRefs = "Update"
	_, err := NewRunner(opts, nil, runner).Run(context.Background())
	require.NoError(t, err)

	assert.NoDirExists(t, filepath.Join(env.root, "Work", "Baseline"))
}

func TestRunner_StubImages(t *testing.T) {
	env := newBatchEnv(t, scenarioCases())
	stubs := filepath.Join(env.root, "stubs")
	require.NoError(t, os.MkdirAll(stubs, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(stubs, "crash.png"), []byte("crash stub"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(stubs, "ignore.png"), []byte("ignore stub"), 0644))

	runner := newScriptedRunner()
	runner.script(env.scene("A"), step{exitCode: 3})
	runner.script(env.scene("B"), step{writeImage: true})

	opts := env.options()
	opts.StubImageDir = stubs
	_, err := NewRunner(opts, nil, runner).Run(context.Background())
	require.NoError(t, err)

	color := filepath.Join(env.outputDir, models.ColorDir)
	a, err := os.ReadFile(filepath.Join(color, "A.png"))
	require.NoError(t, err)
	assert.Equal(t, "crash stub", string(a), "a crashed case keeps its stub")

	c, err := os.ReadFile(filepath.Join(color, "C.png"))
	require.NoError(t, err)
	assert.Equal(t, "ignore stub", string(c))

	b, err := os.ReadFile(filepath.Join(color, "B.png"))
	require.NoError(t, err)
	assert.NotEqual(t, "crash stub", string(b), "a rendered image replaces the stub")
}

func TestRunner_MergesOverlaySettings(t *testing.T) {
	env := newBatchEnv(t, `[
    {"name": "lit", "status": "active", "scene_sub_path": "Smoke/lit.usda", "file_ext": ".png", "render_time": 5, "exposure": 1.5, "denoise": true}
]`)

	var renderedScene string
	runner := runnerFunc(func(ctx context.Context, inv process.Invocation, timeout time.Duration) (*process.Result, error) {
		if inv.Path == "usdstitch" {
			assert.Equal(t, 120*time.Second, timeout)
			out := argValue(inv.Args, "-o")
			return &process.Result{}, os.WriteFile(out, []byte("#usda 1.0\n"), 0644)
		}
		renderedScene = argValue(inv.Args, "--scene")
		return &process.Result{}, writePNG(argValue(inv.Args, "--output"))
	})

	opts := env.options()
	opts.StitchTool = "usdstitch"
	batch, err := NewRunner(opts, nil, runner).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, batch.Results, 1)
	assert.Equal(t, models.StatusSuccess, batch.Results[0].Status)
	assert.Equal(t, filepath.Join(env.scenes, "Smoke", "merged_lit", "merged.usda"), renderedScene)
	assert.FileExists(t, filepath.Join(env.scenes, "Smoke", "merged_lit", "settings.usda"))
}

func TestRunner_MergeFailureIsPreparationFailure(t *testing.T) {
	env := newBatchEnv(t, `[
    {"name": "lit", "status": "active", "scene_sub_path": "Smoke/lit.usda", "file_ext": ".png", "render_time": 5, "exposure": 1.5}
]`)

	renders := 0
	runner := runnerFunc(func(ctx context.Context, inv process.Invocation, timeout time.Duration) (*process.Result, error) {
		if inv.Path == "usdstitch" {
			return &process.Result{TimedOut: true, ExitCode: -1}, nil
		}
		renders++
		return &process.Result{}, nil
	})

	opts := env.options()
	opts.StitchTool = "usdstitch"
	log := &recordingLogger{}
	batch, err := NewRunner(opts, log, runner).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, renders, "the unmerged scene is never rendered")
	assert.Contains(t, strings.Join(log.errors, "\n"), "lit: not rendered, scene merge failed")
	assert.Equal(t, models.StatusCrash, batch.Results[0].Status)
	require.NotEmpty(t, batch.Results[0].Messages)
	assert.Contains(t, batch.Results[0].Messages[0], "scene merge failed")
}

func TestRunner_StrictAggregationFails(t *testing.T) {
	env := newBatchEnv(t, `[{"name": "A", "status": "ignore", "scene_sub_path": "Smoke/A.usda", "file_ext": ".png", "render_time": 5}]`)
	require.NoError(t, os.MkdirAll(env.outputDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(env.outputDir, "stale"+models.CaseReportSuffix), []byte("{oops"), 0644))

	opts := env.options()
	opts.AggregateStrict = true
	batch, err := NewRunner(opts, nil, newScriptedRunner()).Run(context.Background())
	require.Error(t, err)
	require.NotNil(t, batch)
	assert.Equal(t, 1, batch.Ignore)

	opts.AggregateStrict = false
	log := &recordingLogger{}
	_, err = NewRunner(opts, log, newScriptedRunner()).Run(context.Background())
	require.NoError(t, err)
	found := false
	for _, w := range log.warnings {
		if strings.Contains(w, "Aggregation skipped") {
			found = true
		}
	}
	assert.True(t, found, "malformed report should be logged, got %v", log.warnings)
}
