// Package command maps a test case to the render tool's argument vector.
//
// Build is pure: the same case and options always produce the same
// invocation. Optional case parameters add their flag only when present;
// width, complexity and color correction fall back to fixed defaults.
package command

import (
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/harrison/rendertest/internal/fileutil"
	"github.com/harrison/rendertest/internal/models"
	"github.com/harrison/rendertest/internal/process"
	"github.com/kballard/go-shellquote"
)

// Defaults applied when a case does not set the parameter.
const (
	DefaultWidth               = 960
	DefaultComplexity          = "low"
	DefaultColorCorrectionMode = "sRGB"
)

// OutputBase is the file name stem the render tool writes into the work dir.
// Frame renders are written as <OutputBase>.NNNN.FFF<ext>.
const OutputBase = "render"

// Options carries the harness-wide paths the builder needs.
type Options struct {
	ToolPath   string // Render executable
	ScenesRoot string // Root that scene_sub_path is relative to
	WorkDir    string // Directory the tool renders into

	// SceneOverride replaces the raw scene path, e.g. with a merged scene.
	SceneOverride string
}

// Command is a fully prepared render invocation.
type Command struct {
	Invocation process.Invocation
	ScenePath  string
	// ExpectedOutput is the artifact whose presence decides success.
	ExpectedOutput string
	// Artifacts matches every file the tool may leave in the work dir.
	Artifacts fileutil.ScanOptions
}

// ScenePath resolves the case's scene relative to root.
func ScenePath(tc models.TestCase, root string) string {
	return filepath.Join(root, filepath.FromSlash(tc.SceneSubPath))
}

// Build prepares the render invocation for tc. It fails with a
// *CasePreparationError when required fields are missing or extra_args
// cannot be parsed.
func Build(tc models.TestCase, opts Options) (*Command, error) {
	if missing := tc.MissingRequired(); len(missing) > 0 {
		return nil, NewCasePreparationError(tc.Name, "missing required fields: "+strings.Join(missing, ", "), nil)
	}

	scene := opts.SceneOverride
	if scene == "" {
		scene = ScenePath(tc, opts.ScenesRoot)
	}

	width := DefaultWidth
	if tc.Width != nil {
		width = *tc.Width
	}
	complexity := DefaultComplexity
	if tc.Complexity != nil {
		complexity = *tc.Complexity
	}
	colorCorrection := DefaultColorCorrectionMode
	if tc.ColorCorrectionMode != nil {
		colorCorrection = *tc.ColorCorrectionMode
	}

	args := []string{
		"--scene", scene,
		"--output", filepath.Join(opts.WorkDir, OutputBase+tc.FileExt),
		"--width", strconv.Itoa(width),
		"--quality", complexity,
		"--color-correction", colorCorrection,
	}
	if tc.Renderer != nil {
		args = append(args, "--renderer", *tc.Renderer)
	}
	if tc.Camera != nil {
		args = append(args, "--camera", *tc.Camera)
	}
	if flag, value, ok := FrameArg(tc); ok {
		args = append(args, flag, value)
	}
	if tc.ExtraArgs != "" {
		extra, err := shellquote.Split(tc.ExtraArgs)
		if err != nil {
			return nil, NewCasePreparationError(tc.Name, "invalid extra_args", err)
		}
		args = append(args, extra...)
	}

	return &Command{
		Invocation: process.Invocation{
			Path: opts.ToolPath,
			Args: args,
			Dir:  opts.WorkDir,
		},
		ScenePath:      scene,
		ExpectedOutput: ExpectedOutput(tc, opts.WorkDir),
		Artifacts: fileutil.ScanOptions{
			Pattern:    "^" + OutputBase,
			Extensions: []string{tc.FileExt},
		},
	}, nil
}

// FrameArg encodes the case's frame range. Only start_frame yields a single
// frame flag; start and end yield "start:end", with "x<step>" appended when
// step is set. Without start_frame there is no frame flag.
func FrameArg(tc models.TestCase) (flag, value string, ok bool) {
	if tc.StartFrame == nil {
		return "", "", false
	}
	if tc.EndFrame == nil {
		return "--frame", formatNumber(*tc.StartFrame), true
	}

	value = formatNumber(*tc.StartFrame) + ":" + formatNumber(*tc.EndFrame)
	if tc.Step != nil {
		value += "x" + formatNumber(*tc.Step)
	}
	return "--frames", value, true
}

// ExpectedOutput returns the artifact path the tool will write for tc. With a
// frame range this is the end frame's file (start frame without an end).
func ExpectedOutput(tc models.TestCase, workDir string) string {
	if tc.StartFrame == nil {
		return filepath.Join(workDir, OutputBase+tc.FileExt)
	}

	frame := *tc.StartFrame
	if tc.EndFrame != nil {
		frame = *tc.EndFrame
	}
	return filepath.Join(workDir, fmt.Sprintf("%s.%s%s", OutputBase, FrameToken(frame), tc.FileExt))
}

// FrameToken renders a frame number as a zero-padded integer part and a
// three-digit fractional part: 10 -> "0010.000", 2.5 -> "0002.500".
func FrameToken(frame float64) string {
	whole := math.Floor(frame)
	frac := int(math.Round((frame - whole) * 1000))
	if frac >= 1000 {
		whole++
		frac = 0
	}
	return fmt.Sprintf("%04d.%03d", int(whole), frac)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
