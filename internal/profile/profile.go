// Package profile describes the machine a batch runs on and decides which
// cases must be skipped there.
package profile

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/harrison/rendertest/internal/models"
	"github.com/hashicorp/go-version"
)

// Profile identifies the host for skip_on matching.
type Profile struct {
	Platform     string // Windows, Linux or Darwin
	RenderDevice string // GPU name supplied by the caller
	ToolVersion  string // Version of the render tool, optional
}

// PlatformName maps a GOOS value to the platform token used in skip_on lists.
func PlatformName(goos string) string {
	switch goos {
	case "windows":
		return "Windows"
	case "linux":
		return "Linux"
	case "darwin":
		return "Darwin"
	default:
		if goos == "" {
			return ""
		}
		return strings.ToUpper(goos[:1]) + goos[1:]
	}
}

// Current builds the profile of this machine.
func Current(renderDevice, toolVersion string) Profile {
	return Profile{
		Platform:     PlatformName(runtime.GOOS),
		RenderDevice: renderDevice,
		ToolVersion:  toolVersion,
	}
}

// Tokens returns the set of values skip_on entries are matched against.
func (p Profile) Tokens() map[string]bool {
	tokens := make(map[string]bool, 2)
	if p.Platform != "" {
		tokens[p.Platform] = true
	}
	if p.RenderDevice != "" {
		tokens[p.RenderDevice] = true
	}
	return tokens
}

// SkipReason reports whether tc must be skipped on this machine and why.
// A case is skipped when any skip_on set is a subset of the profile tokens,
// or when the tool is older than the case's min_tool_version.
func (p Profile) SkipReason(tc models.TestCase) (string, bool, error) {
	tokens := p.Tokens()
	for _, set := range tc.SkipOn {
		if len(set) == 0 {
			continue
		}
		if isSubset(set, tokens) {
			return fmt.Sprintf("skipped on %s", strings.Join(set, " + ")), true, nil
		}
	}

	if tc.MinToolVersion == "" || p.ToolVersion == "" {
		return "", false, nil
	}
	required, err := version.NewVersion(tc.MinToolVersion)
	if err != nil {
		return "", false, fmt.Errorf("case %s: invalid min_tool_version %q: %w", tc.Name, tc.MinToolVersion, err)
	}
	current, err := version.NewVersion(p.ToolVersion)
	if err != nil {
		return "", false, fmt.Errorf("invalid tool version %q: %w", p.ToolVersion, err)
	}
	if current.LessThan(required) {
		return fmt.Sprintf("requires tool %s, have %s", required, current), true, nil
	}
	return "", false, nil
}

func isSubset(set []string, tokens map[string]bool) bool {
	for _, v := range set {
		if !tokens[v] {
			return false
		}
	}
	return true
}
