// Package merge materializes a merged scene when a test case overrides
// render settings. The overrides are written as a small USD overlay layer
// and combined with the case's scene by an external stitch tool.
package merge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"text/template"

	"github.com/harrison/rendertest/internal/models"
)

// Kind is the value type of an overlay setting.
type Kind string

const (
	KindFloat Kind = "float"
	KindInt   Kind = "int"
	KindBool  Kind = "bool"
	KindToken Kind = "token"
)

// Schema maps every recognised overlay key to its value type.
var Schema = map[string]Kind{
	"exposure":              KindFloat,
	"gamma":                 KindFloat,
	"max_samples":           KindInt,
	"max_ray_depth":         KindInt,
	"denoise":               KindBool,
	"tonemapping":           KindToken,
	"environment_intensity": KindFloat,
	"adaptive_threshold":    KindFloat,
}

// Setting is one resolved overlay entry, ready for the layer template.
type Setting struct {
	Key   string
	Type  Kind
	Value string
}

// Settings extracts the overlay entries of tc, sorted by key. It returns an
// empty slice when the case carries no overlay keys.
func Settings(tc models.TestCase) ([]Setting, error) {
	var settings []Setting
	for key, raw := range tc.Extra {
		kind, ok := Schema[key]
		if !ok {
			continue
		}
		value, err := formatValue(kind, raw)
		if err != nil {
			return nil, fmt.Errorf("setting %s: %w", key, err)
		}
		settings = append(settings, Setting{Key: key, Type: kind, Value: value})
	}

	sort.Slice(settings, func(i, j int) bool { return settings[i].Key < settings[j].Key })
	return settings, nil
}

// HasOverlay reports whether tc declares any overlay setting.
func HasOverlay(tc models.TestCase) bool {
	for key := range tc.Extra {
		if _, ok := Schema[key]; ok {
			return true
		}
	}
	return false
}

func formatValue(kind Kind, raw json.RawMessage) (string, error) {
	switch kind {
	case KindFloat:
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return "", fmt.Errorf("expected a number, got %s", raw)
		}
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case KindInt:
		var v int64
		if err := json.Unmarshal(raw, &v); err != nil {
			return "", fmt.Errorf("expected an integer, got %s", raw)
		}
		return strconv.FormatInt(v, 10), nil
	case KindBool:
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			return "", fmt.Errorf("expected a boolean, got %s", raw)
		}
		return strconv.FormatBool(v), nil
	case KindToken:
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return "", fmt.Errorf("expected a string, got %s", raw)
		}
		return strconv.Quote(v), nil
	default:
		return "", fmt.Errorf("unknown kind %q", kind)
	}
}

var overlayTemplate = template.Must(template.New("overlay").Funcs(template.FuncMap{
	"quote": strconv.Quote,
}).Parse(`#usda 1.0
(
    doc = {{quote (printf "render settings overlay for %s" .Case)}}
)

over "Render"
{
    over "Settings"
    {
{{- range .Settings}}
        custom {{.Type}} {{.Key}} = {{.Value}}
{{- end}}
    }
}
`))

// RenderOverlay produces the overlay layer text for caseName.
func RenderOverlay(caseName string, settings []Setting) ([]byte, error) {
	var buf bytes.Buffer
	data := struct {
		Case     string
		Settings []Setting
	}{caseName, settings}

	if err := overlayTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render overlay: %w", err)
	}
	return buf.Bytes(), nil
}
