package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/harrison/rendertest/internal/config"
)

// loadConfig reads configPath when set, otherwise config.yaml in the
// rendertest home. It returns the home directory alongside so relative
// paths in the config can be resolved against it.
func loadConfig(configPath string) (*config.Config, string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get working directory: %w", err)
	}
	home, err := config.GetHome(cwd)
	if err != nil {
		return nil, "", err
	}

	if configPath == "" {
		configPath = filepath.Join(home, "config.yaml")
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}
	return cfg, home, nil
}

// useColor reports whether w is a terminal that should get coloured output.
func useColor(w io.Writer) bool {
	if color.NoColor {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
