// Package cli formats relmap command output: Cargo-style diagnostics for
// errors, status lines, tables for listings and JSON for data.
package cli

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// OutputMode determines how output is formatted.
type OutputMode int

const (
	// ModeTTY enables colored output for interactive terminals.
	ModeTTY OutputMode = iota
	// ModePlain outputs plain text without colors (for pipes/CI).
	ModePlain
)

// Config holds CLI output configuration.
type Config struct {
	Mode OutputMode
	Out  io.Writer
	Err  io.Writer
}

// DefaultConfig detects the output mode from stdout:
//   - stdout is a TTY and NO_COLOR is unset -> ModeTTY
//   - otherwise, or TERM=dumb -> ModePlain
func DefaultConfig() *Config {
	mode := ModePlain
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		mode = ModeTTY
	}
	// https://no-color.org/
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		mode = ModePlain
	}
	return &Config{Mode: mode, Out: os.Stdout, Err: os.Stderr}
}

// NewConfig returns a config writing to out and errw in the given mode.
func NewConfig(mode OutputMode, out, errw io.Writer) *Config {
	return &Config{Mode: mode, Out: out, Err: errw}
}

// IsTTY returns true if running in interactive terminal mode.
func (c *Config) IsTTY() bool {
	return c.Mode == ModeTTY
}

var defaultCfg *Config

// Default returns the process-wide configuration, detecting it on first use.
func Default() *Config {
	if defaultCfg == nil {
		defaultCfg = DefaultConfig()
	}
	return defaultCfg
}

// SetDefault replaces the process-wide configuration. Tests use it to capture
// output.
func SetDefault(cfg *Config) {
	defaultCfg = cfg
}

// EnableColors returns true if colors should be used.
func EnableColors() bool {
	return Default().IsTTY()
}
