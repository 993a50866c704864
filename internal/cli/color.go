package cli

import "github.com/charmbracelet/lipgloss"

// Cargo/rustc-like palette in ANSI 256 colors.
var (
	colorPrimary = lipgloss.Color("12")
	colorSuccess = lipgloss.Color("10")
	colorWarning = lipgloss.Color("11")
	colorError   = lipgloss.Color("9")
	colorMuted   = lipgloss.Color("8")
	colorAccent  = lipgloss.Color("14")

	styleError    = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	styleWarning  = lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	styleNote     = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	styleHelp     = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	styleCode     = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	stylePipe     = lipgloss.NewStyle().Foreground(colorPrimary)
	stylePointer  = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	styleFilePath = lipgloss.NewStyle().Bold(true)
	styleHeader   = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	styleDim      = lipgloss.NewStyle().Foreground(colorMuted)
	styleDone     = lipgloss.NewStyle().Foreground(colorSuccess)
)

func render(style lipgloss.Style, s string) string {
	if !EnableColors() {
		return s
	}
	return style.Render(s)
}

// Error returns text styled as an error label.
func Error(s string) string { return render(styleError, s) }

// Warning returns text styled as a warning label.
func Warning(s string) string { return render(styleWarning, s) }

// Note returns text styled as a note label.
func Note(s string) string { return render(styleNote, s) }

// Help returns text styled as a help label.
func Help(s string) string { return render(styleHelp, s) }

// Code returns text styled as an error code.
func Code(s string) string { return render(styleCode, s) }

// Pipe returns the gutter character of diagnostics.
func Pipe() string { return render(stylePipe, "|") }

// Pointer returns text styled as a source pointer (^^^^).
func Pointer(s string) string { return render(stylePointer, s) }

// LineNum returns text styled as a line number.
func LineNum(s string) string { return render(stylePipe, s) }

// FilePath returns text styled as a file path.
func FilePath(s string) string { return render(styleFilePath, s) }

// Header returns text styled as a table header.
func Header(s string) string { return render(styleHeader, s) }

// Dim returns muted text.
func Dim(s string) string { return render(styleDim, s) }

// Done returns text styled as a completed step.
func Done(s string) string { return render(styleDone, s) }
