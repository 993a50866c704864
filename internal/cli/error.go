package cli

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hlop3z/relmap/internal/alerr"
)

// Context keys rendered in the location header or source excerpt rather than
// as plain details.
var locationKeys = map[string]bool{
	"file": true, "line": true, "column": true, "source": true, "helps": true,
}

// FormatError formats an error for CLI display in Cargo/rustc style:
//
//	error[E2003]: relation "folowers" is not declared
//	   |
//	   | relation: folowers
//	   | table: user
//	help: did you mean 'followers'?
//
// Errors joined with errors.Join are formatted one after the other.
func FormatError(err error) string {
	if err == nil {
		return ""
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var b strings.Builder
		for _, e := range joined.Unwrap() {
			b.WriteString(FormatError(e))
		}
		return b.String()
	}

	var ae *alerr.Error
	if errors.As(err, &ae) {
		return formatAlerr(ae)
	}
	return Error("error") + ": " + err.Error() + "\n"
}

func formatAlerr(err *alerr.Error) string {
	var b strings.Builder
	ctx := err.GetContext()

	b.WriteString(Error("error"))
	b.WriteString("[" + Code(string(err.GetCode())) + "]: ")
	b.WriteString(err.GetMessage())
	b.WriteString("\n")

	file, _ := ctx["file"].(string)
	line, _ := ctx["line"].(int)
	col, _ := ctx["column"].(int)
	if file != "" {
		loc := file
		if line > 0 {
			loc = fmt.Sprintf("%s:%d", file, line)
			if col > 0 {
				loc = fmt.Sprintf("%s:%d:%d", file, line, col)
			}
		}
		b.WriteString("  " + render(stylePipe, "-->") + " " + FilePath(loc) + "\n")
	}

	gutter := "   "
	if source, ok := ctx["source"].(string); ok && line > 0 {
		num := fmt.Sprintf("%d", line)
		pad := strings.Repeat(" ", len(num))
		gutter = pad + " "
		b.WriteString(pad + " " + Pipe() + "\n")
		b.WriteString(LineNum(num) + " " + Pipe() + " " + source + "\n")
		if col > 0 {
			b.WriteString(pad + " " + Pipe() + " " + strings.Repeat(" ", col-1) + Pointer("^") + "\n")
		}
	}

	var keys []string
	for k := range ctx {
		if !locationKeys[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		b.WriteString(gutter + Pipe() + "\n")
		for _, k := range keys {
			b.WriteString(fmt.Sprintf("%s%s %s: %v\n", gutter, Pipe(), k, ctx[k]))
		}
	}

	if cause := err.GetCause(); cause != nil {
		b.WriteString(Note("cause") + ": " + causeMessage(cause) + "\n")
	}
	for _, help := range err.Helps() {
		b.WriteString(Help("help") + ": " + help + "\n")
	}
	return b.String()
}

// causeMessage returns the first line of a cause, or its message alone when
// the cause is an *alerr.Error.
func causeMessage(cause error) string {
	var ae *alerr.Error
	if errors.As(cause, &ae) {
		return fmt.Sprintf("[%s] %s", ae.GetCode(), ae.GetMessage())
	}
	msg, _, _ := strings.Cut(cause.Error(), "\n")
	return msg
}

// FormatWarning formats a warning line.
func FormatWarning(msg string) string {
	return Warning("warning") + ": " + msg + "\n"
}

// FormatNote formats a note line.
func FormatNote(msg string) string {
	return Note("note") + ": " + msg + "\n"
}
