package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Table renders rows in aligned columns.
type Table struct {
	headers []string
	rows    [][]string
}

// NewTable creates a new table with the given headers.
func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

// AddRow adds a row, padding missing cells.
func (t *Table) AddRow(cells ...string) {
	for len(cells) < len(t.headers) {
		cells = append(cells, "")
	}
	t.rows = append(t.rows, cells[:len(t.headers)])
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// String renders the table. Widths are measured with lipgloss so styled
// cells line up.
func (t *Table) String() string {
	if len(t.headers) == 0 {
		return ""
	}
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	var b strings.Builder
	line := func(cells []string, style func(string) string) {
		for i, cell := range cells {
			if i > 0 {
				b.WriteString("  ")
			}
			pad := ""
			if i < len(cells)-1 {
				pad = strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
			}
			b.WriteString(style(cell) + pad)
		}
		b.WriteString("\n")
	}

	line(t.headers, Header)
	sep := make([]string, len(widths))
	for i, w := range widths {
		sep[i] = strings.Repeat("─", w)
	}
	line(sep, Dim)
	for _, row := range t.rows {
		line(row, func(s string) string { return s })
	}
	return b.String()
}

// KeyValue renders "key: value" with a muted key.
func KeyValue(key, value string) string {
	return Dim(key+":") + " " + value
}

// FormatCount returns "1 table" or "3 tables".
func FormatCount(count int, singular, plural string) string {
	if count == 1 {
		return fmt.Sprintf("%d %s", count, singular)
	}
	return fmt.Sprintf("%d %s", count, plural)
}

// WriteJSON writes v as indented JSON followed by a newline.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
