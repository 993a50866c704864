package cli

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/hlop3z/relmap/internal/alerr"
)

func init() {
	// Plain mode: style functions return raw text.
	SetDefault(&Config{Mode: ModePlain})
}

func assertContains(t *testing.T, output string, checks ...string) {
	t.Helper()
	for _, want := range checks {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q\ngot:\n%s", want, output)
		}
	}
}

func TestFormatError_SourceContext(t *testing.T) {
	err := alerr.New(alerr.ErrConfig, `unknown key "feilds"`).
		WithLocation("schema.yaml", 3, 5).
		WithSource("    feilds: {}").
		WithHelp("did you mean 'fields'?")

	out := FormatError(err)
	assertContains(t, out,
		"error[E5001]: unknown key \"feilds\"",
		"--> schema.yaml:3:5",
		"3 |     feilds: {}",
		"  |     ^",
		"help: did you mean 'fields'?",
	)
	if strings.Contains(out, "source:") || strings.Contains(out, "helps:") {
		t.Errorf("location keys rendered as details:\n%s", out)
	}
}

func TestFormatError_Details(t *testing.T) {
	err := alerr.New(alerr.ErrUnknownRelation, `relation "folowers" is not declared`).
		WithTable("user").
		WithRelation("folowers")

	out := FormatError(err)
	assertContains(t, out, "error[E2003]", "| relation: folowers", "| table: user")
	if strings.Index(out, "relation:") > strings.Index(out, "table:") {
		t.Errorf("details are not sorted:\n%s", out)
	}
	if strings.Contains(out, "-->") {
		t.Errorf("location header without a file:\n%s", out)
	}
}

func TestFormatError_Cause(t *testing.T) {
	inner := alerr.New(alerr.ErrInvalidIdentifier, "invalid identifier \"my table\"")
	err := alerr.Wrap(alerr.ErrConfig, inner, "invalid table declaration").WithLocation("schema.yaml", 2, 3)

	assertContains(t, FormatError(err), "--> schema.yaml:2:3", "cause: [E2001] invalid identifier")

	driver := alerr.Wrap(alerr.ErrEngine, errors.New("disk full\nstack..."), "failed to insert")
	out := FormatError(driver)
	assertContains(t, out, "cause: disk full")
	if strings.Contains(out, "stack...") {
		t.Errorf("cause was not cut to one line:\n%s", out)
	}
}

func TestFormatError_Joined(t *testing.T) {
	err := errors.Join(
		alerr.New(alerr.ErrInvalidLink, "link target user.name is not indexed"),
		alerr.New(alerr.ErrTableInvalid, "table schema is empty"),
	)
	out := FormatError(err)
	assertContains(t, out, "error[E2002]", "error[E1001]")
	if strings.Count(out, "error[") != 2 {
		t.Errorf("want two diagnostics:\n%s", out)
	}
}

func TestFormatError_Plain(t *testing.T) {
	if got := FormatError(nil); got != "" {
		t.Errorf("FormatError(nil) = %q", got)
	}
	if got := FormatError(errors.New("boom")); got != "error: boom\n" {
		t.Errorf("FormatError(generic) = %q", got)
	}

	// Wrapped alerr errors keep their code.
	wrapped := fmt.Errorf("sync user: %w", alerr.New(alerr.ErrEngine, "failed to create index"))
	assertContains(t, FormatError(wrapped), "error[E4001]: failed to create index")
}

func TestFormatLines(t *testing.T) {
	if got := FormatWarning("no tables"); got != "warning: no tables\n" {
		t.Errorf("FormatWarning() = %q", got)
	}
	if got := FormatNote("dry run"); got != "note: dry run\n" {
		t.Errorf("FormatNote() = %q", got)
	}
}
