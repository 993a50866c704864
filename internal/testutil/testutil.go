package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hlop3z/relmap/internal/alerr"
)

// -----------------------------------------------------------------------------
// Error Assertions
// -----------------------------------------------------------------------------

// AssertError checks that an error has the expected error code.
// If err is nil or doesn't have the expected code, the test fails.
func AssertError(t testing.TB, err error, code alerr.Code) {
	t.Helper()

	if err == nil {
		t.Errorf("expected error with code %s, got nil", code)
		return
	}

	gotCode := alerr.GetErrorCode(err)
	if gotCode != code {
		t.Errorf("expected error code %s, got %s\nerror: %v", code, gotCode, err)
	}
}

// AssertNoError checks that an error is nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()

	if err != nil {
		t.Errorf("expected no error, got: %v", err)
	}
}

// AssertErrorContains checks that an error message contains a substring.
func AssertErrorContains(t testing.TB, err error, substr string) {
	t.Helper()

	if err == nil {
		t.Errorf("expected error containing %q, got nil", substr)
		return
	}

	if !strings.Contains(err.Error(), substr) {
		t.Errorf("error message does not contain %q\ngot: %v", substr, err)
	}
}

// -----------------------------------------------------------------------------
// Test Helpers
// -----------------------------------------------------------------------------

// WriteFile writes content to a file, creating parent directories as needed.
func WriteFile(t testing.TB, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create parent directories: %v", err)
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
}

// AssertEqual is a generic equality check for testing.
func AssertEqual[T comparable](t testing.TB, got, want T) {
	t.Helper()

	if got != want {
		t.Errorf("values not equal:\ngot:  %v\nwant: %v", got, want)
	}
}

// Must asserts that err is nil, or fails the test immediately.
//
// Example:
//
//	testutil.Must(t, users.Sync(ctx, sess))
func Must(t testing.TB, err error) {
	t.Helper()

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

// MustValue asserts that err is nil, or fails the test immediately.
// Returns the value on success.
//
// Example:
//
//	q, err := users.Insert(data, relmap.InsertOptions{})
//	q = testutil.MustValue(t, q, err)
func MustValue[T any](t testing.TB, value T, err error) T {
	t.Helper()

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	return value
}

// Outcome holds the two results of a call for Must.
type Outcome[T any] struct {
	value T
	err   error
}

// Result captures a (value, error) pair so it can be checked inline.
//
// Example:
//
//	q := testutil.Result(users.Insert(data, relmap.InsertOptions{})).Must(t)
func Result[T any](value T, err error) Outcome[T] {
	return Outcome[T]{value: value, err: err}
}

// Must is MustValue for a captured pair.
func (o Outcome[T]) Must(t testing.TB) T {
	t.Helper()
	return MustValue(t, o.value, o.err)
}

// RequireEnv ensures an environment variable is set, or skips the test.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()

	value := os.Getenv(key)
	if value == "" {
		t.Skipf("Required environment variable %s not set", key)
	}

	return value
}
