package registry

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/hlop3z/relmap/internal/alerr"
)

func TestRegistry_Register(t *testing.T) {
	r := New[int]("table")

	if err := r.Register("user", 1); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}

	v, ok := r.Get("user")
	if !ok || v != 1 {
		t.Errorf("Get() = %v, %v", v, ok)
	}
}

func TestRegistry_Register_Errors(t *testing.T) {
	r := New[int]("table")
	_ = r.Register("user", 1)

	tests := []struct {
		name string
		key  string
		code alerr.Code
	}{
		{"empty name", "", alerr.ErrInvalidIdentifier},
		{"duplicate", "user", alerr.ErrTableDuplicate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(tt.key, 2)
			if !alerr.Is(err, tt.code) {
				t.Errorf("Register(%q) error = %v, want %s", tt.key, err, tt.code)
			}
		})
	}

	if v, _ := r.Get("user"); v != 1 {
		t.Errorf("duplicate Register() replaced the value: %d", v)
	}
}

func TestRegistry_Resolve(t *testing.T) {
	r := New[string]("table")
	_ = r.Register("user", "u")
	_ = r.Register("following", "f")

	v, err := r.Resolve("user")
	if err != nil || v != "u" {
		t.Fatalf("Resolve() = %q, %v", v, err)
	}

	_, err = r.Resolve("usr")
	if !alerr.Is(err, alerr.ErrTableNotFound) {
		t.Fatalf("Resolve(usr) error = %v", err)
	}
	if !strings.Contains(err.Error(), "table: usr") {
		t.Errorf("error lacks context: %v", err)
	}
	ae := err.(*alerr.Error)
	if len(ae.Helps()) != 1 || !strings.Contains(ae.Helps()[0], "'user'") {
		t.Errorf("Helps() = %v", ae.Helps())
	}
}

func TestRegistry_Order(t *testing.T) {
	r := New[int]("table")
	for i, name := range []string{"post", "user", "comment"} {
		_ = r.Register(name, i)
	}

	if got := r.Names(); !slices.Equal(got, []string{"post", "user", "comment"}) {
		t.Errorf("Names() = %v", got)
	}
	if got := r.Values(); !slices.Equal(got, []int{0, 1, 2}) {
		t.Errorf("Values() = %v", got)
	}
	if !r.Has("user") || r.Has("tag") {
		t.Error("Has() mismatch")
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := New[int]("table")

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.Register(fmt.Sprintf("t%d", i), i)
			_ = r.Names()
		}(i)
	}
	wg.Wait()

	if r.Count() != 50 {
		t.Errorf("Count() = %d, want 50", r.Count())
	}
}
