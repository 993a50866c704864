package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hlop3z/relmap/internal/alerr"
	"github.com/hlop3z/relmap/internal/testutil"
)

// testEnv is a temporary project directory with a config file, a copy of the
// social declaration file and a SQLite database.
type testEnv struct {
	dir    string
	config string
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	decl, err := os.ReadFile(filepath.Join("..", "..", "internal", "declfile", "testdata", "social.yaml"))
	testutil.Must(t, err)
	testutil.WriteFile(t, filepath.Join(dir, "schema.yaml"), string(decl))

	env := &testEnv{dir: dir, config: filepath.Join(dir, "relmap.yaml")}
	testutil.WriteFile(t, env.config, "database_url: ${RELMAP_TEST_DB}\n"+
		"schema: "+filepath.Join(dir, "schema.yaml")+"\n"+
		"timeout: 5s\n")

	t.Setenv("RELMAP_TEST_DB", filepath.Join(dir, "test.db"))
	t.Setenv("RELMAP_DATABASE_URL", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("RELMAP_SCHEMA", "")
	t.Setenv("NO_COLOR", "1")
	return env
}

// run executes the CLI with args and returns stdout.
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	databaseURL, configFile, schemaFile, verbose = "", "", "", false
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (e *testEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	if err != nil {
		t.Fatalf("relmap %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func TestLoadConfig(t *testing.T) {
	env := setupTestEnv(t)
	databaseURL, configFile, schemaFile = "", env.config, ""

	cfg := testutil.Result(loadConfig()).Must(t)
	testutil.AssertEqual(t, cfg.DatabaseURL, filepath.Join(env.dir, "test.db"))
	testutil.AssertEqual(t, cfg.Schema, filepath.Join(env.dir, "schema.yaml"))
	testutil.AssertEqual(t, cfg.Timeout, 5*time.Second)

	t.Run("env overrides file", func(t *testing.T) {
		t.Setenv("RELMAP_DATABASE_URL", "postgres://localhost/app")
		cfg := testutil.Result(loadConfig()).Must(t)
		testutil.AssertEqual(t, cfg.DatabaseURL, "postgres://localhost/app")
	})

	t.Run("flag overrides env", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost/env")
		databaseURL = ":memory:"
		defer func() { databaseURL = "" }()
		cfg := testutil.Result(loadConfig()).Must(t)
		testutil.AssertEqual(t, cfg.DatabaseURL, ":memory:")
	})

	t.Run("missing file uses defaults", func(t *testing.T) {
		configFile = filepath.Join(env.dir, "absent.yaml")
		defer func() { configFile = env.config }()
		cfg := testutil.Result(loadConfig()).Must(t)
		testutil.AssertEqual(t, cfg.Schema, defaultSchema)
		testutil.AssertEqual(t, cfg.Timeout, defaultTimeout)
	})

	t.Run("malformed file", func(t *testing.T) {
		bad := filepath.Join(env.dir, "bad.yaml")
		testutil.WriteFile(t, bad, "database_url: [\n")
		configFile = bad
		defer func() { configFile = env.config }()
		_, err := loadConfig()
		testutil.AssertError(t, err, alerr.ErrConfig)
	})
}

func TestCheckAndTables(t *testing.T) {
	env := setupTestEnv(t)

	out := env.mustRun(t, "check")
	if !strings.Contains(out, "4 tables") || !strings.Contains(out, "5 relations") {
		t.Errorf("check output = %q", out)
	}

	out = env.mustRun(t, "tables", "--json")
	var tables []map[string]any
	testutil.Must(t, json.Unmarshal([]byte(out), &tables))
	testutil.AssertEqual(t, len(tables), 4)
	testutil.AssertEqual(t, tables[0]["name"], any("user"))
	rels := tables[0]["relations"].(map[string]any)
	following := rels["following"].(map[string]any)
	testutil.AssertEqual(t, following["kind"], any("belongsToMany"))
}

func TestCheckWarnings(t *testing.T) {
	env := setupTestEnv(t)
	testutil.WriteFile(t, filepath.Join(env.dir, "schema.yaml"), `tables:
  post:
    fields:
      title: string
    relations:
      tags:
        kind: belongs_to_many
        table: tag
        through: post_tag
        fields: [postId, tagId]
  tag:
    fields:
      label: string
  post_tag:
    fields:
      postId: {references: post, many_to_many: true}
      tagId: {references: tag, many_to_many: true}
`)

	out := env.mustRun(t, "check")
	if !strings.Contains(out, "warning: post.tags has no compound index") {
		t.Errorf("check output = %q, want a warning for post.tags", out)
	}
	if !strings.Contains(out, "note: no relations declared on tag, post_tag") {
		t.Errorf("check output = %q, want a note for tag and post_tag", out)
	}
	if strings.Count(out, "warning:") != 1 {
		t.Errorf("check output = %q, want one warning", out)
	}
}

func TestFollowingWorkflow(t *testing.T) {
	env := setupTestEnv(t)

	out := env.mustRun(t, "sync")
	if !strings.Contains(out, "dialect: sqlite") {
		t.Errorf("sync output = %q", out)
	}
	// Sync is idempotent.
	env.mustRun(t, "sync")

	env.mustRun(t, "insert", "user", `[{"id": "a", "name": "Ada"}, {"id": "b", "name": "Bob"}]`)

	testutil.AssertEqual(t, strings.TrimSpace(env.mustRun(t, "relate", "has", "user", "following", "a", "b")), "false")
	env.mustRun(t, "relate", "create", "user", "following", "a", "b")
	env.mustRun(t, "relate", "create", "user", "following", "a", "b")
	testutil.AssertEqual(t, strings.TrimSpace(env.mustRun(t, "relate", "has", "user", "following", "a", "b")), "true")
	testutil.AssertEqual(t, strings.TrimSpace(env.mustRun(t, "relate", "has", "user", "followers", "b", "a")), "true")
	testutil.AssertEqual(t, strings.TrimSpace(env.mustRun(t, "relate", "has", "user", "following", "b", "a")), "false")

	var doc map[string]any
	testutil.Must(t, json.Unmarshal([]byte(env.mustRun(t, "get", "user", "a", "--with", "following")), &doc))
	following := doc["following"].([]any)
	testutil.AssertEqual(t, len(following), 1)
	testutil.AssertEqual(t, following[0].(map[string]any)["name"], any("Bob"))

	var followers []map[string]any
	testutil.Must(t, json.Unmarshal([]byte(env.mustRun(t, "related", "user", "b", "followers")), &followers))
	testutil.AssertEqual(t, len(followers), 1)
	testutil.AssertEqual(t, followers[0]["id"], any("a"))

	env.mustRun(t, "relate", "remove", "user", "following", "a", "b")
	doc = nil
	testutil.Must(t, json.Unmarshal([]byte(env.mustRun(t, "get", "user", "a", "--with", "following")), &doc))
	testutil.AssertEqual(t, len(doc["following"].([]any)), 0)
}

func TestGetMissingRow(t *testing.T) {
	env := setupTestEnv(t)
	env.mustRun(t, "sync")

	out := env.mustRun(t, "get", "user", "nobody", "--with", "posts.author")
	testutil.AssertEqual(t, strings.TrimSpace(out), "null")
}

func TestErrors(t *testing.T) {
	env := setupTestEnv(t)
	env.mustRun(t, "sync")

	tests := []struct {
		name string
		args []string
		code alerr.Code
	}{
		{"unknown table", []string{"get", "usr", "a"}, alerr.ErrTableNotFound},
		{"unknown relation", []string{"get", "user", "a", "--with", "folowers"}, alerr.ErrUnknownRelation},
		{"unknown nested relation", []string{"related", "user", "a", "posts", "--with", "writer"}, alerr.ErrUnknownRelation},
		{"invalid json", []string{"insert", "user", "{"}, alerr.ErrValidation},
		{"invalid row", []string{"insert", "user", `{"role": "owner"}`}, alerr.ErrValidation},
		{"bad conflict policy", []string{"insert", "user", `{"name": "x"}`, "--conflict", "merge"}, alerr.ErrConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.run(t, tt.args...)
			testutil.AssertError(t, err, tt.code)
		})
	}
}

func TestUniqueConflict(t *testing.T) {
	env := setupTestEnv(t)
	env.mustRun(t, "sync")

	env.mustRun(t, "insert", "user", `{"name": "Ada", "email": "ada@example.com"}`)
	_, err := env.run(t, "insert", "user", `{"name": "Eve", "email": "ada@example.com"}`)
	testutil.AssertError(t, err, alerr.ErrUniqueConflict)
}

func TestSplitPaths(t *testing.T) {
	got := splitPaths([]string{"posts, author.profile", "", "following"})
	want := []string{"posts", "author.profile", "following"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("splitPaths = %v, want %v", got, want)
	}
}

func TestParseKey(t *testing.T) {
	testutil.AssertEqual(t, parseKey("abc"), any("abc"))
	testutil.AssertEqual(t, parseKey(`"42"`), any("42"))
	testutil.AssertEqual(t, parseKey("42"), any(float64(42)))
}
