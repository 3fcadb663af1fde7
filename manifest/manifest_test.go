package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/chazu/kiln/compiler"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, FileName), `
[project]
name = "test-app"
version = "0.1.0"

[source]
dirs = ["src", "lib"]
entry = "src/main.js"

[target]
max-stack = 64
max-locals = 256
stackify = false

[passes]
coercion-cse = false

[build]
jobs = 4
cache = ".kiln/cache.db"
debug-info = true
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Project.Name != "test-app" {
		t.Errorf("project name = %q, want test-app", m.Project.Name)
	}
	if m.Project.Version != "0.1.0" {
		t.Errorf("project version = %q, want 0.1.0", m.Project.Version)
	}
	if len(m.Source.Dirs) != 2 {
		t.Errorf("source dirs count = %d, want 2", len(m.Source.Dirs))
	}
	if m.Source.Entry != "src/main.js" {
		t.Errorf("source entry = %q, want src/main.js", m.Source.Entry)
	}
	if got, want := m.CachePath(), filepath.Join(m.Dir, ".kiln", "cache.db"); got != want {
		t.Errorf("cache path = %q, want %q", got, want)
	}

	got := m.CompilerOptions()
	want := compiler.DefaultOptions()
	want.Name = "test-app"
	want.MaxStack = 64
	want.MaxLocals = 256
	want.Stackify = false
	want.Passes.CoercionCSE = false
	want.Debug = true
	want.Jobs = 4
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("compiler options (-want +got):\n%s", diff)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, FileName), `
[project]
name = "minimal"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Default source dir should be "src"
	if len(m.Source.Dirs) != 1 || m.Source.Dirs[0] != "src" {
		t.Errorf("default source dirs = %v, want [src]", m.Source.Dirs)
	}
	want := compiler.DefaultOptions()
	want.Name = "minimal"
	if diff := cmp.Diff(want, m.CompilerOptions()); diff != "" {
		t.Errorf("default options (-want +got):\n%s", diff)
	}
	if m.CachePath() != "" {
		t.Errorf("cache should be off by default, got %q", m.CachePath())
	}
	if got, want := m.OutputPath(), filepath.Join(m.Dir, "minimal.kbc"); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestLoadManifestErrors(t *testing.T) {
	tests := []struct {
		name, content, want string
	}{
		{"syntax", "[project\n", "parse error"},
		{"unknown key", "[target]\nmax-stak = 3\n", "unknown key"},
		{"negative", "[build]\njobs = -1\n", "negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, FileName), tt.content)
			_, err := Load(dir)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestFindAndLoad(t *testing.T) {
	// Create nested directory structure
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, FileName), "[project]\nname = \"found-project\"\n")

	// Should find manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Project.Name != "found-project" {
		t.Errorf("project name = %q, want found-project", m.Project.Name)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no kiln.toml exists")
	}
}

func TestSourceDirPaths(t *testing.T) {
	m := &Manifest{
		Dir: "/app",
		Source: Source{
			Dirs: []string{"src", "lib"},
		},
	}

	paths := m.SourceDirPaths()
	if diff := cmp.Diff([]string{"/app/src", "/app/lib"}, paths); diff != "" {
		t.Errorf("paths (-want +got):\n%s", diff)
	}
}

func TestSourceFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, FileName), "[source]\ndirs = [\"src\", \"missing\"]\nentry = \"src/z_main.js\"\n")
	writeFile(t, filepath.Join(dir, "src", "a.js"), "result = 1;")
	writeFile(t, filepath.Join(dir, "src", "z_main.js"), "result = 2;")
	writeFile(t, filepath.Join(dir, "src", "util", "b.mjs"), "result = 3;")
	writeFile(t, filepath.Join(dir, "src", "notes.txt"), "not code")
	writeFile(t, filepath.Join(dir, "src", ".hidden", "c.js"), "skipped")

	m, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	inputs, err := m.Inputs()
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, in := range inputs {
		names = append(names, in.Name)
	}
	want := []string{"src/z_main.js", "src/a.js", "src/util/b.mjs"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("inputs (-want +got):\n%s", diff)
	}
	if inputs[0].Text != "result = 2;" {
		t.Errorf("entry text = %q", inputs[0].Text)
	}
}
