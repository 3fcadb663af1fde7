// Package manifest handles kiln.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/kiln/compiler"
)

// FileName is the manifest file looked up in a project directory.
const FileName = "kiln.toml"

// Manifest represents a kiln.toml project configuration.
type Manifest struct {
	Project Project `toml:"project"`
	Source  Source  `toml:"source"`
	Target  Target  `toml:"target"`
	Passes  Passes  `toml:"passes"`
	Build   Build   `toml:"build"`

	// Dir is the directory containing the kiln.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Source configures source file locations.
type Source struct {
	Dirs  []string `toml:"dirs"`
	Entry string   `toml:"entry"`
}

// Target describes the capacity limits of the executing VM.
type Target struct {
	MaxStack  int   `toml:"max-stack"`
	MaxLocals int   `toml:"max-locals"`
	Stackify  *bool `toml:"stackify"`
}

// Passes switches individual optimization passes. An omitted key keeps the
// pass enabled.
type Passes struct {
	Joins       *bool `toml:"joins"`
	LoopCarried *bool `toml:"loop-carried"`
	CoercionCSE *bool `toml:"coercion-cse"`
}

// Build configures the build driver.
type Build struct {
	Jobs      int    `toml:"jobs"`
	Cache     string `toml:"cache"`
	Output    string `toml:"output"`
	DebugInfo bool   `toml:"debug-info"`
}

// Load parses a kiln.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		return nil, fmt.Errorf("%s: unknown key %q", path, undec[0].String())
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if len(m.Source.Dirs) == 0 {
		m.Source.Dirs = []string{"src"}
	}
	defaults := compiler.DefaultOptions()
	if m.Target.MaxStack == 0 {
		m.Target.MaxStack = defaults.MaxStack
	}
	if m.Target.MaxLocals == 0 {
		m.Target.MaxLocals = defaults.MaxLocals
	}
	if m.Target.MaxStack < 0 || m.Target.MaxLocals < 0 || m.Build.Jobs < 0 {
		return nil, fmt.Errorf("%s: limits must not be negative", path)
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a kiln.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// CompilerOptions maps the manifest onto compiler options.
func (m *Manifest) CompilerOptions() compiler.Options {
	o := compiler.DefaultOptions()
	o.Name = m.Project.Name
	o.MaxStack = m.Target.MaxStack
	o.MaxLocals = m.Target.MaxLocals
	o.Stackify = enabled(m.Target.Stackify)
	o.Passes.Joins = enabled(m.Passes.Joins)
	o.Passes.LoopCarried = enabled(m.Passes.LoopCarried)
	o.Passes.CoercionCSE = enabled(m.Passes.CoercionCSE)
	o.Debug = m.Build.DebugInfo
	o.Jobs = m.Build.Jobs
	return o
}

func enabled(b *bool) bool { return b == nil || *b }

// SourceDirPaths returns absolute paths for the configured source directories.
func (m *Manifest) SourceDirPaths() []string {
	var paths []string
	for _, d := range m.Source.Dirs {
		paths = append(paths, filepath.Join(m.Dir, d))
	}
	return paths
}

// CachePath returns the compile cache database path, or "" when caching is
// off. Relative paths are resolved against the project directory.
func (m *Manifest) CachePath() string {
	switch m.Build.Cache {
	case "", "off", "none":
		return ""
	}
	if filepath.IsAbs(m.Build.Cache) {
		return m.Build.Cache
	}
	return filepath.Join(m.Dir, m.Build.Cache)
}

// OutputPath returns the artifact path, defaulting to <name>.kbc in the
// project directory.
func (m *Manifest) OutputPath() string {
	out := m.Build.Output
	if out == "" {
		name := m.Project.Name
		if name == "" {
			name = filepath.Base(m.Dir)
		}
		out = name + ".kbc"
	}
	if filepath.IsAbs(out) {
		return out
	}
	return filepath.Join(m.Dir, out)
}
