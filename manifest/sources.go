package manifest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chazu/kiln/compiler"
)

// SourceFiles lists the .js and .mjs files under the source directories in
// lexical order. The entry file, when set, comes first. Missing directories
// are skipped.
func (m *Manifest) SourceFiles() ([]string, error) {
	seen := map[string]bool{}
	var files []string
	for _, dir := range m.SourceDirPaths() {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != dir && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if isSource(path) && !seen[path] {
				seen[path] = true
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", dir, err)
		}
	}
	sort.Strings(files)

	if m.Source.Entry != "" {
		entry := m.Source.Entry
		if !filepath.IsAbs(entry) {
			entry = filepath.Join(m.Dir, entry)
		}
		if _, err := os.Stat(entry); err != nil {
			return nil, fmt.Errorf("entry %s: %w", m.Source.Entry, err)
		}
		out := []string{entry}
		for _, f := range files {
			if f != entry {
				out = append(out, f)
			}
		}
		files = out
	}
	return files, nil
}

// Inputs reads the source files as compiler inputs named relative to the
// project directory.
func (m *Manifest) Inputs() ([]compiler.Input, error) {
	files, err := m.SourceFiles()
	if err != nil {
		return nil, err
	}
	inputs := make([]compiler.Input, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		name, err := filepath.Rel(m.Dir, f)
		if err != nil {
			name = f
		}
		inputs = append(inputs, compiler.Input{Name: filepath.ToSlash(name), Text: string(data)})
	}
	return inputs, nil
}

func isSource(path string) bool {
	switch filepath.Ext(path) {
	case ".js", ".mjs":
		return true
	}
	return false
}
