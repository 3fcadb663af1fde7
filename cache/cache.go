// Package cache is a content-addressed store of compiled modules backed by
// SQLite. Entries are keyed by the hash of the source text and the compiler
// options fingerprint and hold the module's CBOR artifact.
package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/kiln/compiler"
	"github.com/chazu/kiln/compiler/hash"
	"github.com/chazu/kiln/pkg/bytecode"
)

var log = commonlog.GetLogger("kiln.cache")

// ErrMiss reports that no entry exists for a key.
var ErrMiss = errors.New("cache miss")

// Entry is one cached compilation.
type Entry struct {
	// BuildID names the compilation that produced the entry.
	BuildID uuid.UUID
	Key     hash.Digest
	Name    string
	// Content is the hash of the module's executable content.
	Content hash.Digest
	Module  *bytecode.Module
	Created time.Time
	// Hit reports that the entry was served from the cache rather than
	// stored by this call.
	Hit bool
}

// Cache is a compile cache. It is safe for concurrent use.
type Cache struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

const schema = `CREATE TABLE IF NOT EXISTS modules (
	key      TEXT PRIMARY KEY,
	build_id TEXT NOT NULL,
	name     TEXT NOT NULL,
	content  TEXT NOT NULL,
	artifact BLOB NOT NULL,
	created  INTEGER NOT NULL
)`

// Open opens or creates the cache database at path. The path ":memory:"
// gives a private in-memory cache.
func Open(path string) (*Cache, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	if path == ":memory:" {
		// Each connection would get its own database.
		db.SetMaxOpenConns(1)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}
	log.Debugf("opened %s", path)
	return &Cache{db: db, path: path}, nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Key is the cache key for compiling src with opts.
func Key(src string, opts compiler.Options) hash.Digest {
	return hash.Key(src, opts.Fingerprint())
}

// Get returns the entry stored under key, or ErrMiss. An entry whose
// artifact no longer decodes or no longer matches its content hash is
// evicted and reported as a miss.
func (c *Cache) Get(key hash.Digest) (*Entry, error) {
	var (
		buildID, name, content string
		artifact               []byte
		created                int64
	)
	err := c.db.QueryRow(
		"SELECT build_id, name, content, artifact, created FROM modules WHERE key = ?",
		key.String(),
	).Scan(&buildID, &name, &content, &artifact, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("querying cache: %w", err)
	}

	m, err := bytecode.Deserialize(artifact)
	if err == nil && hash.Module(m).String() != content {
		err = errors.New("content hash mismatch")
	}
	if err != nil {
		log.Warningf("evicting %s: %s", key.Short(), err)
		if derr := c.Delete(key); derr != nil {
			return nil, derr
		}
		return nil, ErrMiss
	}

	id, err := uuid.Parse(buildID)
	if err != nil {
		return nil, fmt.Errorf("cache entry %s: %w", key.Short(), err)
	}
	return &Entry{
		BuildID: id,
		Key:     key,
		Name:    name,
		Content: hash.Module(m),
		Module:  m,
		Created: time.Unix(0, created),
		Hit:     true,
	}, nil
}

// Put stores m under key, replacing any previous entry, and returns the
// new entry.
func (c *Cache) Put(key hash.Digest, m *bytecode.Module) (*Entry, error) {
	artifact, err := m.Serialize()
	if err != nil {
		return nil, err
	}
	e := &Entry{
		BuildID: uuid.New(),
		Key:     key,
		Name:    m.Name,
		Content: hash.Module(m),
		Module:  m,
		Created: time.Now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.db.Exec(
		"INSERT OR REPLACE INTO modules (key, build_id, name, content, artifact, created) VALUES (?, ?, ?, ?, ?, ?)",
		key.String(), e.BuildID.String(), e.Name, e.Content.String(), artifact, e.Created.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("saving module: %w", err)
	}
	log.Debugf("stored %s as %s (%d bytes)", e.Name, key.Short(), len(artifact))
	return e, nil
}

// Delete removes the entry stored under key, if any.
func (c *Cache) Delete(key hash.Digest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.db.Exec("DELETE FROM modules WHERE key = ?", key.String()); err != nil {
		return fmt.Errorf("deleting cache entry: %w", err)
	}
	return nil
}

// Prune removes entries created before cutoff and reports how many were
// removed.
func (c *Cache) Prune(cutoff time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, err := c.db.Exec("DELETE FROM modules WHERE created < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("pruning cache: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Len reports the number of entries.
func (c *Cache) Len() (int, error) {
	var n int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM modules").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting cache entries: %w", err)
	}
	return n, nil
}

// Compile returns the cached module for src and opts, compiling and
// storing it on a miss. Failed compilations are not cached. A nil cache
// always compiles.
func (c *Cache) Compile(src string, opts compiler.Options) (*compiler.Result, *Entry, error) {
	if c == nil {
		res, err := compiler.Compile(src, opts)
		return res, nil, err
	}
	key := Key(src, opts)
	e, err := c.Get(key)
	switch {
	case err == nil:
		log.Debugf("hit %s (%s)", key.Short(), e.Name)
		return &compiler.Result{Module: e.Module, Metrics: &compiler.Metrics{}}, e, nil
	case !errors.Is(err, ErrMiss):
		return nil, nil, err
	}

	res, err := compiler.Compile(src, opts)
	if err != nil {
		return res, nil, err
	}
	e, err = c.Put(key, res.Module)
	if err != nil {
		return res, nil, err
	}
	return res, e, nil
}
