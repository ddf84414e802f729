package store

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jfellner/newsriver/internal/debuglog"
)

const backupDirName = "backups"

// Store owns the durable representation of sources, articles, previews and
// the duplicate index. Each collection lives in its own JSON file guarded by
// its own reader/writer lock, so writing articles never blocks reading
// sources.
type Store struct {
	dir string

	sources  *Collection[Source]
	articles *Collection[Article]
	previews *Collection[Preview]
	dupIndex *Collection[DuplicateRecord]
}

// Open loads (or initializes) all collections under dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, backupDirName), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	s := &Store{dir: dir}

	var err error
	if s.sources, err = openCollection[Source](dir, "sources"); err != nil {
		return nil, err
	}
	if s.articles, err = openCollection[Article](dir, "articles"); err != nil {
		return nil, err
	}
	if s.previews, err = openCollection[Preview](dir, "previews"); err != nil {
		return nil, err
	}
	if s.dupIndex, err = openCollection[DuplicateRecord](dir, "dupindex"); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) Sources() *Collection[Source]           { return s.sources }
func (s *Store) Articles() *Collection[Article]         { return s.articles }
func (s *Store) Previews() *Collection[Preview]         { return s.previews }
func (s *Store) DupIndex() *Collection[DuplicateRecord] { return s.dupIndex }

// envelope is the on-disk shape of a collection file.
type envelope[T any] struct {
	Records  map[string]T `json:"records"`
	Metadata metadata     `json:"metadata"`
}

type metadata struct {
	Version     string    `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
	TotalCount  int       `json:"total_count"`
}

// Collection is a single named record set backed by one JSON file. Reads
// take the read lock; every mutation takes the write lock, rewrites the
// whole file to a temporary path and atomically replaces the previous
// version, so a crash mid-write never leaves a torn file behind.
type Collection[T any] struct {
	mu      sync.RWMutex
	name    string
	dir     string
	meta    metadata
	records map[string]T
}

func openCollection[T any](dir, name string) (*Collection[T], error) {
	c := &Collection[T]{
		name:    name,
		dir:     dir,
		records: make(map[string]T),
		meta: metadata{
			Version:   "1.0",
			CreatedAt: time.Now(),
		},
	}
	if err := c.load(); err != nil {
		return nil, fmt.Errorf("loading collection %s: %w", name, err)
	}
	return c, nil
}

func (c *Collection[T]) path() string {
	return filepath.Join(c.dir, c.name+".json")
}

func (c *Collection[T]) backupGlob() string {
	return filepath.Join(c.dir, backupDirName, c.name+"_*.json")
}

func (c *Collection[T]) load() error {
	data, err := os.ReadFile(c.path())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", c.path(), err)
	}

	var env envelope[T]
	if err := json.Unmarshal(data, &env); err == nil {
		c.records = env.Records
		if c.records == nil {
			c.records = make(map[string]T)
		}
		c.meta = env.Metadata
		return nil
	}

	// The live file is unreadable. Keep it for inspection and fall back to
	// the newest backup that still parses. An empty collection is only
	// fabricated when no backup exists at all.
	quarantine := c.path() + ".corrupt-" + time.Now().Format("20060102T150405")
	if err := os.Rename(c.path(), quarantine); err != nil {
		return fmt.Errorf("quarantining corrupt %s: %w", c.name, err)
	}
	debuglog.Warnf("collection %s corrupt, preserved as %s", c.name, quarantine)

	backups, _ := filepath.Glob(c.backupGlob())
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))
	for _, backup := range backups {
		data, err := os.ReadFile(backup)
		if err != nil {
			continue
		}
		var env envelope[T]
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		c.records = env.Records
		if c.records == nil {
			c.records = make(map[string]T)
		}
		c.meta = env.Metadata
		debuglog.Infof("collection %s recovered from backup %s (%d records)", c.name, backup, len(c.records))
		return nil
	}

	debuglog.Warnf("collection %s has no usable backup, starting empty", c.name)
	c.records = make(map[string]T)
	return nil
}

// persist writes the collection under the write lock held by the caller.
func (c *Collection[T]) persist() error {
	c.meta.LastUpdated = time.Now()
	c.meta.TotalCount = len(c.records)
	if c.meta.Version == "" {
		c.meta.Version = "1.0"
	}

	if err := c.backupForToday(); err != nil {
		debuglog.Warnf("backup of %s failed: %v", c.name, err)
	}

	env := envelope[T]{Records: c.records, Metadata: c.meta}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", c.name, err)
	}

	tmp := c.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, c.path()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing %s: %w", c.path(), err)
	}
	return nil
}

// backupForToday snapshots the current file once per logical day, before the
// first write of that day touches it.
func (c *Collection[T]) backupForToday() error {
	if _, err := os.Stat(c.path()); os.IsNotExist(err) {
		return nil
	}

	day := time.Now().Format("20060102")
	backup := filepath.Join(c.dir, backupDirName, fmt.Sprintf("%s_%s.json", c.name, day))
	if _, err := os.Stat(backup); err == nil {
		return nil
	}

	src, err := os.Open(c.path())
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(backup)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

// Get returns the record stored under id.
func (c *Collection[T]) Get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[id]
	return rec, ok
}

// List returns all records matching the filter. A nil filter matches
// everything.
func (c *Collection[T]) List(filter func(T) bool) []T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]T, 0, len(c.records))
	for _, rec := range c.records {
		if filter == nil || filter(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// Len returns the number of stored records.
func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Upsert stores the record under id and persists the collection.
func (c *Collection[T]) Upsert(id string, rec T) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("upsert into %s: empty id", c.name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.records[id] = rec
	return c.persist()
}

// UpsertBatch stores several records in one write.
func (c *Collection[T]) UpsertBatch(recs map[string]T) error {
	if len(recs) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for id, rec := range recs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("upsert into %s: empty id", c.name)
		}
		c.records[id] = rec
	}
	return c.persist()
}

// Delete removes the record under id. Deleting an absent id is a no-op.
func (c *Collection[T]) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.records[id]; !ok {
		return nil
	}
	delete(c.records, id)
	return c.persist()
}

// DeleteBatch removes several records in one write.
func (c *Collection[T]) DeleteBatch(ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := false
	for _, id := range ids {
		if _, ok := c.records[id]; ok {
			delete(c.records, id)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return c.persist()
}

// Snapshot returns a copy of the full record map.
func (c *Collection[T]) Snapshot() map[string]T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]T, len(c.records))
	for id, rec := range c.records {
		out[id] = rec
	}
	return out
}
