// Package index implements the replicated tree index collaborator: the
// authoritative mapping from logical paths to file/directory entries.
//
// State lives in memory and is written through to a bolt database when
// one is configured, so Load after a restart sees the same tree.
// Remote replication itself (merge semantics, transport) stays outside
// this package; Merge applies an already-merged remote state and fires
// the replicated signal.
package index

import (
	"fmt"
	"iter"
	"sort"
	"strings"
	"sync"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/synctree/synctree"
)

var bucketEntries = []byte("entries")

// Entry is the index's view of one path.
type Entry struct {
	Kind synctree.Kind
	CID  string
}

// Index implements synctree.Index.
type Index struct {
	mu      sync.RWMutex
	entries map[string]Entry

	db      *bolt.DB
	file    string
	address string
	log     *zap.Logger

	subMu sync.Mutex
	subs  map[int]func()
	next  int
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the index logger.
func WithLogger(log *zap.Logger) Option {
	return func(ix *Index) {
		if log != nil {
			ix.log = log
		}
	}
}

// WithAddress sets the opaque network/identity handle.
func WithAddress(addr string) Option {
	return func(ix *Index) { ix.address = addr }
}

// New creates an index. With a non-empty file the index persists to a
// bolt database at that path; with an empty file it is ephemeral.
func New(file string, opts ...Option) (*Index, error) {
	ix := &Index{
		entries: map[string]Entry{synctree.RootPath: {Kind: synctree.KindDir}},
		file:    file,
		log:     zap.NewNop(),
		subs:    make(map[int]func()),
	}
	for _, opt := range opts {
		opt(ix)
	}
	if ix.address == "" {
		if file != "" {
			ix.address = "file:" + file
		} else {
			ix.address = "mem:"
		}
	}

	if file != "" {
		db, err := bolt.Open(file, 0600, nil)
		if err != nil {
			return nil, fmt.Errorf("open index db: %w", err)
		}
		if err := db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucketEntries)
			return err
		}); err != nil {
			db.Close()
			return nil, fmt.Errorf("init index db: %w", err)
		}
		ix.db = db
	}
	return ix, nil
}

var _ synctree.Index = (*Index)(nil)

// Queries

func (ix *Index) Exists(path string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.entries[synctree.Normalize(path)]
	return ok
}

func (ix *Index) Content(path string) synctree.Kind {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.entries[synctree.Normalize(path)].Kind
}

func (ix *Index) Read(path string) (string, error) {
	p := synctree.Normalize(path)
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.entries[p]
	if !ok {
		return "", fmt.Errorf("%w: %s", synctree.ErrNotFound, p)
	}
	if e.Kind != synctree.KindFile {
		return "", fmt.Errorf("%w: %s", synctree.ErrNotFile, p)
	}
	return e.CID, nil
}

// Tree returns every descendant path strictly below path, parents
// before children.
func (ix *Index) Tree(path string) ([]string, error) {
	p := synctree.Normalize(path)
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.entries[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", synctree.ErrNotFound, p)
	}
	if e.Kind != synctree.KindDir {
		return nil, fmt.Errorf("%w: %s", synctree.ErrNotDir, p)
	}

	prefix := p
	if prefix != synctree.RootPath {
		prefix += "/"
	}
	var out []string
	for candidate := range ix.entries {
		if candidate != p && strings.HasPrefix(candidate, prefix) {
			out = append(out, candidate)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Ls returns the immediate child names of a directory, ordered by the
// locale-aware name comparator.
func (ix *Index) Ls(path string) ([]string, error) {
	p := synctree.Normalize(path)
	descendants, err := ix.Tree(p)
	if err != nil {
		return nil, err
	}

	prefix := p
	if prefix != synctree.RootPath {
		prefix += "/"
	}
	var names []string
	for _, d := range descendants {
		rel := strings.TrimPrefix(d, prefix)
		if !strings.Contains(rel, "/") {
			names = append(names, rel)
		}
	}
	synctree.SortNames(names)
	return names, nil
}

func (ix *Index) JoinPath(parent, name string) string {
	return synctree.Join(parent, name)
}

// Entries iterates over a snapshot of all path entries.
func (ix *Index) Entries() iter.Seq2[string, Entry] {
	ix.mu.RLock()
	snapshot := make(map[string]Entry, len(ix.entries))
	for k, v := range ix.entries {
		snapshot[k] = v
	}
	ix.mu.RUnlock()
	return func(yield func(string, Entry) bool) {
		for k, v := range snapshot {
			if !yield(k, v) {
				return
			}
		}
	}
}

// Mutators

func (ix *Index) Mkdir(parent, name string) error {
	return ix.create(parent, name, synctree.KindDir)
}

func (ix *Index) Mk(parent, name string) error {
	return ix.create(parent, name, synctree.KindFile)
}

func (ix *Index) create(parent, name string, kind synctree.Kind) error {
	p := synctree.Normalize(parent)
	target := synctree.Join(p, name)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	e, ok := ix.entries[p]
	if !ok {
		return fmt.Errorf("%w: %s", synctree.ErrNotFound, p)
	}
	if e.Kind != synctree.KindDir {
		return fmt.Errorf("%w: %s", synctree.ErrNotDir, p)
	}
	if _, ok := ix.entries[target]; ok {
		return fmt.Errorf("%w: %s", synctree.ErrAlreadyExists, target)
	}

	ix.entries[target] = Entry{Kind: kind}
	return ix.persist(map[string]*Entry{target: {Kind: kind}})
}

func (ix *Index) Write(path, id string) error {
	p := synctree.Normalize(path)
	ix.mu.Lock()
	defer ix.mu.Unlock()
	e, ok := ix.entries[p]
	if !ok {
		return fmt.Errorf("%w: %s", synctree.ErrNotFound, p)
	}
	if e.Kind != synctree.KindFile {
		return fmt.Errorf("%w: %s", synctree.ErrNotFile, p)
	}
	e.CID = id
	ix.entries[p] = e
	return ix.persist(map[string]*Entry{p: &e})
}

func (ix *Index) Rm(path string) error {
	p := synctree.Normalize(path)
	ix.mu.Lock()
	defer ix.mu.Unlock()
	e, ok := ix.entries[p]
	if !ok {
		return fmt.Errorf("%w: %s", synctree.ErrNotFound, p)
	}
	if e.Kind != synctree.KindFile {
		return fmt.Errorf("%w: %s", synctree.ErrNotFile, p)
	}
	delete(ix.entries, p)
	return ix.persist(map[string]*Entry{p: nil})
}

// Rmdir removes a directory and everything beneath it.
func (ix *Index) Rmdir(path string) error {
	p := synctree.Normalize(path)
	if p == synctree.RootPath {
		return fmt.Errorf("%w: cannot remove root", synctree.ErrNotDir)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	e, ok := ix.entries[p]
	if !ok {
		return fmt.Errorf("%w: %s", synctree.ErrNotFound, p)
	}
	if e.Kind != synctree.KindDir {
		return fmt.Errorf("%w: %s", synctree.ErrNotDir, p)
	}

	removed := map[string]*Entry{p: nil}
	delete(ix.entries, p)
	prefix := p + "/"
	for candidate := range ix.entries {
		if strings.HasPrefix(candidate, prefix) {
			removed[candidate] = nil
			delete(ix.entries, candidate)
		}
	}
	return ix.persist(removed)
}

// Lifecycle

// Load replaces in-memory state with the persisted tree. Ephemeral
// indexes keep their current state.
func (ix *Index) Load() error {
	if ix.db == nil {
		return nil
	}

	loaded := map[string]Entry{synctree.RootPath: {Kind: synctree.KindDir}}
	err := ix.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).ForEach(func(k, v []byte) error {
			e, err := decodeEntry(v)
			if err != nil {
				return fmt.Errorf("entry %s: %w", k, err)
			}
			loaded[string(k)] = e
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("load index: %w", err)
	}

	ix.mu.Lock()
	ix.entries = loaded
	ix.mu.Unlock()
	ix.log.Debug("index loaded", zap.Int("entries", len(loaded)))
	return nil
}

// Close gracefully releases the index.
func (ix *Index) Close() error {
	if ix.db == nil {
		return nil
	}
	return ix.db.Close()
}

// Drop destroys persisted and in-memory state, then releases the
// index.
func (ix *Index) Drop() error {
	ix.mu.Lock()
	ix.entries = map[string]Entry{synctree.RootPath: {Kind: synctree.KindDir}}
	ix.mu.Unlock()

	if ix.db == nil {
		return nil
	}
	err := ix.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketEntries); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketEntries)
		return err
	})
	if cerr := ix.db.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (ix *Index) Address() string { return ix.address }

// Replication

// OnReplicated registers fn to run after remote state merges in.
func (ix *Index) OnReplicated(fn func()) (cancel func()) {
	ix.subMu.Lock()
	defer ix.subMu.Unlock()
	id := ix.next
	ix.next++
	ix.subs[id] = fn
	return func() {
		ix.subMu.Lock()
		defer ix.subMu.Unlock()
		delete(ix.subs, id)
	}
}

// Merge applies an already-merged remote state on top of the local
// tree and fires the replicated signal. A nil entry pointer removes
// the path.
func (ix *Index) Merge(remote map[string]*Entry) error {
	ix.mu.Lock()
	for p, e := range remote {
		p = synctree.Normalize(p)
		if p == synctree.RootPath {
			continue
		}
		if e == nil {
			delete(ix.entries, p)
		} else {
			ix.entries[p] = *e
		}
	}
	err := ix.persist(remote)
	ix.mu.Unlock()
	if err != nil {
		return err
	}

	ix.notifyReplicated()
	return nil
}

func (ix *Index) notifyReplicated() {
	ix.subMu.Lock()
	fns := make([]func(), 0, len(ix.subs))
	for _, fn := range ix.subs {
		fns = append(fns, fn)
	}
	ix.subMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// persist writes through a batch of changes; a nil entry deletes the
// key. Callers hold mu.
func (ix *Index) persist(changes map[string]*Entry) error {
	if ix.db == nil {
		return nil
	}
	return ix.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		for p, e := range changes {
			p = synctree.Normalize(p)
			if e == nil {
				if err := b.Delete([]byte(p)); err != nil {
					return err
				}
				continue
			}
			if err := b.Put([]byte(p), encodeEntry(*e)); err != nil {
				return err
			}
		}
		return nil
	})
}

func encodeEntry(e Entry) []byte {
	out := make([]byte, 1+len(e.CID))
	out[0] = byte(e.Kind)
	copy(out[1:], e.CID)
	return out
}

func decodeEntry(v []byte) (Entry, error) {
	if len(v) == 0 {
		return Entry{}, fmt.Errorf("empty value")
	}
	return Entry{Kind: synctree.Kind(v[0]), CID: string(v[1:])}, nil
}
