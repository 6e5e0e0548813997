package synctree

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Snapshot is an immutable point-in-time view of a materialized tree,
// navigable with nothing but its root CID and a blob store. A peer
// holding a shared root identifier can read content without access to
// the tree index.
type Snapshot struct {
	root  CID
	store BlobStore

	mu        sync.RWMutex
	manifests map[CID][]ManifestEntry
}

// NewSnapshot creates a snapshot over a materialized root CID.
func NewSnapshot(root CID, store BlobStore) *Snapshot {
	return &Snapshot{
		root:      root,
		store:     store,
		manifests: make(map[CID][]ManifestEntry),
	}
}

// Root returns the snapshot's root identifier.
func (s *Snapshot) Root() CID { return s.root }

// Resolve walks path from the root and returns the manifest entry it
// lands on. The root path resolves to a synthetic unnamed entry.
func (s *Snapshot) Resolve(ctx context.Context, path string) (ManifestEntry, error) {
	meta, err := s.store.Stat(ctx, s.root)
	if err != nil {
		return ManifestEntry{}, fmt.Errorf("stat root %s: %w", s.root, err)
	}
	current := ManifestEntry{CID: s.root, Size: meta.Size, Dir: meta.Dir}

	p := Normalize(path)
	if p == RootPath {
		return current, nil
	}

	for part := range strings.SplitSeq(strings.Trim(p, "/"), "/") {
		if !current.Dir {
			return ManifestEntry{}, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		entries, err := s.loadManifest(ctx, current.CID)
		if err != nil {
			return ManifestEntry{}, err
		}
		found := false
		for _, e := range entries {
			if e.Name == part {
				current = e
				found = true
				break
			}
		}
		if !found {
			return ManifestEntry{}, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
	}
	return current, nil
}

// ReadDir lists the entries of a directory within the snapshot.
func (s *Snapshot) ReadDir(ctx context.Context, path string) ([]ManifestEntry, error) {
	entry, err := s.Resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	if !entry.Dir {
		return nil, fmt.Errorf("%w: %s", ErrNotDir, path)
	}
	return s.loadManifest(ctx, entry.CID)
}

// ReadFile returns the full content of a file within the snapshot.
func (s *Snapshot) ReadFile(ctx context.Context, path string) ([]byte, error) {
	entry, err := s.Resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	if entry.Dir {
		return nil, fmt.Errorf("%w: %s", ErrNotFile, path)
	}
	return Accumulate(s.store.Cat(ctx, entry.CID), entry.Size, nil)
}

func (s *Snapshot) loadManifest(ctx context.Context, cid CID) ([]ManifestEntry, error) {
	s.mu.RLock()
	entries, ok := s.manifests[cid]
	s.mu.RUnlock()
	if ok {
		return entries, nil
	}

	body, err := Accumulate(s.store.Cat(ctx, cid), 0, nil)
	if err != nil {
		return nil, fmt.Errorf("load manifest %s: %w", cid, err)
	}
	entries, err = DecodeManifest(body)
	if err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", cid, err)
	}

	s.mu.Lock()
	s.manifests[cid] = entries
	s.mu.Unlock()
	return entries, nil
}
