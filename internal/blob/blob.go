// Package blob implements the local content-addressed blob store.
//
// Objects are stored git-style under objects/ab/cd123..., compressed
// with zstd and fronted by an LRU read cache. Directory adds assign
// identifiers bottom-up: the last emitted result names the enclosing
// manifest.
package blob

import (
	"context"
	"fmt"
	"iter"
	"path"
	"strings"

	"github.com/synctree/synctree"
)

// Add stores content and emits one result per created object. Entries
// with a nil Content stream are directories; file entries carry lazy
// chunk sequences that are drained during the add. Results are emitted
// bottom-up (children before parents), so consumers needing root-first
// order must reverse them.
//
// A single entry with an empty Path and a content stream is stored as
// one blob, unless WrapWithDirectory is set, in which case the entry
// must be named so the wrapping manifest can reference it. Sets of
// named entries always receive an enclosing manifest, so the flag only
// decides the single-unnamed-stream case; consumers that fold results
// into an existing directory rely on that manifest being emitted.
func (s *Store) Add(ctx context.Context, entries []synctree.Entry, opts synctree.AddOptions) iter.Seq2[synctree.AddResult, error] {
	return func(yield func(synctree.AddResult, error) bool) {
		if len(entries) == 1 && entries[0].Path == "" && entries[0].Content != nil && !opts.WrapWithDirectory {
			s.addSingle(ctx, entries[0], opts, yield)
			return
		}

		root, err := buildAddTree(entries)
		if err != nil {
			yield(synctree.AddResult{}, err)
			return
		}

		last, _, ok := s.emit(ctx, root, "", yield)
		if ok && opts.Pin {
			s.pin(last)
		}
	}
}

func (s *Store) addSingle(ctx context.Context, e synctree.Entry, opts synctree.AddOptions, yield func(synctree.AddResult, error) bool) {
	content, err := synctree.Accumulate(e.Content, 0, nil)
	if err != nil {
		yield(synctree.AddResult{}, fmt.Errorf("drain content: %w", err))
		return
	}
	cid, encoded := synctree.EncodeBlob(content)
	if err := s.put(ctx, cid, encoded); err != nil {
		yield(synctree.AddResult{}, err)
		return
	}
	if opts.Pin {
		s.pin(cid)
	}
	yield(synctree.AddResult{CID: cid, Size: int64(len(content))}, nil)
}

// addNode is the staging tree assembled from the entry list before
// objects are written.
type addNode struct {
	name     string
	content  iter.Seq2[[]byte, error]
	dir      bool
	children map[string]*addNode
}

func newDirNode(name string) *addNode {
	return &addNode{name: name, dir: true, children: make(map[string]*addNode)}
}

func buildAddTree(entries []synctree.Entry) (*addNode, error) {
	root := newDirNode("")
	for _, e := range entries {
		rel := strings.Trim(e.Path, "/")
		if rel == "" {
			if e.Content != nil {
				return nil, fmt.Errorf("blob: unnamed file entry requires a name")
			}
			continue // the root itself
		}

		parts := strings.Split(rel, "/")
		current := root
		for _, part := range parts[:len(parts)-1] {
			child, ok := current.children[part]
			if !ok {
				child = newDirNode(part)
				current.children[part] = child
			}
			if !child.dir {
				return nil, fmt.Errorf("blob: %s: not a directory", part)
			}
			current = child
		}

		leaf := parts[len(parts)-1]
		if existing, ok := current.children[leaf]; ok {
			if e.Content == nil && existing.dir {
				continue // directory declared twice
			}
			return nil, fmt.Errorf("blob: duplicate entry %s", rel)
		}
		if e.Content == nil {
			current.children[leaf] = newDirNode(leaf)
		} else {
			current.children[leaf] = &addNode{name: leaf, content: e.Content}
		}
	}
	return root, nil
}

// emit walks the staging tree post-order, writing blobs and manifests
// and yielding a result for each. It returns the CID and cumulative
// content size of n, and whether the walk may continue.
func (s *Store) emit(ctx context.Context, n *addNode, rel string, yield func(synctree.AddResult, error) bool) (synctree.CID, int64, bool) {
	if err := ctx.Err(); err != nil {
		yield(synctree.AddResult{}, err)
		return "", 0, false
	}

	if !n.dir {
		content, err := synctree.Accumulate(n.content, 0, nil)
		if err != nil {
			yield(synctree.AddResult{}, fmt.Errorf("drain %s: %w", rel, err))
			return "", 0, false
		}
		cid, encoded := synctree.EncodeBlob(content)
		if err := s.put(ctx, cid, encoded); err != nil {
			yield(synctree.AddResult{}, err)
			return "", 0, false
		}
		size := int64(len(content))
		if !yield(synctree.AddResult{Path: rel, CID: cid, Size: size}, nil) {
			return "", 0, false
		}
		return cid, size, true
	}

	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	synctree.SortNames(names)

	var manifest []synctree.ManifestEntry
	var total int64
	for _, name := range names {
		child := n.children[name]
		cid, size, ok := s.emit(ctx, child, path.Join(rel, name), yield)
		if !ok {
			return "", 0, false
		}
		total += size
		manifest = append(manifest, synctree.ManifestEntry{
			Name: name,
			CID:  cid,
			Size: size,
			Dir:  child.dir,
		})
	}

	cid, encoded := synctree.EncodeManifest(manifest)
	if err := s.put(ctx, cid, encoded); err != nil {
		yield(synctree.AddResult{}, err)
		return "", 0, false
	}
	if !yield(synctree.AddResult{Path: rel, CID: cid, Size: total, Dir: true}, nil) {
		return "", 0, false
	}
	return cid, total, true
}

// Cat yields the payload behind cid in fixed-size chunks: file content
// for blobs, the entry listing body for manifests.
func (s *Store) Cat(ctx context.Context, cid synctree.CID) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		obj, err := s.object(cid)
		if err != nil {
			yield(nil, err)
			return
		}
		_, content, err := synctree.ParseObject(obj)
		if err != nil {
			yield(nil, fmt.Errorf("%s: %w", cid, err))
			return
		}
		for off := 0; off < len(content); off += s.chunkSize {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			end := min(off+s.chunkSize, len(content))
			if !yield(content[off:end], nil) {
				return
			}
		}
	}
}

// Stat returns the metadata record for cid.
func (s *Store) Stat(_ context.Context, cid synctree.CID) (synctree.Meta, error) {
	obj, err := s.object(cid)
	if err != nil {
		return synctree.Meta{}, err
	}
	dir, content, err := synctree.ParseObject(obj)
	if err != nil {
		return synctree.Meta{}, fmt.Errorf("%s: %w", cid, err)
	}
	return synctree.Meta{Size: int64(len(content)), Dir: dir}, nil
}
