package synctree

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// materialize re-derives the canonical identifier for the subtree at
// p. A file resolves to its stored identifier; a directory resolves to
// the manifest CID assigned bottom-up by the blob store's directory
// add.
func (t *Tree) materialize(ctx context.Context, p string) (CID, error) {
	switch t.index.Content(p) {
	case KindFile:
		return t.fileCID(p), nil
	case KindDir:
		return t.dirCID(ctx, p)
	default:
		return "", fmt.Errorf("%w: %s", ErrNotFound, p)
	}
}

// fileCID parses the identifier stored for a file path. Malformed or
// missing values map to the empty-content identifier, never a crash.
func (t *Tree) fileCID(p string) CID {
	stored, err := t.index.Read(p)
	if err != nil {
		t.log.Warn("stored identifier unreadable, using empty content",
			zap.String("path", p),
			zap.Error(err))
		return t.emptyCID
	}
	cid, err := t.parser.Parse(stored)
	if err != nil {
		t.log.Warn("stored identifier invalid, using empty content",
			zap.String("path", p),
			zap.String("stored", stored))
		return t.emptyCID
	}
	return cid
}

// dirCID enumerates every descendant of p, builds the structured entry
// sequence (file entries carrying lazy byte streams keyed by their
// parsed-or-fallback identifiers, directory entries carrying none) and
// submits it to the blob store's directory add. The last emitted
// result is the manifest CID for the subtree.
func (t *Tree) dirCID(ctx context.Context, p string) (CID, error) {
	descendants, err := t.index.Tree(p)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", p, err)
	}

	entries := make([]Entry, 0, len(descendants)+1)
	entries = append(entries, Entry{}) // the target directory itself
	for _, d := range descendants {
		rel := relPath(p, d)
		switch t.index.Content(d) {
		case KindDir:
			entries = append(entries, Entry{Path: rel})
		case KindFile:
			entries = append(entries, Entry{
				Path:    rel,
				Content: t.store.Cat(ctx, t.fileCID(d)),
			})
		}
	}

	var last AddResult
	n := 0
	for r, err := range t.store.Add(ctx, entries, AddOptions{Pin: p == RootPath}) {
		if err != nil {
			return "", fmt.Errorf("add %s: %w", p, err)
		}
		last = r
		n++
	}
	if n == 0 {
		return "", fmt.Errorf("add %s: no results emitted", p)
	}
	return last.CID, nil
}

func relPath(base, p string) string {
	if base == RootPath {
		return strings.TrimPrefix(p, "/")
	}
	return strings.TrimPrefix(strings.TrimPrefix(p, base), "/")
}
