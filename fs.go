package synctree

import (
	"context"
	"iter"
)

// Kind classifies what the tree index holds at a path.
type Kind uint8

const (
	KindAbsent Kind = iota
	KindFile
	KindDir
)

// Entry is a named item submitted to BlobStore.Add. Directory entries
// carry a nil Content stream; file entries carry a lazy byte-chunk
// sequence. Path is relative to the added set; an empty Path names the
// set's own root.
type Entry struct {
	Path    string
	Content iter.Seq2[[]byte, error]
}

// AddResult is one emitted result of BlobStore.Add.
type AddResult struct {
	Path string
	CID  CID
	Size int64
	Dir  bool
}

// AddOptions configures BlobStore.Add.
type AddOptions struct {
	// Pin marks the resulting objects as roots excluded from GC.
	Pin bool
	// WrapWithDirectory encloses the added entries in an extra
	// unnamed directory whose manifest is emitted last.
	WrapWithDirectory bool
}

// Meta is the metadata record of a stored object.
type Meta struct {
	Size int64
	Dir  bool
}

// BlobStore is the content-addressed storage collaborator. Add emits
// results bottom-up: the last result identifies the enclosing manifest
// (or the single added blob).
type BlobStore interface {
	Add(ctx context.Context, entries []Entry, opts AddOptions) iter.Seq2[AddResult, error]
	Cat(ctx context.Context, cid CID) iter.Seq2[[]byte, error]
	Stat(ctx context.Context, cid CID) (Meta, error)
}

// Index is the replicated tree index collaborator holding the
// authoritative logical path to entry mapping.
type Index interface {
	Exists(path string) bool
	Content(path string) Kind
	Read(path string) (string, error)
	Tree(path string) ([]string, error)
	Ls(path string) ([]string, error)
	JoinPath(parent, name string) string

	Mkdir(parent, name string) error
	Mk(parent, name string) error
	Write(path, id string) error
	Rm(path string) error
	Rmdir(path string) error

	Load() error
	Close() error
	Drop() error

	// Address is an opaque network/identity handle, passed through
	// unchanged.
	Address() string

	// OnReplicated registers fn to run whenever remote state merges
	// in. The returned func cancels the registration.
	OnReplicated(fn func()) (cancel func())
}

// Bytes adapts a byte slice into the chunk-sequence form used by
// Entry.Content and BlobStore.Cat.
func Bytes(b []byte) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		if len(b) == 0 {
			return
		}
		yield(b, nil)
	}
}
