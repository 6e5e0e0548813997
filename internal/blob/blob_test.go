package blob

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synctree/synctree"
)

func newStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := New(t.TempDir(), opts...)
	require.NoError(t, err)
	return s
}

func drain(t *testing.T, results func(yield func(synctree.AddResult, error) bool)) []synctree.AddResult {
	t.Helper()
	var out []synctree.AddResult
	for r, err := range results {
		require.NoError(t, err)
		out = append(out, r)
	}
	return out
}

func TestAddSingleBlobRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	content := []byte("hello world")

	results := drain(t, s.Add(ctx, []synctree.Entry{{Content: synctree.Bytes(content)}}, synctree.AddOptions{Pin: true}))
	require.Len(t, results, 1)
	cid := results[0].CID
	assert.True(t, cid.Valid())
	assert.Equal(t, int64(len(content)), results[0].Size)
	assert.False(t, results[0].Dir)
	assert.Contains(t, s.Pins(), cid)

	got, err := synctree.Accumulate(s.Cat(ctx, cid), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	meta, err := s.Stat(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), meta.Size)
	assert.False(t, meta.Dir)
}

func TestAddDeduplicates(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	r1 := drain(t, s.Add(ctx, []synctree.Entry{{Content: synctree.Bytes([]byte("same"))}}, synctree.AddOptions{}))
	r2 := drain(t, s.Add(ctx, []synctree.Entry{{Content: synctree.Bytes([]byte("same"))}}, synctree.AddOptions{}))
	assert.Equal(t, r1[0].CID, r2[0].CID)
}

func TestAddDirectoryBottomUp(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	entries := []synctree.Entry{
		{Path: "docs", Content: nil},
		{Path: "docs/readme", Content: synctree.Bytes([]byte("read me"))},
		{Path: "top.txt", Content: synctree.Bytes([]byte("t"))},
	}
	results := drain(t, s.Add(ctx, entries, synctree.AddOptions{Pin: true}))
	require.Len(t, results, 4)

	// Children come before their parents; the last result is the
	// enclosing manifest.
	assert.Equal(t, "docs/readme", results[0].Path)
	assert.Equal(t, "docs", results[1].Path)
	assert.True(t, results[1].Dir)
	assert.Equal(t, "top.txt", results[2].Path)
	root := results[3]
	assert.Equal(t, "", root.Path)
	assert.True(t, root.Dir)
	assert.Equal(t, int64(8), root.Size)
	assert.Contains(t, s.Pins(), root.CID)

	meta, err := s.Stat(ctx, root.CID)
	require.NoError(t, err)
	assert.True(t, meta.Dir)

	body, err := synctree.Accumulate(s.Cat(ctx, root.CID), 0, nil)
	require.NoError(t, err)
	listing, err := synctree.DecodeManifest(body)
	require.NoError(t, err)
	require.Len(t, listing, 2)
	assert.Equal(t, "docs", listing[0].Name)
	assert.True(t, listing[0].Dir)
	assert.Equal(t, results[1].CID, listing[0].CID)
	assert.Equal(t, "top.txt", listing[1].Name)
}

func TestAddNamedSetsAlwaysWrapped(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	entries := func() []synctree.Entry {
		return []synctree.Entry{
			{Path: "a.txt", Content: synctree.Bytes([]byte("aaa"))},
			{Path: "b.txt", Content: synctree.Bytes([]byte("bbb"))},
		}
	}

	plain := drain(t, s.Add(ctx, entries(), synctree.AddOptions{}))
	wrapped := drain(t, s.Add(ctx, entries(), synctree.AddOptions{WrapWithDirectory: true}))

	// Named entry sets get the enclosing manifest either way; the flag
	// only decides the single-unnamed-stream case.
	require.Len(t, plain, 3)
	require.Len(t, wrapped, 3)
	last := plain[len(plain)-1]
	assert.Equal(t, "", last.Path)
	assert.True(t, last.Dir)
	assert.Equal(t, last.CID, wrapped[len(wrapped)-1].CID)

	// A single named entry is wrapped too, with or without the flag.
	single := drain(t, s.Add(ctx, []synctree.Entry{
		{Path: "only.txt", Content: synctree.Bytes([]byte("x"))},
	}, synctree.AddOptions{}))
	require.Len(t, single, 2)
	assert.True(t, single[1].Dir)
}

func TestAddErrors(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	collect := func(entries []synctree.Entry, opts synctree.AddOptions) error {
		for _, err := range s.Add(ctx, entries, opts) {
			if err != nil {
				return err
			}
		}
		return nil
	}

	err := collect([]synctree.Entry{{Content: synctree.Bytes([]byte("x"))}}, synctree.AddOptions{WrapWithDirectory: true})
	assert.ErrorContains(t, err, "requires a name")

	err = collect([]synctree.Entry{
		{Path: "a", Content: synctree.Bytes([]byte("1"))},
		{Path: "a/b", Content: synctree.Bytes([]byte("2"))},
	}, synctree.AddOptions{})
	assert.ErrorContains(t, err, "not a directory")

	err = collect([]synctree.Entry{
		{Path: "a", Content: synctree.Bytes([]byte("1"))},
		{Path: "a", Content: synctree.Bytes([]byte("2"))},
	}, synctree.AddOptions{})
	assert.ErrorContains(t, err, "duplicate entry")
}

func TestCatChunksAndMissing(t *testing.T) {
	s := newStore(t, WithChunkSize(3))
	ctx := context.Background()

	results := drain(t, s.Add(ctx, []synctree.Entry{{Content: synctree.Bytes([]byte("abcdefgh"))}}, synctree.AddOptions{}))
	cid := results[0].CID

	var chunks [][]byte
	for chunk, err := range s.Cat(ctx, cid) {
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}
	require.Len(t, chunks, 3)
	assert.Equal(t, []byte("abc"), chunks[0])
	assert.Equal(t, []byte("gh"), chunks[2])

	for _, err := range s.Cat(ctx, synctree.SumCID([]byte("ghost"))) {
		assert.ErrorIs(t, err, synctree.ErrNotFound)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := New(dir)
	require.NoError(t, err)
	results := drain(t, s1.Add(ctx, []synctree.Entry{{Content: synctree.Bytes([]byte("durable"))}}, synctree.AddOptions{}))
	cid := results[0].CID

	s2, err := New(dir)
	require.NoError(t, err)
	got, err := synctree.Accumulate(s2.Cat(ctx, cid), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("durable"), got)
}

func TestImportObjectVerifies(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	cid, encoded := synctree.EncodeBlob([]byte("imported"))
	require.NoError(t, s.ImportObject(ctx, cid, encoded))

	got, err := synctree.Accumulate(s.Cat(ctx, cid), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("imported"), got)

	err = s.ImportObject(ctx, synctree.SumCID([]byte("other")), encoded)
	assert.ErrorIs(t, err, synctree.ErrInvalidCID)
}

func TestWalkVisitsAllObjects(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	entries := []synctree.Entry{
		{Path: "a", Content: synctree.Bytes([]byte("1"))},
		{Path: "b", Content: synctree.Bytes([]byte("2"))},
	}
	results := drain(t, s.Add(ctx, entries, synctree.AddOptions{}))
	require.Len(t, results, 3)

	seen := make(map[synctree.CID]bool)
	require.NoError(t, s.Walk(func(cid synctree.CID) error {
		seen[cid] = true
		return nil
	}))
	require.Len(t, seen, 3)
	for _, r := range results {
		assert.True(t, seen[r.CID], "missing %s", r.CID)

		encoded, err := s.Object(r.CID)
		require.NoError(t, err)
		assert.Equal(t, r.CID, synctree.SumCID(encoded))
	}
}

func TestObjectPathSharding(t *testing.T) {
	s := newStore(t)
	cid := synctree.SumCID([]byte("x"))
	hex := cid.String()[len("sha256:"):]
	expected := filepath.Join(s.dir, "objects", hex[:2], hex[2:])
	assert.Equal(t, expected, s.objectPath(cid))
}
