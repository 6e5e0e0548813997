package synctree

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is a minimal in-memory BlobStore fake serving raw payloads
// in fixed-size chunks.
type memStore struct {
	objects   map[CID][]byte
	chunkSize int
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[CID][]byte), chunkSize: 4}
}

func (m *memStore) put(content []byte) CID {
	cid := SumCID(content)
	m.objects[cid] = content
	return cid
}

func (m *memStore) Add(ctx context.Context, entries []Entry, opts AddOptions) iter.Seq2[AddResult, error] {
	return func(yield func(AddResult, error) bool) {
		for _, e := range entries {
			data, err := Accumulate(e.Content, 0, nil)
			if err != nil {
				yield(AddResult{}, err)
				return
			}
			cid := m.put(data)
			if !yield(AddResult{Path: e.Path, CID: cid, Size: int64(len(data))}, nil) {
				return
			}
		}
	}
}

func (m *memStore) Cat(ctx context.Context, cid CID) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		data, ok := m.objects[cid]
		if !ok {
			yield(nil, fmt.Errorf("%w: %s", ErrNotFound, cid))
			return
		}
		for start := 0; start < len(data); start += m.chunkSize {
			end := min(start+m.chunkSize, len(data))
			if !yield(data[start:end], nil) {
				return
			}
		}
	}
}

func (m *memStore) Stat(ctx context.Context, cid CID) (Meta, error) {
	data, ok := m.objects[cid]
	if !ok {
		return Meta{}, fmt.Errorf("%w: %s", ErrNotFound, cid)
	}
	return Meta{Size: int64(len(data))}, nil
}

func TestAccumulate(t *testing.T) {
	chunks := func(yield func([]byte, error) bool) {
		for _, c := range [][]byte{[]byte("abc"), []byte("de"), []byte("f")} {
			if !yield(c, nil) {
				return
			}
		}
	}

	var reads []int64
	got, err := Accumulate(chunks, 6, func(read, total int64) {
		assert.Equal(t, int64(6), total)
		reads = append(reads, read)
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("abcdef"), got)
	assert.Equal(t, []int64{3, 5, 6}, reads)
}

func TestAccumulatePropagatesError(t *testing.T) {
	boom := errors.New("stream broke")
	chunks := func(yield func([]byte, error) bool) {
		if !yield([]byte("ok"), nil) {
			return
		}
		yield(nil, boom)
	}

	_, err := Accumulate(chunks, 0, nil)
	assert.ErrorIs(t, err, boom)
}

func TestFetchPlain(t *testing.T) {
	store := newMemStore()
	content := []byte("plain payload spanning chunks")
	cid := store.put(content)

	var last, total int64
	got, err := Fetch(context.Background(), store, cid, FetchOptions{
		OnProgress: func(read, tot int64) { last, total = read, tot },
	})
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Equal(t, int64(len(content)), last)
	assert.Equal(t, int64(len(content)), total)
}

func TestFetchMissing(t *testing.T) {
	store := newMemStore()
	_, err := Fetch(context.Background(), store, SumCID([]byte("ghost")), FetchOptions{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetchDecrypts(t *testing.T) {
	suite := GCMSuite{}
	plain := []byte("encrypted payload")
	payload, err := EncryptContent(suite, Bytes(plain))
	require.NoError(t, err)

	store := newMemStore()
	cid := store.put(payload.Cipherbytes)

	got, err := Fetch(context.Background(), store, cid, FetchOptions{
		Suite:  suite,
		RawKey: payload.RawKey,
		IV:     payload.IV,
	})
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestFetchBadKeyYieldsEmpty(t *testing.T) {
	suite := GCMSuite{}
	payload, err := EncryptContent(suite, Bytes([]byte("secret")))
	require.NoError(t, err)

	store := newMemStore()
	cid := store.put(payload.Cipherbytes)

	wrong, err := EncryptContent(suite, Bytes([]byte("other")))
	require.NoError(t, err)

	// A wrong key is recovered, not returned: callers get empty bytes.
	got, err := Fetch(context.Background(), store, cid, FetchOptions{
		Suite:  suite,
		RawKey: wrong.RawKey,
		IV:     payload.IV,
	})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}
