package blob

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/synctree/synctree"
)

const (
	defaultCacheSize = 512
	defaultChunkSize = 256 * 1024
)

// Store is a filesystem-backed content-addressed object store.
type Store struct {
	dir       string
	chunkSize int
	log       *zap.Logger

	encoder *zstd.Encoder
	decoder *zstd.Decoder
	cache   *lru.Cache[synctree.CID, []byte]

	pinMu sync.Mutex
	pins  map[synctree.CID]struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithCacheSize sets the number of decoded objects kept in memory.
func WithCacheSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			if cache, err := lru.New[synctree.CID, []byte](n); err == nil {
				s.cache = cache
			}
		}
	}
}

// WithChunkSize sets the chunk size used by Cat.
func WithChunkSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// New creates or opens a store rooted at dir.
func New(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "objects"), 0755); err != nil {
		return nil, fmt.Errorf("create object dir: %w", err)
	}

	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, err
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[synctree.CID, []byte](defaultCacheSize)
	if err != nil {
		return nil, err
	}

	s := &Store{
		dir:       dir,
		chunkSize: defaultChunkSize,
		log:       zap.NewNop(),
		encoder:   encoder,
		decoder:   decoder,
		cache:     cache,
		pins:      make(map[synctree.CID]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

var _ synctree.BlobStore = (*Store)(nil)

// put writes an encoded object under its identifier. Existing objects
// are left untouched.
func (s *Store) put(ctx context.Context, cid synctree.CID, encoded []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p := s.objectPath(cid)
	if _, err := os.Stat(p); err == nil {
		s.cache.Add(cid, encoded)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("create shard dir: %w", err)
	}
	compressed := s.encoder.EncodeAll(encoded, make([]byte, 0, len(encoded)))
	if err := os.WriteFile(p, compressed, 0644); err != nil {
		return fmt.Errorf("write object %s: %w", cid, err)
	}
	s.cache.Add(cid, encoded)
	s.log.Debug("object stored",
		zap.String("cid", cid.String()),
		zap.Int("bytes", len(encoded)))
	return nil
}

// object loads a raw encoded object by identifier.
func (s *Store) object(cid synctree.CID) ([]byte, error) {
	if obj, ok := s.cache.Get(cid); ok {
		return obj, nil
	}

	compressed, err := os.ReadFile(s.objectPath(cid))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: object %s", synctree.ErrNotFound, cid)
		}
		return nil, fmt.Errorf("read object %s: %w", cid, err)
	}
	obj, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress object %s: %w", cid, err)
	}

	s.cache.Add(cid, obj)
	return obj, nil
}

func (s *Store) pin(cid synctree.CID) {
	s.pinMu.Lock()
	s.pins[cid] = struct{}{}
	s.pinMu.Unlock()
}

// Pins returns the identifiers pinned as roots.
func (s *Store) Pins() []synctree.CID {
	s.pinMu.Lock()
	defer s.pinMu.Unlock()
	out := make([]synctree.CID, 0, len(s.pins))
	for cid := range s.pins {
		out = append(out, cid)
	}
	return out
}

// Object returns the raw encoded form of a stored object, for
// transfer to a remote peer.
func (s *Store) Object(cid synctree.CID) ([]byte, error) {
	return s.object(cid)
}

// ImportObject stores a raw encoded object received from a peer,
// verifying that it matches its claimed identifier.
func (s *Store) ImportObject(ctx context.Context, cid synctree.CID, encoded []byte) error {
	if sum := synctree.SumCID(encoded); sum != cid {
		return fmt.Errorf("%w: object %s hashes to %s", synctree.ErrInvalidCID, cid, sum)
	}
	return s.put(ctx, cid, encoded)
}

// Walk calls fn for every object on disk. It is used to collect the
// transfer set for a remote push.
func (s *Store) Walk(fn func(cid synctree.CID) error) error {
	objectsDir := filepath.Join(s.dir, "objects")
	return filepath.WalkDir(objectsDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(objectsDir, p)
		if err != nil {
			return err
		}
		hex := strings.ReplaceAll(filepath.ToSlash(rel), "/", "")
		return fn(synctree.CID("sha256:" + hex))
	})
}

// objectPath shards objects git-style: objects/ab/cd123...
func (s *Store) objectPath(cid synctree.CID) string {
	hex := strings.TrimPrefix(cid.String(), "sha256:")
	if len(hex) < 4 {
		return filepath.Join(s.dir, "objects", hex)
	}
	return filepath.Join(s.dir, "objects", hex[:2], hex[2:])
}
