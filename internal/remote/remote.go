// Package remote shares materialized snapshots through OCI registries.
//
// A snapshot is pushed as an image whose layers pack the encoded blob
// set and whose config labels carry the root CID; any peer that can
// pull the tag can rebuild the tree from its root identifier.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/klauspost/compress/zstd"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

const (
	// DefaultConcurrency bounds parallel layer transfers.
	DefaultConcurrency = 4

	rootLabel = "org.synctree.root"
)

// Remote pushes and pulls snapshots against one registry reference.
type Remote struct {
	ref         name.Reference
	auth        authn.Authenticator
	concurrency int
	log         *zap.Logger
}

// Option configures a Remote.
type Option func(*Remote)

// WithConcurrency sets the number of parallel layer transfers.
func WithConcurrency(n int) Option {
	return func(r *Remote) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithBasicAuth sets explicit registry credentials instead of the
// default keychain.
func WithBasicAuth(username, password string) Option {
	return func(r *Remote) {
		r.auth = &authn.Basic{Username: username, Password: password}
	}
}

// WithLogger sets the remote logger.
func WithLogger(log *zap.Logger) Option {
	return func(r *Remote) {
		if log != nil {
			r.log = log
		}
	}
}

// New creates a remote from a standard image ref (e.g.,
// "ttl.sh/trees/shared:main").
func New(imageRef string, opts ...Option) (*Remote, error) {
	ref, err := name.ParseReference(imageRef, name.WithDefaultTag("latest"))
	if err != nil {
		return nil, fmt.Errorf("invalid image ref %q: %w", imageRef, err)
	}
	r := &Remote{
		ref:         ref,
		concurrency: DefaultConcurrency,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// String returns the fully-qualified reference, with the defaulted tag
// made explicit.
func (r *Remote) String() string { return r.ref.Name() }

// snapshotLayer implements v1.Layer over a packed object buffer,
// zstd-compressed for transfer.
type snapshotLayer struct {
	compressed   []byte
	uncompressed []byte
}

var layerEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))

func newSnapshotLayer(data []byte) *snapshotLayer {
	return &snapshotLayer{
		compressed:   layerEncoder.EncodeAll(data, nil),
		uncompressed: data,
	}
}

func (l *snapshotLayer) Digest() (v1.Hash, error) {
	h, _, err := v1.SHA256(bytes.NewReader(l.compressed))
	return h, err
}

func (l *snapshotLayer) DiffID() (v1.Hash, error) {
	h, _, err := v1.SHA256(bytes.NewReader(l.uncompressed))
	return h, err
}

func (l *snapshotLayer) Compressed() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.compressed)), nil
}

func (l *snapshotLayer) Uncompressed() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.uncompressed)), nil
}

func (l *snapshotLayer) Size() (int64, error)                { return int64(len(l.compressed)), nil }
func (l *snapshotLayer) MediaType() (types.MediaType, error) { return types.OCILayerZStd, nil }

// Push uploads a root CID and its encoded object set, keyed by
// identifier.
func (r *Remote) Push(ctx context.Context, rootCID string, objects map[string][]byte) error {
	packed := packObjects(objects)
	r.log.Info("pushing snapshot",
		zap.String("ref", r.String()),
		zap.String("root", rootCID),
		zap.Int("objects", len(objects)),
		zap.Int("layers", len(packed)))

	layers := make([]v1.Layer, len(packed))
	repo := r.ref.Context()
	options := r.remoteOptions(ctx)

	p := pool.New().WithMaxGoroutines(r.concurrency).WithContext(ctx).WithCancelOnError()
	for i, data := range packed {
		p.Go(func(ctx context.Context) error {
			layer := newSnapshotLayer(data)
			layers[i] = layer
			_, err := retry(ctx, 3, func() (struct{}, error) {
				return struct{}{}, remote.WriteLayer(repo, layer, options...)
			})
			return err
		})
	}
	if err := p.Wait(); err != nil {
		return fmt.Errorf("upload layers: %w", err)
	}

	img, err := buildImage(layers, rootCID)
	if err != nil {
		return fmt.Errorf("build image: %w", err)
	}
	if _, err := retry(ctx, 3, func() (struct{}, error) {
		return struct{}{}, remote.Write(r.ref, img, options...)
	}); err != nil {
		return fmt.Errorf("push image: %w", err)
	}
	return nil
}

// Pull downloads the current snapshot: its root CID and every packed
// object.
func (r *Remote) Pull(ctx context.Context) (string, map[string][]byte, error) {
	options := r.remoteOptions(ctx)
	img, err := retry(ctx, 3, func() (v1.Image, error) {
		return remote.Image(r.ref, options...)
	})
	if err != nil {
		return "", nil, fmt.Errorf("fetch image: %w", err)
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return "", nil, fmt.Errorf("get config: %w", err)
	}
	rootCID := cfg.Config.Labels[rootLabel]
	if rootCID == "" {
		return "", nil, fmt.Errorf("missing %s label on %s", rootLabel, r.String())
	}

	layers, err := img.Layers()
	if err != nil {
		return "", nil, fmt.Errorf("get layers: %w", err)
	}

	var mu sync.Mutex
	objects := make(map[string][]byte)
	p := pool.New().WithMaxGoroutines(r.concurrency).WithContext(ctx).WithCancelOnError()
	for _, layer := range layers {
		p.Go(func(ctx context.Context) error {
			rc, err := layer.Uncompressed()
			if err != nil {
				return fmt.Errorf("open layer: %w", err)
			}
			data, err := io.ReadAll(rc)
			if cerr := rc.Close(); cerr != nil && err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("read layer: %w", err)
			}

			unpacked, err := unpackObjects(data)
			if err != nil {
				return fmt.Errorf("unpack layer: %w", err)
			}
			mu.Lock()
			for cid, obj := range unpacked {
				objects[cid] = obj
			}
			mu.Unlock()
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return "", nil, err
	}

	r.log.Info("pulled snapshot",
		zap.String("ref", r.String()),
		zap.String("root", rootCID),
		zap.Int("objects", len(objects)))
	return rootCID, objects, nil
}

func buildImage(layers []v1.Layer, rootCID string) (v1.Image, error) {
	img := empty.Image
	if len(layers) > 0 {
		var err error
		img, err = mutate.AppendLayers(img, layers...)
		if err != nil {
			return nil, err
		}
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return nil, err
	}
	cfg.Config.Labels = map[string]string{rootLabel: rootCID}
	return mutate.ConfigFile(img, cfg)
}

func (r *Remote) remoteOptions(ctx context.Context) []remote.Option {
	opts := []remote.Option{remote.WithContext(ctx), remote.WithJobs(r.concurrency)}
	if r.auth != nil {
		return append(opts, remote.WithAuth(r.auth))
	}
	return append(opts, remote.WithAuthFromKeychain(authn.DefaultKeychain))
}

func retry[T any](ctx context.Context, maxAttempts int, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for i := range maxAttempts {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if i < maxAttempts-1 {
			delay := time.Duration(1<<i) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return zero, lastErr
}
