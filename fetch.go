package synctree

import (
	"bytes"
	"context"
	"encoding/base64"
	"iter"

	"go.uber.org/zap"
)

// Progress reports cumulative bytes read against a known total. The
// total is zero when unknown.
type Progress func(read, total int64)

// Accumulate consumes a lazy byte-chunk sequence into one contiguous
// buffer, optionally reporting cumulative progress against total.
func Accumulate(chunks iter.Seq2[[]byte, error], total int64, onProgress Progress) ([]byte, error) {
	var buf bytes.Buffer
	if total > 0 {
		buf.Grow(int(total))
	}
	for chunk, err := range chunks {
		if err != nil {
			return nil, err
		}
		buf.Write(chunk)
		if onProgress != nil {
			onProgress(int64(buf.Len()), total)
		}
	}
	return buf.Bytes(), nil
}

// FetchOptions configures Fetch. A non-nil Suite together with RawKey
// and IV (both base64) enables decryption of the fetched payload.
type FetchOptions struct {
	Suite      Suite
	RawKey     string
	IV         string
	OnProgress Progress
	Logger     *zap.Logger
}

// Fetch reads the full content behind cid from the blob store,
// reporting progress against the size learned from the store's
// metadata lookup. If a cipher bundle is present the payload is
// decrypted; any decryption failure (corrupt key, tampered ciphertext,
// wrong IV) yields empty bytes plus a logged error, never a returned
// error, so one corrupt file cannot take down the caller.
func Fetch(ctx context.Context, store BlobStore, cid CID, opts FetchOptions) ([]byte, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	meta, err := store.Stat(ctx, cid)
	if err != nil {
		return nil, err
	}

	buf, err := Accumulate(store.Cat(ctx, cid), meta.Size, opts.OnProgress)
	if err != nil {
		return nil, err
	}

	if opts.Suite == nil || opts.RawKey == "" {
		return buf, nil
	}

	plain, err := decryptPayload(opts.Suite, buf, opts.RawKey, opts.IV)
	if err != nil {
		log.Error("decryption failed, returning empty content",
			zap.String("cid", cid.String()),
			zap.Error(err))
		return []byte{}, nil
	}
	return plain, nil
}

func decryptPayload(suite Suite, cipherbytes []byte, rawKey, iv string) ([]byte, error) {
	keyBytes, err := base64.StdEncoding.DecodeString(rawKey)
	if err != nil {
		return nil, err
	}
	ivBytes, err := base64.StdEncoding.DecodeString(iv)
	if err != nil {
		return nil, err
	}
	key, err := suite.ImportKey(keyBytes)
	if err != nil {
		return nil, err
	}
	c, err := suite.Create(key)
	if err != nil {
		return nil, err
	}
	return c.Decrypt(cipherbytes, ivBytes)
}
