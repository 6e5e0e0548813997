package synctree

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"iter"

	"golang.org/x/crypto/hkdf"
)

// Cipher performs symmetric encryption of byte payloads. Encrypt
// generates a fresh IV per call; Decrypt authenticates before
// returning the plaintext.
type Cipher interface {
	Encrypt(plain []byte) (cipherbytes, iv []byte, err error)
	Decrypt(cipherbytes, iv []byte) ([]byte, error)
}

// Suite is an injected cipher-suite capability: key generation,
// raw-byte import/export and cipher construction.
type Suite interface {
	GenerateKey() ([]byte, error)
	ImportKey(raw []byte) ([]byte, error)
	ExportKey(key []byte) ([]byte, error)
	Create(key []byte) (Cipher, error)
}

const gcmKeyLen = 32

// GCMSuite is the default Suite, backed by AES-256-GCM. Keys are the
// raw 32-byte AES keys; the GCM nonce doubles as the IV.
type GCMSuite struct{}

func (GCMSuite) GenerateKey() ([]byte, error) {
	key := make([]byte, gcmKeyLen)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

func (GCMSuite) ImportKey(raw []byte) ([]byte, error) {
	if len(raw) != gcmKeyLen {
		return nil, fmt.Errorf("synctree: key must be %d bytes, got %d", gcmKeyLen, len(raw))
	}
	key := make([]byte, gcmKeyLen)
	copy(key, raw)
	return key, nil
}

func (GCMSuite) ExportKey(key []byte) ([]byte, error) {
	raw := make([]byte, len(key))
	copy(raw, key)
	return raw, nil
}

func (GCMSuite) Create(key []byte) (Cipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &gcmCipher{aead: aead}, nil
}

type gcmCipher struct {
	aead cipher.AEAD
}

func (c *gcmCipher) Encrypt(plain []byte) ([]byte, []byte, error) {
	iv := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, err
	}
	return c.aead.Seal(nil, iv, plain, nil), iv, nil
}

func (c *gcmCipher) Decrypt(cipherbytes, iv []byte) ([]byte, error) {
	if len(iv) != c.aead.NonceSize() {
		return nil, fmt.Errorf("synctree: bad iv length %d", len(iv))
	}
	return c.aead.Open(nil, iv, cipherbytes, nil)
}

var hkdfInfo = []byte("synctree shared key v1")

// SharedCrypter returns a function deriving a ready cipher from an
// elliptic-curve Diffie-Hellman key agreement: the P-256 shared secret
// is expanded with HKDF-SHA256 and imported into the suite. Two
// parties holding complementary key pairs derive an identical cipher
// without transmitting the secret.
func SharedCrypter(suite Suite) func(pub, priv []byte) (Cipher, error) {
	return func(pub, priv []byte) (Cipher, error) {
		curve := ecdh.P256()
		raw, err := UncompressPub(pub)
		if err != nil {
			return nil, err
		}
		remote, err := curve.NewPublicKey(raw)
		if err != nil {
			return nil, fmt.Errorf("synctree: invalid public key: %w", err)
		}
		local, err := curve.NewPrivateKey(priv)
		if err != nil {
			return nil, fmt.Errorf("synctree: invalid private key: %w", err)
		}
		secret, err := local.ECDH(remote)
		if err != nil {
			return nil, err
		}
		expanded := make([]byte, gcmKeyLen)
		if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, hkdfInfo), expanded); err != nil {
			return nil, err
		}
		key, err := suite.ImportKey(expanded)
		if err != nil {
			return nil, err
		}
		return suite.Create(key)
	}
}

// EncryptedPayload is the output of one EncryptContent call. RawKey
// fully determines confidentiality and must be distributed
// out-of-band; IV and RawKey are base64-encoded for transport. The
// pair is single-use: reusing it for different content is a caller
// error.
type EncryptedPayload struct {
	Cipherbytes []byte
	IV          string
	RawKey      string
}

// EncryptContent accumulates a chunked input into one buffer and
// encrypts it under a freshly generated key. Callers must persist the
// returned RawKey/IV alongside the resulting CID to enable later
// decryption.
func EncryptContent(suite Suite, chunks iter.Seq2[[]byte, error]) (*EncryptedPayload, error) {
	key, err := suite.GenerateKey()
	if err != nil {
		return nil, err
	}
	plain, err := Accumulate(chunks, 0, nil)
	if err != nil {
		return nil, err
	}
	c, err := suite.Create(key)
	if err != nil {
		return nil, err
	}
	cipherbytes, iv, err := c.Encrypt(plain)
	if err != nil {
		return nil, err
	}
	raw, err := suite.ExportKey(key)
	if err != nil {
		return nil, err
	}
	return &EncryptedPayload{
		Cipherbytes: cipherbytes,
		IV:          base64.StdEncoding.EncodeToString(iv),
		RawKey:      base64.StdEncoding.EncodeToString(raw),
	}, nil
}

// VerifyPub reports whether raw is a valid P-256 public key point, in
// either compressed or uncompressed encoding.
func VerifyPub(raw []byte) bool {
	if len(raw) == 0 {
		return false
	}
	curve := elliptic.P256()
	switch raw[0] {
	case 2, 3:
		x, _ := elliptic.UnmarshalCompressed(curve, raw)
		return x != nil
	case 4:
		x, _ := elliptic.Unmarshal(curve, raw)
		return x != nil
	default:
		return false
	}
}

// CompressPub converts an uncompressed P-256 point to its compressed
// encoding. Already-compressed keys are returned unchanged.
func CompressPub(raw []byte) ([]byte, error) {
	if len(raw) > 0 && (raw[0] == 2 || raw[0] == 3) {
		if !VerifyPub(raw) {
			return nil, fmt.Errorf("synctree: invalid public key")
		}
		return raw, nil
	}
	curve := elliptic.P256()
	x, y := elliptic.Unmarshal(curve, raw)
	if x == nil {
		return nil, fmt.Errorf("synctree: invalid public key")
	}
	return elliptic.MarshalCompressed(curve, x, y), nil
}

// UncompressPub converts a compressed P-256 point to its uncompressed
// encoding. Already-uncompressed keys are returned unchanged.
func UncompressPub(raw []byte) ([]byte, error) {
	if len(raw) > 0 && raw[0] == 4 {
		if !VerifyPub(raw) {
			return nil, fmt.Errorf("synctree: invalid public key")
		}
		return raw, nil
	}
	curve := elliptic.P256()
	x, y := elliptic.UnmarshalCompressed(curve, raw)
	if x == nil {
		return nil, fmt.Errorf("synctree: invalid public key")
	}
	return elliptic.Marshal(curve, x, y), nil
}
