package synctree

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const cidPrefix = "sha256:"

// CID is a content identifier (e.g., "sha256:abc123...") naming an
// immutable byte sequence or directory manifest in the blob store.
type CID string

func (c CID) String() string { return string(c) }

// Valid reports whether c is a well-formed identifier.
func (c CID) Valid() bool {
	rest, ok := strings.CutPrefix(string(c), cidPrefix)
	if !ok || len(rest) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(rest)
	return err == nil
}

// Parser validates and constructs content identifiers from their string
// form. It decouples identifier handling from any specific store
// implementation.
type Parser interface {
	Parse(s string) (CID, error)
}

// ParseCID is the default Parser for sha256-based identifiers.
var ParseCID Parser = sha256Parser{}

type sha256Parser struct{}

func (sha256Parser) Parse(s string) (CID, error) {
	c := CID(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidCID, s)
	}
	return c, nil
}

// SumCID computes the identifier of an encoded object.
func SumCID(data []byte) CID {
	h := sha256.Sum256(data)
	return CID(cidPrefix + hex.EncodeToString(h[:]))
}
