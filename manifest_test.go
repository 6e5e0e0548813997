package synctree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBlobRoundTrip(t *testing.T) {
	content := []byte("file content")
	cid, encoded := EncodeBlob(content)
	assert.True(t, cid.Valid())
	assert.Equal(t, SumCID(encoded), cid)

	dir, body, err := ParseObject(encoded)
	require.NoError(t, err)
	assert.False(t, dir)
	assert.Equal(t, content, body)
}

func TestEncodeManifestRoundTrip(t *testing.T) {
	fileCID, _ := EncodeBlob([]byte("a"))
	entries := []ManifestEntry{
		{Name: "Zebra.txt", CID: fileCID, Size: 1},
		{Name: "apple", CID: SumCID([]byte("m")), Size: 42, Dir: true},
	}

	cid, encoded := EncodeManifest(entries)
	assert.True(t, cid.Valid())
	assert.Equal(t, SumCID(encoded), cid)

	dir, body, err := ParseObject(encoded)
	require.NoError(t, err)
	assert.True(t, dir)

	decoded, err := DecodeManifest(body)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	// Entries come back in collation order.
	assert.Equal(t, "apple", decoded[0].Name)
	assert.True(t, decoded[0].Dir)
	assert.Equal(t, int64(42), decoded[0].Size)
	assert.Equal(t, "Zebra.txt", decoded[1].Name)
	assert.Equal(t, fileCID, decoded[1].CID)
}

func TestEncodeManifestOrderIndependent(t *testing.T) {
	a := ManifestEntry{Name: "a", CID: SumCID([]byte("a")), Size: 1}
	b := ManifestEntry{Name: "b", CID: SumCID([]byte("b")), Size: 2, Dir: true}

	cid1, _ := EncodeManifest([]ManifestEntry{a, b})
	cid2, _ := EncodeManifest([]ManifestEntry{b, a})
	assert.Equal(t, cid1, cid2)
}

func TestEncodeManifestEmpty(t *testing.T) {
	cid, encoded := EncodeManifest(nil)
	assert.True(t, cid.Valid())

	dir, body, err := ParseObject(encoded)
	require.NoError(t, err)
	assert.True(t, dir)
	assert.Empty(t, body)

	decoded, err := DecodeManifest(body)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestParseObjectRejectsGarbage(t *testing.T) {
	_, _, err := ParseObject([]byte("no terminator"))
	require.Error(t, err)

	_, _, err = ParseObject([]byte("commit 3\x00abc"))
	require.Error(t, err)
}
