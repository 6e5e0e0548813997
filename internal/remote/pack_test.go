package remote

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackObjectsRoundTrip(t *testing.T) {
	objects := map[string][]byte{
		"sha256:aa": []byte("alpha"),
		"sha256:bb": {},
		"sha256:cc": []byte("gamma content"),
	}

	layers := packObjects(objects)
	require.Len(t, layers, 1)

	got, err := unpackObjects(layers[0])
	require.NoError(t, err)
	assert.Equal(t, objects, got)
}

func TestPackObjectsDeterministic(t *testing.T) {
	objects := map[string][]byte{
		"sha256:zz": []byte("z"),
		"sha256:aa": []byte("a"),
		"sha256:mm": []byte("m"),
	}
	assert.Equal(t, packObjects(objects), packObjects(objects))
}

func TestPackObjectsEmpty(t *testing.T) {
	assert.Empty(t, packObjects(nil))

	got, err := unpackObjects(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPackObjectsSplitsLayers(t *testing.T) {
	big := make([]byte, layerTargetSize)
	objects := map[string][]byte{
		"sha256:one": big,
		"sha256:two": []byte("small"),
	}

	layers := packObjects(objects)
	require.Len(t, layers, 2)

	merged := make(map[string][]byte)
	for _, layer := range layers {
		part, err := unpackObjects(layer)
		require.NoError(t, err)
		for cid, data := range part {
			merged[cid] = data
		}
	}
	assert.Len(t, merged, 2)
	assert.Len(t, merged["sha256:one"], layerTargetSize)
}

func TestUnpackObjectsTruncated(t *testing.T) {
	objects := map[string][]byte{"sha256:aa": []byte("payload")}
	layer := packObjects(objects)[0]

	for _, cut := range []int{1, 5, len(layer) - 1} {
		_, err := unpackObjects(layer[:cut])
		assert.Error(t, err, fmt.Sprintf("cut at %d", cut))
	}
}

func TestNewRemoteRef(t *testing.T) {
	// A defaulted tag is made explicit in the qualified form.
	r, err := New("ttl.sh/trees/shared")
	require.NoError(t, err)
	assert.Equal(t, "ttl.sh/trees/shared:latest", r.String())

	tagged, err := New("ttl.sh/trees/shared:main")
	require.NoError(t, err)
	assert.Equal(t, "ttl.sh/trees/shared:main", tagged.String())

	_, err = New("UPPER CASE not a ref")
	assert.Error(t, err)
}
