package synctree

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCIDValid(t *testing.T) {
	valid := SumCID([]byte("hello"))
	assert.True(t, valid.Valid())

	testCases := []struct {
		name string
		cid  CID
	}{
		{"empty", ""},
		{"missing prefix", CID(strings.Repeat("a", 64))},
		{"wrong prefix", "sha512:" + CID(strings.Repeat("a", 64))},
		{"short digest", "sha256:abc123"},
		{"non-hex digest", CID("sha256:" + strings.Repeat("z", 64))},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.False(t, tc.cid.Valid())
		})
	}
}

func TestParseCID(t *testing.T) {
	want := SumCID([]byte("content"))
	got, err := ParseCID.Parse(want.String())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = ParseCID.Parse("not-a-cid")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCID)
}

func TestSumCIDDeterministic(t *testing.T) {
	a := SumCID([]byte("same bytes"))
	b := SumCID([]byte("same bytes"))
	c := SumCID([]byte("other bytes"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
