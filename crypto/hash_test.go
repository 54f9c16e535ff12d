package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashFactory_New(t *testing.T) {
	for _, algo := range []HashAlgorithm{Sha256, Sha3_256, Blake3} {
		h := NewHashFactory(algo).New()
		require.Equal(t, 32, h.Size(), algo.String())

		_, err := h.Write([]byte("abc"))
		require.NoError(t, err)
		require.Len(t, h.Sum(nil), 32)
	}

	require.Equal(t, 32, NewSha256Factory().New().Size())
}

func TestHashFactory_DistinctOutputs(t *testing.T) {
	sum := func(algo HashAlgorithm) []byte {
		h := NewHashFactory(algo).New()
		h.Write([]byte("abc"))
		return h.Sum(nil)
	}

	require.NotEqual(t, sum(Sha256), sum(Sha3_256))
	require.NotEqual(t, sum(Sha256), sum(Blake3))
	require.NotEqual(t, sum(Sha3_256), sum(Blake3))
}

func TestParseHashAlgorithm(t *testing.T) {
	algo, err := ParseHashAlgorithm("")
	require.NoError(t, err)
	require.Equal(t, Sha256, algo)

	algo, err = ParseHashAlgorithm("BLAKE3")
	require.NoError(t, err)
	require.Equal(t, Blake3, algo)

	algo, err = ParseHashAlgorithm("sha3")
	require.NoError(t, err)
	require.Equal(t, Sha3_256, algo)

	_, err = ParseHashAlgorithm("md5")
	require.EqualError(t, err, "unknown hash algorithm 'md5'")

	require.Equal(t, "unknown", HashAlgorithm(42).String())
}
