package raft

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"
)

func TestSnapshot_CompressDecompress(t *testing.T) {
	data := bytes.Repeat([]byte("notary"), 1000)

	compressed, checksum, err := compressSnapshot(data)
	require.NoError(t, err)
	require.Less(t, len(compressed), len(data))
	require.Len(t, checksum, 32)

	res, err := decompressSnapshot(compressed, checksum)
	require.NoError(t, err)
	require.Equal(t, data, res)

	compressed, checksum, err = compressSnapshot(nil)
	require.NoError(t, err)

	res, err = decompressSnapshot(compressed, checksum)
	require.NoError(t, err)
	require.Empty(t, res)
}

func TestSnapshot_BadChecksum(t *testing.T) {
	compressed, checksum, err := compressSnapshot([]byte("notary"))
	require.NoError(t, err)

	checksum[0] ^= 0xff

	_, err = decompressSnapshot(compressed, checksum)
	require.EqualError(t, err, "checksum mismatch")

	_, err = decompressSnapshot([]byte("garbage"), nil)
	require.EqualError(t, err, "checksum mismatch")
}

func TestSnapshot_Malformed(t *testing.T) {
	data := []byte("not zstd")
	sum := blake3.Sum256(data)

	_, err := decompressSnapshot(data, sum[:])
	require.Error(t, err)
	require.Contains(t, err.Error(), "couldn't decompress: ")
}
