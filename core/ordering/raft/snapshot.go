package raft

import (
	"bytes"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
	"golang.org/x/xerrors"
)

// compressSnapshot compresses the state of the state machine and returns the
// checksum of the compressed data.
func compressSnapshot(data []byte) ([]byte, []byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, nil, xerrors.Errorf("couldn't create encoder: %v", err)
	}

	defer encoder.Close()

	compressed := encoder.EncodeAll(data, nil)
	sum := blake3.Sum256(compressed)

	return compressed, sum[:], nil
}

// decompressSnapshot verifies the checksum and returns the uncompressed state.
func decompressSnapshot(data, checksum []byte) ([]byte, error) {
	sum := blake3.Sum256(data)
	if !bytes.Equal(sum[:], checksum) {
		return nil, xerrors.New("checksum mismatch")
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, xerrors.Errorf("couldn't create decoder: %v", err)
	}

	defer decoder.Close()

	res, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, xerrors.Errorf("couldn't decompress: %v", err)
	}

	return res, nil
}
