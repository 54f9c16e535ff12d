package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/notary/crypto/bls"
	"go.dedis.ch/notary/crypto/ed25519"
)

func TestLoadConfig(t *testing.T) {
	path := writeFile(t, `
address: 127.0.0.1:2000
members: [127.0.0.1:2000, 127.0.0.1:2001]
datadir: /tmp/notary
engine: pebble
hash: blake3
schemes: [bls, CURVE-ED25519]
tolerance: 5s
electiontimeout: 500ms
snapshotthreshold: 100
parties: [alice]
`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:2000", cfg.Listen)
	require.Equal(t, []string{bls.Algorithm, ed25519.Algorithm}, cfg.Schemes)
	require.Equal(t, uint32(defaultPlatformVersion), cfg.PlatformVersion)
	require.Equal(t, 5*time.Second, cfg.Tolerance)
	require.Equal(t, 500*time.Millisecond, cfg.ElectionTimeout)
	require.Equal(t, uint64(100), cfg.SnapshotThreshold)
	require.Equal(t, []string{"alice"}, cfg.Parties)
	require.True(t, cfg.isMember())
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(writeFile(t, "address: A\nmembers: [B]\n"))
	require.NoError(t, err)
	require.Equal(t, "A", cfg.Listen)
	require.Equal(t, []string{ed25519.Algorithm}, cfg.Schemes)
	require.False(t, cfg.isMember())
}

func TestLoadConfig_Failures(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "unknown.yml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to read config file: ")

	_, err = loadConfig(writeFile(t, "address: A\nunknown: 1\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to unmarshal config: ")

	_, err = loadConfig(writeFile(t, "members: [A]\n"))
	require.EqualError(t, err, "invalid config: missing address")

	_, err = loadConfig(writeFile(t, "address: A\n"))
	require.EqualError(t, err, "invalid config: missing members")

	_, err = loadConfig(writeFile(t, "address: A\nmembers: [A]\nschemes: [rsa]\n"))
	require.EqualError(t, err, "invalid config: unknown scheme 'rsa'")

	_, err = loadConfig(writeFile(t, "address: A\nmembers: [A]\nengine: leveldb\n"))
	require.EqualError(t, err, "invalid config: unknown engine 'leveldb'")

	_, err = loadConfig(writeFile(t, "address: A\nmembers: [A]\nhash: md5\n"))
	require.EqualError(t, err, "invalid config: unknown hash algorithm 'md5'")
}

func TestParseScheme(t *testing.T) {
	algo, err := parseScheme("ED25519")
	require.NoError(t, err)
	require.Equal(t, ed25519.Algorithm, algo)

	algo, err = parseScheme(bls.Algorithm)
	require.NoError(t, err)
	require.Equal(t, bls.Algorithm, algo)
}

// -----------------------------------------------------------------------------
// Utility functions

func writeFile(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.yml")

	err := os.WriteFile(path, []byte(content), 0600)
	require.NoError(t, err)

	return path
}
