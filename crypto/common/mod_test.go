package common

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/notary/crypto/bls"
	"go.dedis.ch/notary/crypto/ed25519"
	"golang.org/x/xerrors"
)

func TestRegistry_Algorithms(t *testing.T) {
	reg := NewRegistry()

	require.Equal(t, []string{bls.Algorithm, ed25519.Algorithm}, reg.Algorithms())
	require.Empty(t, NewEmptyRegistry().Algorithms())
}

func TestRegistry_PublicKeyOf(t *testing.T) {
	reg := NewRegistry()

	for _, pk := range []interface {
		MarshalBinary() ([]byte, error)
		GetAlgorithm() string
		Equal(interface{}) bool
	}{ed25519.NewSigner().GetPublicKey(), bls.NewSigner().GetPublicKey()} {
		data, err := pk.MarshalBinary()
		require.NoError(t, err)

		res, err := reg.PublicKeyOf(pk.GetAlgorithm(), data)
		require.NoError(t, err)
		require.True(t, pk.Equal(res))
	}

	_, err := reg.PublicKeyOf("unknown", []byte{1})
	require.True(t, xerrors.Is(err, ErrUnsupportedAlgorithm))
	require.EqualError(t, err, "algorithm 'unknown': unsupported algorithm")

	_, err = reg.PublicKeyOf(ed25519.Algorithm, nil)
	require.True(t, xerrors.Is(err, ErrInvalidPublicKey))

	_, err = reg.PublicKeyOf(ed25519.Algorithm, []byte{1, 2, 3})
	require.True(t, xerrors.Is(err, ErrInvalidPublicKey))
}

func TestRegistry_SignatureOf(t *testing.T) {
	reg := NewRegistry()

	sig, err := ed25519.NewSigner().Sign([]byte("ping"))
	require.NoError(t, err)

	data, err := sig.MarshalBinary()
	require.NoError(t, err)

	res, err := reg.SignatureOf(ed25519.Algorithm, data)
	require.NoError(t, err)
	require.True(t, sig.Equal(res))

	_, err = reg.SignatureOf(ed25519.Algorithm, nil)
	require.True(t, xerrors.Is(err, ErrMalformedSignature))

	_, err = reg.SignatureOf(ed25519.Algorithm, []byte{1})
	require.True(t, xerrors.Is(err, ErrMalformedSignature))

	_, err = reg.SignatureOf(bls.Algorithm, []byte{1})
	require.True(t, xerrors.Is(err, ErrMalformedSignature))

	_, err = reg.SignatureOf("unknown", data)
	require.True(t, xerrors.Is(err, ErrUnsupportedAlgorithm))
}

func TestNegotiate(t *testing.T) {
	algo, err := Negotiate([]string{ed25519.Algorithm, bls.Algorithm}, nil)
	require.NoError(t, err)
	require.Equal(t, ed25519.Algorithm, algo)

	algo, err = Negotiate([]string{ed25519.Algorithm, bls.Algorithm}, []string{bls.Algorithm})
	require.NoError(t, err)
	require.Equal(t, bls.Algorithm, algo)

	algo, err = Negotiate([]string{bls.Algorithm, ed25519.Algorithm},
		[]string{ed25519.Algorithm, bls.Algorithm})
	require.NoError(t, err)
	require.Equal(t, bls.Algorithm, algo)

	_, err = Negotiate([]string{ed25519.Algorithm}, []string{"RSA"})
	require.True(t, xerrors.Is(err, ErrNoCommonAlgorithm))

	_, err = Negotiate(nil, []string{"RSA"})
	require.True(t, xerrors.Is(err, ErrNoCommonAlgorithm))
}
