package bls

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/notary/internal/testing/fake"
)

func TestPublicKey_New(t *testing.T) {
	signer := NewSigner()

	buffer, err := signer.GetPublicKey().MarshalBinary()
	require.NoError(t, err)

	pk, err := NewPublicKey(buffer)
	require.NoError(t, err)
	require.True(t, pk.Equal(signer.GetPublicKey()))
	require.Equal(t, Algorithm, pk.GetAlgorithm())

	_, err = NewPublicKey([]byte{1, 2, 3})
	require.Error(t, err)
	require.Contains(t, err.Error(), "couldn't unmarshal point")
}

func TestPublicKey_Verify(t *testing.T) {
	signer := NewSigner()

	sig, err := signer.Sign([]byte("ping"))
	require.NoError(t, err)

	require.NoError(t, signer.GetPublicKey().Verify([]byte("ping"), sig))

	err = signer.GetPublicKey().Verify([]byte("pong"), sig)
	require.Error(t, err)
	require.Contains(t, err.Error(), "bls verify failed")

	err = signer.GetPublicKey().Verify([]byte("ping"), fake.Signature{})
	require.EqualError(t, err, "invalid signature type 'fake.Signature'")
}

func TestPublicKey_Equal(t *testing.T) {
	signer := NewSigner()

	require.True(t, signer.GetPublicKey().Equal(signer.GetPublicKey()))
	require.False(t, signer.GetPublicKey().Equal(NewSigner().GetPublicKey()))
	require.False(t, signer.GetPublicKey().Equal(fake.PublicKey{}))
}

func TestPublicKey_String(t *testing.T) {
	pk := NewSigner().GetPublicKey()

	require.Regexp(t, "^bls:[0-9a-f]{16}$", pk.String())
}

func TestSignatureFactory_FromBytes(t *testing.T) {
	sig, err := NewSigner().Sign([]byte("ping"))
	require.NoError(t, err)

	buffer, err := sig.MarshalBinary()
	require.NoError(t, err)

	sig2, err := NewSignatureFactory().FromBytes(buffer)
	require.NoError(t, err)
	require.True(t, sig.Equal(sig2))

	_, err = NewSignatureFactory().FromBytes([]byte{1, 2, 3})
	require.Error(t, err)
	require.Contains(t, err.Error(), "couldn't unmarshal point")
}

func TestPublicKeyFactory_FromBytes(t *testing.T) {
	pk := NewSigner().GetPublicKey()
	buffer, err := pk.MarshalBinary()
	require.NoError(t, err)

	pk2, err := NewPublicKeyFactory().FromBytes(buffer)
	require.NoError(t, err)
	require.True(t, pk.Equal(pk2))

	_, err = NewPublicKeyFactory().FromBytes(nil)
	require.Error(t, err)
}

func TestSigner_MarshalBinary(t *testing.T) {
	signer := NewSigner()

	data, err := signer.MarshalBinary()
	require.NoError(t, err)

	restored, err := NewSignerFromBytes(data)
	require.NoError(t, err)
	require.True(t, signer.GetPublicKey().Equal(restored.GetPublicKey()))

	_, err = NewSignerFromBytes(nil)
	require.Error(t, err)
}
