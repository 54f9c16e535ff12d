package json

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/notary/core/commitment"
	"go.dedis.ch/notary/crypto/ed25519"
	"go.dedis.ch/notary/internal/testing/fake"
	"go.dedis.ch/notary/serde/json"
)

func TestRootFormat_Encode(t *testing.T) {
	format := rootFormat{}

	root := commitment.RootWithMetadata{
		MerkleRoot: commitment.Digest{1},
		Metadata: commitment.TransactionMetadata{
			PlatformVersion: 4,
			Algorithm:       "A",
			PublicKey:       []byte{0xaa},
		},
	}

	data, err := format.Encode(json.NewContext(), root)
	require.NoError(t, err)
	expected := `{"MerkleRoot":"01` + strings.Repeat("0", 62) +
		`","PlatformVersion":4,"Algorithm":"A","PublicKey":"qg=="}`
	require.Equal(t, expected, string(data))

	_, err = format.Encode(json.NewContext(), fake.Message{})
	require.EqualError(t, err, "unsupported message of type 'fake.Message'")

	_, err = format.Encode(fake.NewBadContext(), root)
	require.EqualError(t, err, fake.Err("couldn't marshal"))
}

func TestRootFormat_Decode(t *testing.T) {
	format := rootFormat{}

	root := commitment.RootWithMetadata{
		MerkleRoot: commitment.Digest{2},
		Metadata: commitment.TransactionMetadata{
			PlatformVersion: 1,
			Algorithm:       "B",
			PublicKey:       []byte{1, 2},
		},
	}

	data, err := format.Encode(json.NewContext(), root)
	require.NoError(t, err)

	msg, err := format.Decode(json.NewContext(), data)
	require.NoError(t, err)
	require.Equal(t, root, msg)

	_, err = format.Decode(fake.NewBadContext(), data)
	require.EqualError(t, err, fake.Err("couldn't unmarshal"))

	_, err = format.Decode(json.NewContext(), []byte(`{"MerkleRoot":"abc"}`))
	require.Error(t, err)
}

func TestSignatureFormat_RoundTrip(t *testing.T) {
	signer := ed25519.NewSigner()

	meta, err := commitment.NewTransactionMetadata(1, signer.GetPublicKey())
	require.NoError(t, err)

	sig, err := commitment.NewCommitmentSignature(signer, commitment.RootWithMetadata{
		MerkleRoot: commitment.Digest{3},
		Metadata:   meta,
	})
	require.NoError(t, err)

	ctx := json.NewContext()

	data, err := sig.Serialize(ctx)
	require.NoError(t, err)

	msg, err := commitment.SignatureFactory{}.Deserialize(ctx, data)
	require.NoError(t, err)
	require.Equal(t, sig, msg)

	_, err = signatureFormat{}.Encode(ctx, fake.Message{})
	require.EqualError(t, err, "unsupported message of type 'fake.Message'")

	_, err = signatureFormat{}.Encode(fake.NewBadContext(), sig)
	require.EqualError(t, err, fake.Err("couldn't marshal"))

	_, err = signatureFormat{}.Decode(fake.NewBadContext(), data)
	require.EqualError(t, err, fake.Err("couldn't unmarshal"))
}
