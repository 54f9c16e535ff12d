package json

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/notary/core/commitment"
	"go.dedis.ch/notary/core/uniqueness/types"
	"go.dedis.ch/notary/internal/testing/fake"
	"go.dedis.ch/notary/serde"
	"go.dedis.ch/notary/serde/json"
)

func TestMsgFormat_Encode(t *testing.T) {
	format := msgFormat{}
	ctx := json.NewContext()

	cmd := types.CommitCommand{
		TxID:   commitment.Digest{1},
		Inputs: []types.InputReference{{TxID: commitment.Digest{2}, Index: 3}},
		Party:  "alice",
	}

	data, err := format.Encode(ctx, cmd)
	require.NoError(t, err)

	expected := `{"Command":{"TxID":"01` + strings.Repeat("0", 62) +
		`","Inputs":[{"TxID":"02` + strings.Repeat("0", 62) +
		`","Index":3}],"Party":"alice"}}`
	require.Equal(t, expected, string(data))

	_, err = format.Encode(ctx, fake.Message{})
	require.EqualError(t, err, "unsupported message of type 'fake.Message'")

	_, err = format.Encode(fake.NewBadContext(), cmd)
	require.EqualError(t, err, fake.Err("couldn't marshal"))
}

func TestMsgFormat_RoundTrip(t *testing.T) {
	format := msgFormat{}
	ctx := json.NewContext()

	input := types.InputReference{TxID: commitment.Digest{2}, Index: 3}

	entry := types.CommitLogEntry{
		Input:       input,
		CommittedBy: commitment.Digest{1},
		LogIndex:    5,
		LogTerm:     2,
		Party:       "alice",
	}

	msgs := []serde.Message{
		entry,
		types.CommitCommand{
			TxID:   commitment.Digest{1},
			Inputs: []types.InputReference{input, {Index: 1}},
		},
		types.CommitOutcome{},
		types.CommitOutcome{
			Conflicts: []types.Conflict{{Input: input, CommittedBy: commitment.Digest{9}}},
		},
		types.CommitOutcome{Reason: "invalid command"},
		types.IndexSnapshot{Entries: []types.CommitLogEntry{entry, entry}},
	}

	for _, msg := range msgs {
		data, err := format.Encode(ctx, msg)
		require.NoError(t, err)

		decoded, err := format.Decode(ctx, data)
		require.NoError(t, err)
		require.Equal(t, msg, decoded)
	}
}

func TestMsgFormat_Decode(t *testing.T) {
	format := msgFormat{}

	_, err := format.Decode(json.NewContext(), []byte(`{}`))
	require.EqualError(t, err, "message is empty")

	_, err = format.Decode(fake.NewBadContext(), []byte(`{}`))
	require.EqualError(t, err, fake.Err("couldn't unmarshal"))

	_, err = format.Decode(json.NewContext(), []byte(`{"Command":{"TxID":"zz"}}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "couldn't unmarshal: ")

	msg, err := format.Decode(json.NewContext(), []byte(`{"Snapshot":{"Entries":[]}}`))
	require.NoError(t, err)
	require.Equal(t, types.IndexSnapshot{}, msg)
}

func TestMessageFactory_Deserialize(t *testing.T) {
	ctx := json.NewContext()

	cmd := types.CommitCommand{
		TxID:   commitment.Digest{1},
		Inputs: []types.InputReference{{Index: 1}},
	}

	data, err := cmd.Serialize(ctx)
	require.NoError(t, err)

	msg, err := types.MessageFactory{}.Deserialize(ctx, data)
	require.NoError(t, err)
	require.Equal(t, cmd, msg)
}
