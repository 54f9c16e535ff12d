package json

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/notary/core/ordering/raft/types"
	"go.dedis.ch/notary/internal/testing/fake"
	"go.dedis.ch/notary/serde"
	"go.dedis.ch/notary/serde/json"
)

func TestMsgFormat_RoundTrip(t *testing.T) {
	msgs := []serde.Message{
		types.RequestVote{Term: 2, Candidate: "A", LastLogIndex: 3, LastLogTerm: 1},
		types.VoteReply{Term: 2, Granted: true},
		types.AppendEntries{
			Term:         3,
			Leader:       "B",
			PrevLogIndex: 4,
			PrevLogTerm:  2,
			Entries: []types.Entry{
				{Index: 5, Term: 3, Type: types.EntryNoOp},
				{Index: 6, Term: 3, Type: types.EntryCommand, ID: "abc", Data: []byte{1}},
			},
			LeaderCommit: 4,
		},
		types.AppendEntries{Term: 1, Leader: "C"},
		types.AppendReply{Term: 3, Success: true, Index: 6},
		types.InstallSnapshot{
			Term:      4,
			Leader:    "D",
			LastIndex: 10,
			LastTerm:  3,
			Data:      []byte{1, 2},
			Checksum:  []byte{3},
		},
		types.SnapshotReply{Term: 4, Success: true},
	}

	ctx := json.NewContext()
	fac := types.NewMessageFactory()

	for _, msg := range msgs {
		data, err := msg.Serialize(ctx)
		require.NoError(t, err)

		res, err := fac.Deserialize(ctx, data)
		require.NoError(t, err)
		require.Equal(t, msg, res)
	}
}

func TestMsgFormat_Encode(t *testing.T) {
	format := msgFormat{}

	_, err := format.Encode(json.NewContext(), fake.Message{})
	require.EqualError(t, err, "unsupported message of type 'fake.Message'")

	_, err = format.Encode(fake.NewBadContext(), types.VoteReply{})
	require.EqualError(t, err, fake.Err("couldn't marshal"))

	_, err = format.Encode(fake.NewBadContext(), types.AppendEntries{Entries: []types.Entry{{}}})
	require.EqualError(t, err,
		fake.Err("couldn't serialize entry: encoding failed: couldn't marshal"))
}

func TestMsgFormat_Decode(t *testing.T) {
	format := msgFormat{}

	ctx := serde.WithFactory(json.NewContext(), types.EntryKey{}, types.EntryFactory{})

	_, err := format.Decode(ctx, []byte(`{}`))
	require.EqualError(t, err, "message is empty")

	_, err = format.Decode(fake.NewBadContext(), []byte(`{}`))
	require.EqualError(t, err, fake.Err("couldn't unmarshal"))

	_, err = format.Decode(json.NewContext(), []byte(`{"AppendEntries":{}}`))
	require.EqualError(t, err, "invalid entry factory '<nil>'")

	_, err = format.Decode(ctx, []byte(`{"AppendEntries":{"Entries":[[]]}}`))
	require.Error(t, err)
}

func TestEntryFormat(t *testing.T) {
	format := entryFormat{}

	_, err := format.Encode(json.NewContext(), fake.Message{})
	require.EqualError(t, err, "unsupported message of type 'fake.Message'")

	_, err = format.Decode(fake.NewBadContext(), []byte(`{}`))
	require.EqualError(t, err, fake.Err("couldn't unmarshal"))

	entry := types.Entry{Index: 1, Term: 2, Type: types.EntryCommand, ID: "x", Data: []byte("y")}

	data, err := format.Encode(json.NewContext(), entry)
	require.NoError(t, err)
	require.Equal(t, `{"Index":1,"Term":2,"Type":1,"ID":"x","Data":"eQ=="}`, string(data))

	res, err := types.EntryFactory{}.EntryOf(json.NewContext(), data)
	require.NoError(t, err)
	require.Equal(t, entry, res)
}
