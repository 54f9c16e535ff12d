package mino

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func TestRoster_AddressIterator(t *testing.T) {
	players := NewAddresses(fakeAddr("A"), fakeAddr("B"))
	require.Equal(t, 2, players.Len())

	iter := players.AddressIterator()
	require.True(t, iter.HasNext())
	require.Equal(t, fakeAddr("A"), iter.GetNext())
	require.Equal(t, fakeAddr("B"), iter.GetNext())
	require.False(t, iter.HasNext())
	require.Nil(t, iter.GetNext())
}

func TestResponse_GetMessageOrError(t *testing.T) {
	resp := NewResponse(fakeAddr("A"), nil)
	require.Equal(t, fakeAddr("A"), resp.GetFrom())

	msg, err := resp.GetMessageOrError()
	require.NoError(t, err)
	require.Nil(t, msg)

	resp = NewResponseWithError(fakeAddr("B"), xerrors.New("oops"))
	require.Equal(t, fakeAddr("B"), resp.GetFrom())

	_, err = resp.GetMessageOrError()
	require.EqualError(t, err, "oops")
}

// -----------------------------------------------------------------------------
// Utility functions

type fakeAddr string

func (a fakeAddr) Equal(other Address) bool {
	return a == other
}

func (a fakeAddr) MarshalText() ([]byte, error) {
	return []byte(a), nil
}

func (a fakeAddr) String() string {
	return string(a)
}
