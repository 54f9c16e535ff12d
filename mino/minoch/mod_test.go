package minoch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/notary/internal/testing/fake"
	"go.dedis.ch/notary/mino"
	"go.dedis.ch/notary/serde"
)

func TestMinoch_New(t *testing.T) {
	manager := NewManager()

	m1, err := NewMinoch(manager, "A")
	require.NoError(t, err)
	require.NotNil(t, m1)
	require.Equal(t, "A", m1.GetAddress().String())
	require.IsType(t, AddressFactory{}, m1.GetAddressFactory())

	_, err = NewMinoch(manager, "A")
	require.EqualError(t, err, "manager refused: identifier <A> already exists")

	_, err = NewMinoch(manager, "")
	require.EqualError(t, err, "manager refused: identifier must not be empty")
}

func TestMinoch_MustCreate(t *testing.T) {
	manager := NewManager()

	MustCreate(manager, "A")

	require.Panics(t, func() {
		MustCreate(manager, "A")
	})
}

func TestMinoch_CreateRPC(t *testing.T) {
	m := MustCreate(NewManager(), "A")

	rpc, err := m.CreateRPC("test", badHandler{}, fake.MessageFactory{})
	require.NoError(t, err)
	require.NotNil(t, rpc)

	_, err = m.CreateRPC("test", badHandler{}, fake.MessageFactory{})
	require.EqualError(t, err, "rpc 'test' already exists")
}

func TestAddress(t *testing.T) {
	addr := AddressFactory{}.FromText([]byte("A"))
	require.True(t, addr.Equal(address{id: "A"}))
	require.False(t, addr.Equal(address{id: "B"}))
	require.False(t, addr.Equal(fake.NewAddress(0)))

	text, err := addr.MarshalText()
	require.NoError(t, err)
	require.Equal(t, []byte("A"), text)
}

func TestRPC_Call(t *testing.T) {
	manager := NewManager()

	m1 := MustCreate(manager, "A")
	rpc1, err := m1.CreateRPC("test", echoHandler{}, fake.MessageFactory{})
	require.NoError(t, err)

	m2 := MustCreate(manager, "B")
	_, err = m2.CreateRPC("test", echoHandler{}, fake.MessageFactory{})
	require.NoError(t, err)

	resps, err := rpc1.Call(context.Background(), fake.Message{},
		mino.NewAddresses(m1.GetAddress(), m2.GetAddress()))
	require.NoError(t, err)

	n := 0
	for resp := range resps {
		msg, err := resp.GetMessageOrError()
		require.NoError(t, err)
		require.Equal(t, fake.Message{}, msg)
		n++
	}

	require.Equal(t, 2, n)
}

func TestRPC_CallWithFilter(t *testing.T) {
	manager := NewManager()

	m1 := MustCreate(manager, "A")
	rpc1, err := m1.CreateRPC("test", echoHandler{}, fake.MessageFactory{})
	require.NoError(t, err)

	m2 := MustCreate(manager, "B")
	_, err = m2.CreateRPC("test", echoHandler{}, fake.MessageFactory{})
	require.NoError(t, err)

	m2.AddFilter(func(req mino.Request) bool {
		return !req.Address.Equal(m1.GetAddress())
	})

	resps, err := rpc1.Call(context.Background(), fake.Message{}, mino.NewAddresses(m2.GetAddress()))
	require.NoError(t, err)

	resp := <-resps
	_, err = resp.GetMessageOrError()
	require.EqualError(t, err, "request dropped by <B>")

	m2.ClearFilters()

	resps, err = rpc1.Call(context.Background(), fake.Message{}, mino.NewAddresses(m2.GetAddress()))
	require.NoError(t, err)

	resp = <-resps
	_, err = resp.GetMessageOrError()
	require.NoError(t, err)
}

func TestRPC_FailingCall(t *testing.T) {
	manager := NewManager()

	m1 := MustCreate(manager, "A")
	rpc1, err := m1.CreateRPC("test", echoHandler{}, fake.MessageFactory{})
	require.NoError(t, err)

	_, err = rpc1.Call(context.Background(), fake.BadMessage{}, mino.NewAddresses())
	require.EqualError(t, err, fake.Err("couldn't serialize"))

	m2 := MustCreate(manager, "B")
	_, err = m2.CreateRPC("test", badHandler{}, fake.MessageFactory{})
	require.NoError(t, err)

	m3 := MustCreate(manager, "C")
	_, err = m3.CreateRPC("test", echoHandler{}, fake.NewBadMessageFactory())
	require.NoError(t, err)

	resps, err := rpc1.Call(context.Background(), fake.Message{}, mino.NewAddresses(m2.GetAddress()))
	require.NoError(t, err)

	_, err = (<-resps).GetMessageOrError()
	require.EqualError(t, err, fake.Err("couldn't process request"))

	resps, err = rpc1.Call(context.Background(), fake.Message{}, mino.NewAddresses(m3.GetAddress()))
	require.NoError(t, err)

	_, err = (<-resps).GetMessageOrError()
	require.EqualError(t, err, fake.Err("couldn't deserialize"))

	resps, err = rpc1.Call(context.Background(), fake.Message{},
		mino.NewAddresses(address{id: "unknown"}))
	require.NoError(t, err)

	_, err = (<-resps).GetMessageOrError()
	require.EqualError(t, err, "couldn't find peer: address <unknown> not found")

	resps, err = rpc1.Call(context.Background(), fake.Message{},
		mino.NewAddresses(fake.NewAddress(0)))
	require.NoError(t, err)

	_, err = (<-resps).GetMessageOrError()
	require.EqualError(t, err,
		"couldn't find peer: invalid address type 'fake.Address'")

	m4 := MustCreate(manager, "D")

	resps, err = rpc1.Call(context.Background(), fake.Message{}, mino.NewAddresses(m4.GetAddress()))
	require.NoError(t, err)

	_, err = (<-resps).GetMessageOrError()
	require.EqualError(t, err, "unknown rpc 'test'")
}

// -----------------------------------------------------------------------------
// Utility functions

type echoHandler struct{}

func (echoHandler) Process(req mino.Request) (serde.Message, error) {
	return req.Message, nil
}

type badHandler struct{}

func (badHandler) Process(mino.Request) (serde.Message, error) {
	return nil, fake.GetError()
}
