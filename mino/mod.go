// Package mino defines the Minimalistic Overlay Network (MINO) used by the
// members of a notary cluster, and by the requesters, to exchange messages.
//
// An implementation creates RPCs identified by a name. A call to an RPC sends
// the request to every player and returns the responses in a channel as they
// arrive.
package mino

import (
	"context"
	"encoding"

	"go.dedis.ch/notary/serde"
)

// Address is a representation of a network address.
type Address interface {
	encoding.TextMarshaler

	// Equal returns true when both addresses point to the same participant.
	Equal(other Address) bool

	String() string
}

// AddressFactory is the factory to create addresses from their text
// representation.
type AddressFactory interface {
	FromText(text []byte) Address
}

// AddressIterator is an iterator over a list of addresses.
type AddressIterator interface {
	// HasNext returns true if there is an address available.
	HasNext() bool

	// GetNext returns the next address and moves the iterator.
	GetNext() Address
}

// Players is a list of participants of a call.
type Players interface {
	// AddressIterator returns an iterator over the players.
	AddressIterator() AddressIterator

	// Len returns the number of players.
	Len() int
}

// Request is the message received by a handler, along with the address of the
// sender.
type Request struct {
	Address Address
	Message serde.Message
}

// Response is the result of a call to a single player.
type Response interface {
	// GetFrom returns the address of the player.
	GetFrom() Address

	// GetMessageOrError returns either the reply or the error that prevented
	// the player to reply.
	GetMessageOrError() (serde.Message, error)
}

// Handler is the interface to implement to create a public endpoint.
type Handler interface {
	// Process handles a single request by producing the response according to
	// the request message.
	Process(req Request) (serde.Message, error)
}

// RPC is a representation of a remote procedure call that can reach one or
// multiple distant participants.
type RPC interface {
	// Call sends the request to the players and populates the channel with
	// one response per player. The channel is closed when every player has
	// replied, or the context is done.
	Call(ctx context.Context, req serde.Message, players Players) (<-chan Response, error)
}

// Mino is a representation of an overlay network that allows the creation of
// RPCs.
type Mino interface {
	GetAddressFactory() AddressFactory

	// GetAddress returns the address that other participants should use to
	// contact this instance.
	GetAddress() Address

	// CreateRPC creates an RPC with a unique name. The factory is used to
	// deserialize both the requests and the replies.
	CreateRPC(name string, h Handler, f serde.Factory) (RPC, error)
}
