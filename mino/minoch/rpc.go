package minoch

import (
	"context"
	"sync"

	"go.dedis.ch/notary/mino"
	"go.dedis.ch/notary/serde"
	"golang.org/x/xerrors"
)

// RPC is an implementation of the mino.RPC interface.
//
// - implements mino.RPC
type RPC struct {
	manager *Manager
	addr    mino.Address
	name    string
	h       mino.Handler
	context serde.Context
	factory serde.Factory
}

// Call implements mino.RPC. It sends the message to all participants and
// gathers their reply. The messages are serialized the same way a network
// implementation would do to catch serialization issues in the tests.
func (c *RPC) Call(ctx context.Context, req serde.Message,
	players mino.Players) (<-chan mino.Response, error) {

	data, err := req.Serialize(c.context)
	if err != nil {
		return nil, xerrors.Errorf("couldn't serialize: %v", err)
	}

	out := make(chan mino.Response, players.Len())

	wg := sync.WaitGroup{}

	iter := players.AddressIterator()
	for iter.HasNext() {
		to := iter.GetNext()

		wg.Add(1)

		go func() {
			defer wg.Done()

			reply, err := c.send(to, data)
			if err != nil {
				out <- mino.NewResponseWithError(to, err)
				return
			}

			out <- mino.NewResponse(to, reply)
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out, nil
}

func (c *RPC) send(to mino.Address, data []byte) (serde.Message, error) {
	peer, err := c.manager.get(to)
	if err != nil {
		return nil, xerrors.Errorf("couldn't find peer: %v", err)
	}

	rpc := peer.getRPC(c.name)
	if rpc == nil {
		return nil, xerrors.Errorf("unknown rpc '%s'", c.name)
	}

	msg, err := rpc.factory.Deserialize(rpc.context, data)
	if err != nil {
		return nil, xerrors.Errorf("couldn't deserialize: %v", err)
	}

	req := mino.Request{
		Address: c.addr,
		Message: msg,
	}

	if !peer.accept(req) {
		return nil, xerrors.Errorf("request dropped by <%s>", to)
	}

	resp, err := rpc.h.Process(req)
	if err != nil {
		return nil, xerrors.Errorf("couldn't process request: %v", err)
	}

	if resp == nil {
		return nil, xerrors.New("empty reply")
	}

	buffer, err := resp.Serialize(rpc.context)
	if err != nil {
		return nil, xerrors.Errorf("couldn't serialize reply: %v", err)
	}

	reply, err := c.factory.Deserialize(c.context, buffer)
	if err != nil {
		return nil, xerrors.Errorf("couldn't deserialize reply: %v", err)
	}

	return reply, nil
}
