package minogrpc

import (
	"context"
	"sync"

	"go.dedis.ch/notary/mino"
	"go.dedis.ch/notary/serde"
	"golang.org/x/xerrors"
	"google.golang.org/grpc"
)

// RPC represents an RPC that has been registered by a client, which allows
// clients to call an RPC that will execute the provided handler.
//
// - implements mino.RPC
type RPC struct {
	uri     string
	from    string
	context serde.Context
	factory serde.Factory
	conns   *connManager
}

// Call implements mino.RPC. It sends the request to every player in parallel
// and populates the channel with the replies as they arrive. The channel is
// closed after the last one.
func (rpc *RPC) Call(ctx context.Context, req serde.Message,
	players mino.Players) (<-chan mino.Response, error) {

	data, err := req.Serialize(rpc.context)
	if err != nil {
		return nil, xerrors.Errorf("couldn't serialize: %v", err)
	}

	envelope := &Envelope{
		URI:     rpc.uri,
		From:    rpc.from,
		Payload: data,
	}

	out := make(chan mino.Response, players.Len())

	wg := sync.WaitGroup{}

	iter := players.AddressIterator()
	for iter.HasNext() {
		to := iter.GetNext()

		wg.Add(1)

		go func() {
			defer wg.Done()

			reply, err := rpc.send(ctx, to, envelope)
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

func (rpc *RPC) send(ctx context.Context, to mino.Address, envelope *Envelope) (serde.Message, error) {
	addr, ok := to.(address)
	if !ok {
		return nil, xerrors.Errorf("invalid address type '%T'", to)
	}

	conn, err := rpc.conns.Acquire(addr)
	if err != nil {
		return nil, xerrors.Errorf("couldn't connect to %v: %v", to, err)
	}

	promMessages.WithLabelValues(rpc.uri, "out").Inc()

	resp := new(Envelope)

	err = conn.Invoke(ctx, callMethod, envelope, resp, grpc.CallContentSubtype(codecName))
	if err != nil {
		return nil, xerrors.Errorf("call to %v failed: %v", to, err)
	}

	reply, err := rpc.factory.Deserialize(rpc.context, resp.Payload)
	if err != nil {
		return nil, xerrors.Errorf("couldn't deserialize reply: %v", err)
	}

	return reply, nil
}
