package minogrpc

import (
	"context"
	"encoding/json"
	"sync"

	"go.dedis.ch/notary/mino"
	"go.dedis.ch/notary/serde"
	"golang.org/x/xerrors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

const (
	codecName  = "notary-json"
	callMethod = "/notary.Overlay/Call"
)

func init() {
	encoding.RegisterCodec(codec{})
}

// Envelope is the message exchanged by the overlay. The payload is the
// serialized message of the RPC identified by the URI.
type Envelope struct {
	URI     string
	From    string
	Payload []byte
}

// codec encodes the envelopes of the overlay in JSON.
//
// - implements encoding.Codec
type codec struct{}

// Marshal implements encoding.Codec. It returns the JSON data of the envelope.
func (codec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal implements encoding.Codec. It populates the envelope from the JSON
// data.
func (codec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// Name implements encoding.Codec. It returns the content subtype of the codec.
func (codec) Name() string {
	return codecName
}

// OverlayServer is the interface of the gRPC service of the overlay.
type OverlayServer interface {
	Call(ctx context.Context, in *Envelope) (*Envelope, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "notary.Overlay",
	HandlerType: (*OverlayServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Call",
			Handler:    callHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "overlay",
}

func callHandler(srv interface{}, ctx context.Context, dec func(interface{}) error,
	interceptor grpc.UnaryServerInterceptor) (interface{}, error) {

	in := new(Envelope)

	err := dec(in)
	if err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(OverlayServer).Call(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: callMethod,
	}

	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OverlayServer).Call(ctx, req.(*Envelope))
	}

	return interceptor(ctx, in, info, handler)
}

// endpoint is the handler of an RPC with the factory of its messages.
type endpoint struct {
	handler mino.Handler
	factory serde.Factory
}

// overlayService dispatches the envelopes to the endpoints of the RPCs.
//
// - implements minogrpc.OverlayServer
type overlayService struct {
	sync.RWMutex

	context   serde.Context
	endpoints map[string]endpoint
}

func (o *overlayService) register(uri string, e endpoint) error {
	o.Lock()
	defer o.Unlock()

	_, found := o.endpoints[uri]
	if found {
		return xerrors.Errorf("rpc '%s' already exists", uri)
	}

	o.endpoints[uri] = e

	return nil
}

// Call implements minogrpc.OverlayServer. It processes the message of the
// envelope with the handler of the RPC and returns the reply.
func (o *overlayService) Call(ctx context.Context, in *Envelope) (*Envelope, error) {
	o.RLock()
	e, found := o.endpoints[in.URI]
	o.RUnlock()

	if !found {
		return nil, xerrors.Errorf("unknown rpc '%s'", in.URI)
	}

	msg, err := e.factory.Deserialize(o.context, in.Payload)
	if err != nil {
		return nil, xerrors.Errorf("couldn't deserialize: %v", err)
	}

	req := mino.Request{
		Address: address{host: in.From},
		Message: msg,
	}

	promMessages.WithLabelValues(in.URI, "in").Inc()

	resp, err := e.handler.Process(req)
	if err != nil {
		return nil, xerrors.Errorf("couldn't process request: %v", err)
	}

	if resp == nil {
		return nil, xerrors.New("empty reply")
	}

	payload, err := resp.Serialize(o.context)
	if err != nil {
		return nil, xerrors.Errorf("couldn't serialize reply: %v", err)
	}

	return &Envelope{URI: in.URI, Payload: payload}, nil
}
