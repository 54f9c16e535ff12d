// Package minogrpc implements a network overlay using gRPC.
//
// Every call is a unary gRPC request carrying an envelope with the name of
// the RPC and the serialized message. The envelopes are encoded in JSON by a
// codec registered under its own content subtype, so that no generated code
// is required. A client connection is kept per distant peer.
package minogrpc

import (
	"net"
	"sync"

	otgrpc "github.com/opentracing-contrib/go-grpc"
	"github.com/prometheus/client_golang/prometheus"
	"go.dedis.ch/notary"
	"go.dedis.ch/notary/internal/tracing"
	"go.dedis.ch/notary/mino"
	"go.dedis.ch/notary/serde"
	"go.dedis.ch/notary/serde/json"
	"golang.org/x/xerrors"
	"google.golang.org/grpc"
)

var promMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "notary_mino_messages_total",
	Help: "number of messages sent and received by the overlay, by rpc",
}, []string{"rpc", "direction"})

func init() {
	notary.PromCollectors = append(notary.PromCollectors, promMessages)
}

// getTracer is the source of the tracers when the tracing is enabled.
var getTracer = tracing.GetTracer

// ParseAddress is a helper to create a TCP network address.
func ParseAddress(ip string, port uint16) net.Addr {
	return &net.TCPAddr{
		IP:   net.ParseIP(ip),
		Port: int(port),
	}
}

type minoTemplate struct {
	public  string
	tracing bool
}

// Option is the type to set some fields when instantiating an overlay.
type Option func(*minoTemplate)

// WithPublicAddress is an option to set the address announced to the other
// participants, when it differs from the listening one.
func WithPublicAddress(host string) Option {
	return func(tmpl *minoTemplate) {
		tmpl.public = host
	}
}

// WithTracing is an option to trace the calls sent and received with the
// tracer of the address.
func WithTracing() Option {
	return func(tmpl *minoTemplate) {
		tmpl.tracing = true
	}
}

// Minogrpc is an implementation of a minimalist network overlay using gRPC
// internally to communicate with distant peers.
//
// - implements mino.Mino
type Minogrpc struct {
	server  *grpc.Server
	service *overlayService
	conns   *connManager
	addr    address
	context serde.Context
	closer  sync.WaitGroup
	closing chan error
}

// NewMinogrpc creates and starts a new instance. It listens on the address
// and returns an error if it fails.
func NewMinogrpc(listen net.Addr, opts ...Option) (*Minogrpc, error) {
	tmpl := minoTemplate{}

	for _, opt := range opts {
		opt(&tmpl)
	}

	socket, err := net.Listen(listen.Network(), listen.String())
	if err != nil {
		return nil, xerrors.Errorf("failed to bind: %v", err)
	}

	if tmpl.public == "" {
		tmpl.public = socket.Addr().String()
	}

	var srvOpts []grpc.ServerOption
	var dialOpts []grpc.DialOption

	if tmpl.tracing {
		tracer, err := getTracer(tmpl.public)
		if err != nil {
			socket.Close()

			return nil, xerrors.Errorf("couldn't get tracer: %v", err)
		}

		srvOpts = append(srvOpts,
			grpc.UnaryInterceptor(otgrpc.OpenTracingServerInterceptor(tracer)))

		dialOpts = append(dialOpts,
			grpc.WithUnaryInterceptor(otgrpc.OpenTracingClientInterceptor(tracer)))
	}

	ctx := json.NewContext()

	m := &Minogrpc{
		server: grpc.NewServer(srvOpts...),
		service: &overlayService{
			context:   ctx,
			endpoints: make(map[string]endpoint),
		},
		conns:   newConnManager(dialOpts...),
		addr:    address{host: tmpl.public},
		context: ctx,
		closing: make(chan error, 1),
	}

	m.server.RegisterService(&serviceDesc, m.service)

	m.listen(socket)

	return m, nil
}

// GetAddressFactory implements mino.Mino. It returns the address factory.
func (m *Minogrpc) GetAddressFactory() mino.AddressFactory {
	return AddressFactory{}
}

// GetAddress implements mino.Mino. It returns the address of the server.
func (m *Minogrpc) GetAddress() mino.Address {
	return m.addr
}

// CreateRPC implements mino.Mino. It returns a newly created rpc with the
// provided name. When contacting distant peers, it only talks to the RPCs with
// the same name.
func (m *Minogrpc) CreateRPC(name string, h mino.Handler, f serde.Factory) (mino.RPC, error) {
	err := m.service.register(name, endpoint{handler: h, factory: f})
	if err != nil {
		return nil, err
	}

	rpc := &RPC{
		uri:     name,
		from:    m.addr.host,
		context: m.context,
		factory: f,
		conns:   m.conns,
	}

	return rpc, nil
}

// GracefulStop first stops the grpc server then waits for the remaining
// handlers to close.
func (m *Minogrpc) GracefulStop() error {
	m.server.GracefulStop()

	return m.postCheckClose()
}

// Stop stops the server immediately.
func (m *Minogrpc) Stop() error {
	m.server.Stop()

	return m.postCheckClose()
}

func (m *Minogrpc) postCheckClose() error {
	m.closer.Wait()

	err := m.conns.Close()
	if err != nil {
		return xerrors.Errorf("couldn't close connections: %v", err)
	}

	err = <-m.closing
	if err != nil {
		return xerrors.Errorf("server stopped unexpectedly: %v", err)
	}

	return nil
}

// String implements fmt.Stringer. It prints a short description of the
// instance.
func (m *Minogrpc) String() string {
	return "mino[" + m.addr.host + "]"
}

func (m *Minogrpc) listen(socket net.Listener) {
	started := make(chan struct{})

	m.closer.Add(1)

	go func() {
		defer m.closer.Done()

		close(started)

		err := m.server.Serve(socket)
		if err != nil {
			m.closing <- xerrors.Errorf("failed to serve: %v", err)
		}

		close(m.closing)
	}()

	<-started
}
