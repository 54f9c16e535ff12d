package minogrpc

import (
	"sync"
	"time"

	"golang.org/x/xerrors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials/insecure"
)

const defaultMinConnectTimeout = 2 * time.Second

// connManager keeps one client connection per distant peer. The connections
// are created on demand and closed with the manager.
type connManager struct {
	sync.Mutex

	dialOpts []grpc.DialOption
	conns    map[string]*grpc.ClientConn
	closed   bool
}

func newConnManager(opts ...grpc.DialOption) *connManager {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff:           backoff.DefaultConfig,
			MinConnectTimeout: defaultMinConnectTimeout,
		}),
	}

	return &connManager{
		dialOpts: append(dialOpts, opts...),
		conns:    make(map[string]*grpc.ClientConn),
	}
}

// Acquire returns the connection to the address, which is created if it does
// not exist yet.
func (mgr *connManager) Acquire(addr address) (*grpc.ClientConn, error) {
	mgr.Lock()
	defer mgr.Unlock()

	if mgr.closed {
		return nil, xerrors.New("connection manager is closed")
	}

	conn, found := mgr.conns[addr.GetDialAddress()]
	if found {
		return conn, nil
	}

	if addr.GetDialAddress() == "" {
		return nil, xerrors.New("empty address is not allowed")
	}

	// The dial is not blocking, the connection is established on the first
	// call.
	conn, err := grpc.Dial(addr.GetDialAddress(), mgr.dialOpts...)
	if err != nil {
		return nil, xerrors.Errorf("failed to dial: %v", err)
	}

	mgr.conns[addr.GetDialAddress()] = conn

	return conn, nil
}

// Len returns the number of open connections.
func (mgr *connManager) Len() int {
	mgr.Lock()
	defer mgr.Unlock()

	return len(mgr.conns)
}

// Close closes every connection. The manager cannot be used afterwards.
func (mgr *connManager) Close() error {
	mgr.Lock()
	defer mgr.Unlock()

	mgr.closed = true

	var lastErr error
	for key, conn := range mgr.conns {
		err := conn.Close()
		if err != nil {
			lastErr = xerrors.Errorf("couldn't close connection to %s: %v", key, err)
		}

		delete(mgr.conns, key)
	}

	return lastErr
}
