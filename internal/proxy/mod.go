// Package proxy implements the HTTP server a member uses to expose its
// operational endpoints.
package proxy

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"go.dedis.ch/notary"
	"golang.org/x/xerrors"
)

type key int

const (
	requestIDKey key = 0

	requestIDHeader = "X-Request-Id"
	shutdownTimeout = 10 * time.Second
)

// HTTP is an HTTP server that serves the handlers registered on its mux.
type HTTP struct {
	sync.Mutex

	mux        *http.ServeMux
	server     *http.Server
	logger     zerolog.Logger
	listenAddr string
	ln         net.Listener
}

// NewHTTP creates a new server that will listen on the address.
func NewHTTP(listenAddr string) *HTTP {
	logger := notary.Logger.With().Str("role", "http proxy").Logger()

	nextRequestID := func() string {
		return xid.New().String()
	}

	mux := http.NewServeMux()

	return &HTTP{
		mux: mux,
		server: &http.Server{
			Handler: tracing(nextRequestID)(logging(logger)(mux)),
		},
		logger:     logger,
		listenAddr: listenAddr,
	}
}

// Listen binds the address and serves the requests in the background. An
// empty address binds a random local port.
func (h *HTTP) Listen() error {
	h.Lock()
	defer h.Unlock()

	addr := h.listenAddr
	if addr == "" {
		addr = "127.0.0.1:0"
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return xerrors.Errorf("failed to create conn '%s': %v", addr, err)
	}

	h.ln = ln

	go func() {
		err := h.server.Serve(ln)
		if err != nil && err != http.ErrServerClosed {
			h.logger.Err(err).Msg("server stopped unexpectedly")
		}
	}()

	h.logger.Info().Stringer("addr", ln.Addr()).Msg("server is ready to handle requests")

	return nil
}

// GetAddr returns the address the server is listening to, or nil.
func (h *HTTP) GetAddr() net.Addr {
	h.Lock()
	defer h.Unlock()

	if h.ln == nil {
		return nil
	}

	return h.ln.Addr()
}

// Stop gracefully shuts the server down.
func (h *HTTP) Stop() error {
	h.Lock()
	defer h.Unlock()

	if h.ln == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	h.server.SetKeepAlivesEnabled(false)

	err := h.server.Shutdown(ctx)
	if err != nil {
		return xerrors.Errorf("couldn't shutdown: %v", err)
	}

	h.ln = nil
	h.logger.Info().Msg("server stopped")

	return nil
}

// RegisterHandler registers the handler for the path.
func (h *HTTP) RegisterHandler(path string, handler http.Handler) {
	h.mux.Handle(path, handler)
}

// logging logs the requests served.
func logging(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				requestID, ok := r.Context().Value(requestIDKey).(string)
				if !ok {
					requestID = "unknown"
				}

				logger.Debug().Str("requestID", requestID).
					Str("method", r.Method).
					Str("url", r.URL.Path).
					Str("remoteAddr", r.RemoteAddr).
					Str("agent", r.UserAgent()).Msg("request served")
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// tracing sets the request identifier header, using the one of the request if
// provided.
func tracing(nextRequestID func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(requestIDHeader)
			if requestID == "" {
				requestID = nextRequestID()
			}

			ctx := context.WithValue(r.Context(), requestIDKey, requestID)
			w.Header().Set(requestIDHeader, requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
