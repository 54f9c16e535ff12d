// Package tracing provides the jaeger tracers of the services. The tracers are
// configured from the standard JAEGER_* environment variables.
package tracing

import (
	"io"
	"sync"

	opentracing "github.com/opentracing/opentracing-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"
	"golang.org/x/xerrors"
)

type tracerCatalog struct {
	sync.Mutex
	tracerByName map[string]closableTracer
}

type closableTracer struct {
	tracer opentracing.Tracer
	closer io.Closer
}

var catalog = tracerCatalog{
	tracerByName: make(map[string]closableTracer),
}

// GetTracer returns an `opentracing.Tracer` instance for the service name,
// usually the address of a member. Since the tracers are cached, it returns an
// existing one if it has been initialized before.
func GetTracer(name string) (opentracing.Tracer, error) {
	catalog.Lock()
	defer catalog.Unlock()

	tc, ok := catalog.tracerByName[name]
	if ok {
		return tc.tracer, nil
	}

	cfg, err := jaegercfg.FromEnv()
	if err != nil {
		return nil, xerrors.Errorf("error parsing jaeger configuration from environment: %v", err)
	}

	cfg.ServiceName = name

	tracer, closer, err := cfg.NewTracer()
	if err != nil {
		return nil, xerrors.Errorf("error creating new tracer: %v", err)
	}

	catalog.tracerByName[name] = closableTracer{
		tracer: tracer,
		closer: closer,
	}

	return tracer, nil
}

// CloseAll closes all the tracer instances and empties the catalog.
func CloseAll() error {
	catalog.Lock()
	defer catalog.Unlock()

	var lastErr error

	for name, tc := range catalog.tracerByName {
		err := tc.closer.Close()
		if err != nil {
			lastErr = xerrors.Errorf("couldn't close tracer '%s': %v", name, err)
		}

		delete(catalog.tracerByName, name)
	}

	return lastErr
}
