package main

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jrick/logrotate/rotator"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.dedis.ch/notary"
	"go.dedis.ch/notary/core/notarization"
	"go.dedis.ch/notary/core/ordering/raft"
	"go.dedis.ch/notary/core/store/kv"
	"go.dedis.ch/notary/core/uniqueness"
	"go.dedis.ch/notary/crypto"
	"go.dedis.ch/notary/crypto/loader"
	"go.dedis.ch/notary/internal/proxy"
	"go.dedis.ch/notary/internal/tracing"
	"go.dedis.ch/notary/mino"
	"go.dedis.ch/notary/mino/minogrpc"
	"golang.org/x/xerrors"
)

const (
	dbName = "notary.db"

	logThresholdKB = 10 * 1024
	logMaxRolls    = 3
)

// daemon is a running member of a notary cluster.
type daemon struct {
	cfg      Config
	logger   zerolog.Logger
	rotator  *rotator.Rotator
	db       kv.DB
	mino     *minogrpc.Minogrpc
	provider *uniqueness.Provider
	service  *notarization.Service
	http     *proxy.HTTP
}

// startDaemon builds the components of a member from the configuration and
// starts them. The components already started are stopped if it fails.
func startDaemon(cfg Config) (_ *daemon, err error) {
	if cfg.DataDir == "" {
		return nil, xerrors.New("missing data directory")
	}

	if !cfg.isMember() {
		return nil, xerrors.Errorf("address %s is not a member", cfg.Address)
	}

	d := &daemon{cfg: cfg}

	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	err = os.MkdirAll(cfg.DataDir, 0700)
	if err != nil {
		return nil, xerrors.Errorf("couldn't create data directory: %v", err)
	}

	if cfg.LogFile != "" {
		d.rotator, err = rotator.New(cfg.LogFile, logThresholdKB, false, logMaxRolls)
		if err != nil {
			return nil, xerrors.Errorf("failed to create file rotator: %v", err)
		}

		notary.SetLogOutput(zerolog.ConsoleWriter{
			Out:        io.MultiWriter(os.Stdout, d.rotator),
			TimeFormat: time.RFC3339,
			NoColor:    true,
		})
	}

	d.logger = notary.Logger.With().Str("addr", cfg.Address).Logger()

	engine, err := kv.ParseEngine(cfg.Engine)
	if err != nil {
		return nil, xerrors.Errorf("invalid engine: %v", err)
	}

	d.db, err = kv.Open(engine, filepath.Join(cfg.DataDir, dbName))
	if err != nil {
		return nil, xerrors.Errorf("couldn't open database: %v", err)
	}

	signers, err := loadSigners(cfg)
	if err != nil {
		return nil, err
	}

	listen, err := net.ResolveTCPAddr("tcp", cfg.Listen)
	if err != nil {
		return nil, xerrors.Errorf("invalid listen address: %v", err)
	}

	minoOpts := []minogrpc.Option{minogrpc.WithPublicAddress(cfg.Address)}
	if cfg.Tracing {
		minoOpts = append(minoOpts, minogrpc.WithTracing())
	}

	d.mino, err = minogrpc.NewMinogrpc(listen, minoOpts...)
	if err != nil {
		return nil, xerrors.Errorf("couldn't start overlay: %v", err)
	}

	d.provider, err = uniqueness.NewProvider(d.mino, makePlayers(cfg.Members), d.db,
		providerOptions(cfg)...)
	if err != nil {
		return nil, xerrors.Errorf("couldn't create provider: %v", err)
	}

	srvcOpts, err := serviceOptions(cfg)
	if err != nil {
		return nil, err
	}

	d.service, err = notarization.NewService(d.provider, signers, srvcOpts...)
	if err != nil {
		return nil, xerrors.Errorf("couldn't create service: %v", err)
	}

	_, err = d.service.Listen(d.mino)
	if err != nil {
		return nil, xerrors.Errorf("couldn't listen: %v", err)
	}

	d.provider.Start()

	if cfg.Metrics != "" {
		d.http = proxy.NewHTTP(cfg.Metrics)
		d.http.RegisterHandler("/metrics", metricsHandler(d.logger))
		d.http.RegisterHandler("/status", statusHandler{provider: d.provider})

		err = d.http.Listen()
		if err != nil {
			return nil, xerrors.Errorf("couldn't start http server: %v", err)
		}
	}

	d.logger.Info().
		Strs("members", cfg.Members).
		Strs("schemes", d.service.Algorithms()).
		Msg("member started")

	return d, nil
}

// Close stops the components of the member. It can be called multiple times.
func (d *daemon) Close() error {
	var lastErr error

	if d.http != nil {
		err := d.http.Stop()
		if err != nil {
			lastErr = err
		}

		d.http = nil
	}

	if d.provider != nil {
		err := d.provider.Stop()
		if err != nil && !xerrors.Is(err, raft.ErrStopped) {
			lastErr = err
		}

		d.provider = nil
	}

	if d.mino != nil {
		err := d.mino.GracefulStop()
		if err != nil {
			lastErr = err
		}

		d.mino = nil
	}

	if d.db != nil {
		err := d.db.Close()
		if err != nil {
			lastErr = err
		}

		d.db = nil
	}

	if d.cfg.Tracing {
		err := tracing.CloseAll()
		if err != nil {
			lastErr = err
		}
	}

	if d.rotator != nil {
		notary.SetLogOutput(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})

		d.rotator.Close()
		d.rotator = nil
	}

	return lastErr
}

func loadSigners(cfg Config) ([]crypto.Signer, error) {
	signers := make([]crypto.Signer, len(cfg.Schemes))

	for i, algo := range cfg.Schemes {
		path := filepath.Join(cfg.DataDir, strings.ToLower(algo)+".key")

		signer, err := loader.LoadSigner(loader.NewFileLoader(path), algo)
		if err != nil {
			return nil, xerrors.Errorf("couldn't load signer '%s': %v", algo, err)
		}

		signers[i] = signer
	}

	return signers, nil
}

func makePlayers(members []string) mino.Players {
	addrs := make([]mino.Address, len(members))
	for i, member := range members {
		addrs[i] = minogrpc.NewAddress(member)
	}

	return mino.NewAddresses(addrs...)
}

func providerOptions(cfg Config) []uniqueness.Option {
	var raftOpts []raft.Option

	if cfg.ElectionTimeout > 0 {
		raftOpts = append(raftOpts, raft.WithElectionTimeout(cfg.ElectionTimeout))
	}

	if cfg.Heartbeat > 0 {
		raftOpts = append(raftOpts, raft.WithHeartbeat(cfg.Heartbeat))
	}

	if cfg.SnapshotThreshold > 0 {
		raftOpts = append(raftOpts, raft.WithSnapshotThreshold(cfg.SnapshotThreshold))
	}

	opts := []uniqueness.Option{uniqueness.WithRaftOptions(raftOpts...)}

	if cfg.RequestTimeout > 0 {
		opts = append(opts, uniqueness.WithCommitTimeout(cfg.RequestTimeout))
	}

	return opts
}

func serviceOptions(cfg Config) ([]notarization.Option, error) {
	opts := []notarization.Option{notarization.WithPlatformVersion(cfg.PlatformVersion)}

	if cfg.Tolerance > 0 {
		opts = append(opts, notarization.WithTolerance(cfg.Tolerance))
	}

	if cfg.RequestTimeout > 0 {
		opts = append(opts, notarization.WithRequestTimeout(cfg.RequestTimeout))
	}

	if len(cfg.Parties) > 0 {
		opts = append(opts, notarization.WithAuthorizer(notarization.NewDirectory(cfg.Parties...)))
	}

	if cfg.ValidatePayload {
		algo, err := crypto.ParseHashAlgorithm(cfg.Hash)
		if err != nil {
			return nil, err
		}

		validator := notarization.NewDigestValidator(crypto.NewHashFactory(algo))
		opts = append(opts, notarization.WithValidator(validator))
	}

	if cfg.Tracing {
		tracer, err := tracing.GetTracer(cfg.Address)
		if err != nil {
			return nil, xerrors.Errorf("couldn't get tracer: %v", err)
		}

		opts = append(opts, notarization.WithTracer(tracer))
	}

	return opts, nil
}

// metricsHandler returns the handler that serves the collectors of the
// packages.
func metricsHandler(logger zerolog.Logger) http.Handler {
	registry := prometheus.NewRegistry()

	for _, c := range notary.PromCollectors {
		err := registry.Register(c)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to register collector")
		}
	}

	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// StatusJSON is the JSON message of the status of the member.
type StatusJSON struct {
	State        string
	Term         uint64
	Leader       string `json:",omitempty"`
	CommitIndex  uint64
	AppliedIndex uint64
	LastIndex    uint64
}

// statusHandler serves the consensus status of the member.
//
// - implements http.Handler
type statusHandler struct {
	provider *uniqueness.Provider
}

// ServeHTTP implements http.Handler. It writes the status in JSON.
func (h statusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.provider.Status()

	msg := StatusJSON{
		State:        status.State.String(),
		Term:         status.Term,
		CommitIndex:  status.CommitIndex,
		AppliedIndex: status.AppliedIndex,
		LastIndex:    status.LastIndex,
	}

	if status.Leader != nil {
		msg.Leader = status.Leader.String()
	}

	w.Header().Set("Content-Type", "application/json")

	err := json.NewEncoder(w).Encode(msg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
