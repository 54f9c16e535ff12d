package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.dedis.ch/notary"
	"go.dedis.ch/notary/core/commitment"
	"go.dedis.ch/notary/core/notarization/client"
	"go.dedis.ch/notary/core/notarization/types"
	uniqueness "go.dedis.ch/notary/core/uniqueness/types"
	"go.dedis.ch/notary/crypto"
	"go.dedis.ch/notary/crypto/loader"
	"go.dedis.ch/notary/mino/minogrpc"
	"golang.org/x/xerrors"
)

const defaultNotarizeTimeout = 30 * time.Second

func newApp(sigs chan os.Signal) *cli.App {
	return &cli.App{
		Name:  "notaryd",
		Usage: "member of a Raft notary cluster",
		Commands: []*cli.Command{
			{
				Name:  "keygen",
				Usage: "generate a signing key",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "scheme",
						Usage: "signature scheme, ed25519 or bls",
						Value: "ed25519",
					},
					&cli.StringFlag{
						Name:     "out",
						Usage:    "path of the key file",
						Required: true,
					},
				},
				Action: keygen,
			},
			{
				Name:  "start",
				Usage: "start the member",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "config",
						Aliases:  []string{"c"},
						Usage:    "path to the yaml config file",
						Required: true,
					},
				},
				Action: func(c *cli.Context) error {
					return start(c, sigs)
				},
			},
			{
				Name:  "notarize",
				Usage: "notarize a transaction",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "config",
						Aliases:  []string{"c"},
						Usage:    "path to the yaml config file of the cluster",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "tx",
						Usage: "transaction identifier in hexadecimal",
					},
					&cli.StringFlag{
						Name:  "payload",
						Usage: "transaction payload, hashed when no identifier is given",
					},
					&cli.StringSliceFlag{
						Name:     "input",
						Usage:    "input consumed by the transaction, as <txid>:<index>",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "party",
						Usage: "name of the requesting party",
					},
					&cli.StringFlag{
						Name:  "from",
						Usage: "beginning of the time window (RFC3339)",
					},
					&cli.StringFlag{
						Name:  "until",
						Usage: "end of the time window (RFC3339)",
					},
					&cli.StringSliceFlag{
						Name:  "scheme",
						Usage: "accepted signature schemes in the order of preference",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "maximum duration of the notarization",
						Value: defaultNotarizeTimeout,
					},
				},
				Action: notarize,
			},
		},
	}
}

func keygen(c *cli.Context) error {
	algo, err := parseScheme(c.String("scheme"))
	if err != nil {
		return err
	}

	signer, err := loader.LoadSigner(loader.NewFileLoader(c.String("out")), algo)
	if err != nil {
		return xerrors.Errorf("couldn't generate key: %v", err)
	}

	pubkey, err := signer.GetPublicKey().MarshalBinary()
	if err != nil {
		return xerrors.Errorf("couldn't marshal public key: %v", err)
	}

	fmt.Fprintf(c.App.Writer, "%s:%x\n", algo, pubkey)

	return nil
}

func start(c *cli.Context, sigs chan os.Signal) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}

	d, err := startDaemon(cfg)
	if err != nil {
		return xerrors.Errorf("couldn't start the daemon: %v", err)
	}

	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	<-sigs

	err = d.Close()
	if err != nil {
		return xerrors.Errorf("couldn't stop the daemon: %v", err)
	}

	notary.Logger.Trace().Msg("daemon has been stopped")

	return nil
}

func notarize(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}

	req, err := makeRequest(c, cfg)
	if err != nil {
		return err
	}

	m, err := minogrpc.NewMinogrpc(minogrpc.ParseAddress("127.0.0.1", 0))
	if err != nil {
		return xerrors.Errorf("couldn't start overlay: %v", err)
	}

	defer m.Stop()

	requestor, err := client.NewRequestor(m, makePlayers(cfg.Members))
	if err != nil {
		return xerrors.Errorf("couldn't create requestor: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
	defer cancel()

	sig, err := requestor.Notarize(ctx, req)
	if err != nil {
		return xerrors.Errorf("couldn't notarize: %v", err)
	}

	subject := sig.Subject

	fmt.Fprintf(c.App.Writer, "transaction: %v\n", subject.MerkleRoot)
	fmt.Fprintf(c.App.Writer, "version:     %d\n", subject.Metadata.PlatformVersion)
	fmt.Fprintf(c.App.Writer, "algorithm:   %s\n", subject.Metadata.Algorithm)
	fmt.Fprintf(c.App.Writer, "public key:  %x\n", subject.Metadata.PublicKey)
	fmt.Fprintf(c.App.Writer, "signature:   %x\n", sig.Data)

	return nil
}

func makeRequest(c *cli.Context, cfg Config) (types.Request, error) {
	req := types.Request{
		Party:   c.String("party"),
		Payload: []byte(c.String("payload")),
	}

	if len(req.Payload) == 0 {
		req.Payload = nil
	}

	var err error

	switch {
	case c.String("tx") != "":
		req.TransactionID, err = commitment.DigestFromHex(c.String("tx"))
		if err != nil {
			return req, xerrors.Errorf("invalid transaction: %v", err)
		}
	case req.Payload != nil:
		algo, err := crypto.ParseHashAlgorithm(cfg.Hash)
		if err != nil {
			return req, err
		}

		req.TransactionID, err = commitment.NewDigest(crypto.NewHashFactory(algo), req.Payload)
		if err != nil {
			return req, xerrors.Errorf("couldn't hash payload: %v", err)
		}
	default:
		return req, xerrors.New("missing transaction identifier or payload")
	}

	for _, text := range c.StringSlice("input") {
		input, err := uniqueness.ParseInputReference(text)
		if err != nil {
			return req, err
		}

		req.Inputs = append(req.Inputs, input)
	}

	req.TimeWindow.From, err = parseTime(c.String("from"))
	if err != nil {
		return req, xerrors.Errorf("invalid from: %v", err)
	}

	req.TimeWindow.Until, err = parseTime(c.String("until"))
	if err != nil {
		return req, xerrors.Errorf("invalid until: %v", err)
	}

	for _, name := range c.StringSlice("scheme") {
		algo, err := parseScheme(name)
		if err != nil {
			return req, err
		}

		req.Schemes = append(req.Schemes, algo)
	}

	return req, nil
}

func parseTime(text string) (time.Time, error) {
	if text == "" {
		return time.Time{}, nil
	}

	return time.Parse(time.RFC3339, text)
}
