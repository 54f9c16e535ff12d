package main

import (
	"os"
	"strings"
	"time"

	"go.dedis.ch/notary/core/store/kv"
	"go.dedis.ch/notary/crypto"
	"go.dedis.ch/notary/crypto/bls"
	"go.dedis.ch/notary/crypto/ed25519"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"
)

const defaultPlatformVersion = 1

// Config is the configuration of a member read from a YAML file. The
// durations are written like "1s" or "100ms", and a zero value selects the
// default of the component.
type Config struct {
	// Address is the address announced to the other members, and Listen the
	// one the member binds. Listen defaults to Address.
	Address string `yaml:"address"`
	Listen  string `yaml:"listen"`

	// Members is the roster of the cluster, the member included.
	Members []string `yaml:"members"`

	DataDir string `yaml:"datadir"`
	Engine  string `yaml:"engine"`
	Hash    string `yaml:"hash"`

	// Schemes are the signature schemes of the member in the order of
	// preference.
	Schemes         []string `yaml:"schemes"`
	PlatformVersion uint32   `yaml:"platformversion"`

	Tolerance         time.Duration `yaml:"tolerance"`
	RequestTimeout    time.Duration `yaml:"requesttimeout"`
	ElectionTimeout   time.Duration `yaml:"electiontimeout"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	SnapshotThreshold uint64        `yaml:"snapshotthreshold"`

	// Parties restricts the parties allowed to notarize. Everyone is allowed
	// when it is empty.
	Parties []string `yaml:"parties"`

	// ValidatePayload enables the check that the transaction identifier is the
	// digest of the payload of the request.
	ValidatePayload bool `yaml:"validatepayload"`

	Metrics string `yaml:"metrics"`
	LogFile string `yaml:"logfile"`
	Tracing bool   `yaml:"tracing"`
}

// loadConfig reads the configuration file and fills the default values.
func loadConfig(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, xerrors.Errorf("failed to read config file: %v", err)
	}

	err = yaml.UnmarshalStrict(data, &cfg)
	if err != nil {
		return cfg, xerrors.Errorf("failed to unmarshal config: %v", err)
	}

	err = cfg.prepare()
	if err != nil {
		return cfg, xerrors.Errorf("invalid config: %v", err)
	}

	return cfg, nil
}

func (cfg *Config) prepare() error {
	if cfg.Address == "" {
		return xerrors.New("missing address")
	}

	if cfg.Listen == "" {
		cfg.Listen = cfg.Address
	}

	if len(cfg.Members) == 0 {
		return xerrors.New("missing members")
	}

	if cfg.PlatformVersion == 0 {
		cfg.PlatformVersion = defaultPlatformVersion
	}

	if len(cfg.Schemes) == 0 {
		cfg.Schemes = []string{ed25519.Algorithm}
	}

	for i, name := range cfg.Schemes {
		algo, err := parseScheme(name)
		if err != nil {
			return err
		}

		cfg.Schemes[i] = algo
	}

	_, err := kv.ParseEngine(cfg.Engine)
	if err != nil {
		return err
	}

	_, err = crypto.ParseHashAlgorithm(cfg.Hash)
	if err != nil {
		return err
	}

	return nil
}

// isMember returns true if the address of the configuration belongs to the
// roster.
func (cfg Config) isMember() bool {
	for _, member := range cfg.Members {
		if member == cfg.Address {
			return true
		}
	}

	return false
}

// parseScheme returns the algorithm of a scheme from either its short name or
// the algorithm itself.
func parseScheme(name string) (string, error) {
	switch strings.ToLower(name) {
	case "ed25519", strings.ToLower(ed25519.Algorithm):
		return ed25519.Algorithm, nil
	case "bls", strings.ToLower(bls.Algorithm):
		return bls.Algorithm, nil
	default:
		return "", xerrors.Errorf("unknown scheme '%s'", name)
	}
}
