// Package loader loads the signing keys of a notary from the disk. A key is
// generated and stored on the first start, then read on the next ones.
package loader

import (
	"os"

	"go.dedis.ch/notary/crypto"
	"go.dedis.ch/notary/crypto/bls"
	"go.dedis.ch/notary/crypto/ed25519"
	"golang.org/x/xerrors"
)

// Generator is the interface to implement to generate a key.
type Generator interface {
	Generate() ([]byte, error)
}

// Loader is an abstraction to load a key from a storage.
type Loader interface {
	// LoadOrCreate tries to load the key and returns it if found, otherwise it
	// generates a new one using the generator and stores it.
	LoadOrCreate(Generator) ([]byte, error)
}

// fileLoader stores the keys in a file readable only by the current user.
//
// - implements loader.Loader
type fileLoader struct {
	path string
}

// NewFileLoader creates a new loader that is using the file given in parameter.
func NewFileLoader(path string) Loader {
	return fileLoader{path: path}
}

// LoadOrCreate implements loader.Loader. It either loads the key from the file
// if it exists, or it generates a new one and stores it in the file with the
// 0400 permission.
func (l fileLoader) LoadOrCreate(g Generator) ([]byte, error) {
	data, err := os.ReadFile(l.path)
	if err == nil {
		return data, nil
	}

	if !os.IsNotExist(err) {
		return nil, xerrors.Errorf("while reading file: %v", err)
	}

	data, err = g.Generate()
	if err != nil {
		return nil, xerrors.Errorf("generator failed: %v", err)
	}

	err = os.WriteFile(l.path, data, 0400)
	if err != nil {
		return nil, xerrors.Errorf("while writing file: %v", err)
	}

	return data, nil
}

// signerGenerator generates a fresh signer of an algorithm.
//
// - implements loader.Generator
type signerGenerator struct {
	algorithm string
}

// Generate implements loader.Generator. It returns the private key material of
// a new signer.
func (g signerGenerator) Generate() ([]byte, error) {
	var signer crypto.Signer

	switch g.algorithm {
	case ed25519.Algorithm:
		signer = ed25519.NewSigner()
	case bls.Algorithm:
		signer = bls.NewSigner()
	default:
		return nil, xerrors.Errorf("unknown algorithm '%s'", g.algorithm)
	}

	return signer.MarshalBinary()
}

// LoadSigner returns the signer of the algorithm stored by the loader, or a
// new one if the storage is empty.
func LoadSigner(l Loader, algorithm string) (crypto.Signer, error) {
	data, err := l.LoadOrCreate(signerGenerator{algorithm: algorithm})
	if err != nil {
		return nil, xerrors.Errorf("couldn't load key: %v", err)
	}

	switch algorithm {
	case ed25519.Algorithm:
		return ed25519.NewSignerFromBytes(data)
	default:
		return bls.NewSignerFromBytes(data)
	}
}
