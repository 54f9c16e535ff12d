// Package main implements the daemon of a member of a notary cluster, and the
// commands to generate a key and to notarize a transaction.
//
//  notaryd keygen --scheme ed25519 --out node.key
//  notaryd start --config node.yml
//  notaryd notarize --config node.yml --tx <hex> --input <txid>:<index>
package main

import (
	"os"

	"go.dedis.ch/notary"
)

func main() {
	app := newApp(make(chan os.Signal, 1))

	err := app.Run(os.Args)
	if err != nil {
		notary.Logger.Fatal().Err(err).Msg("command failed")
	}
}
