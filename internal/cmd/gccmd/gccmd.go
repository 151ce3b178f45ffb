// Package gccmd implements the "ionify gc" subcommand: delete every CAS
// version directory other than the ones explicitly kept.
package gccmd

import (
	"fmt"

	"github.com/ionifyjs/ionify/internal/cas"
	"github.com/ionifyjs/ionify/internal/version"
)

// Args holds the arguments for the gc subcommand.
type Args struct {
	CASDir       string
	KeepVersions []string
}

// Run deletes every CAS version directory under CASDir not named in
// KeepVersions.
func Run(args Args) error {
	if args.CASDir == "" {
		return fmt.Errorf("gccmd: --cas is required")
	}

	keep := make([]version.Hash, len(args.KeepVersions))
	for i, k := range args.KeepVersions {
		keep[i] = version.Hash(k)
	}

	store := cas.New(args.CASDir)
	if err := store.GC(keep...); err != nil {
		return fmt.Errorf("gccmd: gc: %w", err)
	}
	return nil
}
