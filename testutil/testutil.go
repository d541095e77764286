// Package testutil provides shared test helpers for filetier tests.
package testutil

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/filetier/filetier/internal/backend"
	"github.com/filetier/filetier/internal/routing"
)

// FreePort returns an available TCP port on localhost.
func FreePort(t *testing.T) int {
	t.Helper()

	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("failed to resolve address: %v", err)
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port
}

// TierSet is a full set of in-process backend tiers for dispatcher tests.
type TierSet struct {
	Table *routing.Table
	Roots map[routing.Class]string
}

// StartTiers launches one backend per remote extension class on ephemeral
// ports under temp roots, and returns a routing table pointing at them.
// Servers are stopped automatically on test cleanup.
func StartTiers(t *testing.T) *TierSet {
	t.Helper()

	roots := make(map[routing.Class]string)
	var tiers []routing.Tier
	for _, class := range []routing.Class{routing.ClassPDF, routing.ClassText, routing.ClassArchive} {
		root := filepath.Join(t.TempDir(), class.String())
		srv := backend.New(backend.Config{
			Class:  class,
			Listen: "127.0.0.1:0",
			Root:   root,
		})
		if err := srv.Start(); err != nil {
			t.Fatalf("failed to start %s tier: %v", class, err)
		}
		t.Cleanup(srv.Stop)
		roots[class] = root
		tiers = append(tiers, routing.Tier{Class: class, Addr: srv.Addr()})
	}

	table, err := routing.NewTable(tiers...)
	if err != nil {
		t.Fatalf("failed to build routing table: %v", err)
	}
	return &TierSet{Table: table, Roots: roots}
}
