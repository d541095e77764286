package dispatch

import (
	"io"
	"net"
	"sort"
	"strings"

	"github.com/filetier/filetier/internal/routing"
	"github.com/filetier/filetier/pkg/proto"
)

// handleListNames serves "dispfnames <virtualDir>": the merged file names
// of one directory across all tiers. Groups appear in fixed tier order —
// source first, then pdf, text, archive — each sorted lexicographically on
// its own. An entirely empty result is the distinct "No files found"
// response rather than a zero-length payload.
func (s *Server) handleListNames(conn net.Conn, rest string) error {
	if rest == "" {
		return proto.Errorf(conn, "Invalid dispfnames command format")
	}
	rel, err := s.tr.Rel(rest)
	if err != nil {
		return proto.Errorf(conn, "Invalid directory path")
	}

	var names []string
	for _, group := range s.collectNames(rel) {
		names = append(names, group...)
	}
	if len(names) == 0 {
		return proto.WriteLine(conn, proto.NoFiles)
	}

	payload := strings.Join(names, "\n") + "\n"
	if err := proto.WriteSizeLine(conn, int64(len(payload))); err != nil {
		return err
	}
	_, err = io.WriteString(conn, payload)
	return err
}

// collectNames gathers per-tier name groups for a tier-relative directory.
// The local source scan comes first, then each configured tier in table
// order. Tiers are queried sequentially; an unreachable tier contributes
// an empty group rather than failing the whole listing.
func (s *Server) collectNames(rel string) [][]string {
	groups := make([][]string, 0, 4)

	local, err := s.store.List(rel)
	if err != nil {
		local = nil
	}
	var sources []string
	for _, name := range local {
		if class, cerr := routing.ClassForFile(name); cerr == nil && class == routing.ClassSource {
			sources = append(sources, name)
		}
	}
	sort.Strings(sources)
	groups = append(groups, sources)

	for _, tier := range s.table.Tiers() {
		client := s.clients[tier.Class]
		names, err := client.List(rel)
		if err != nil {
			names = nil
		}
		sort.Strings(names)
		groups = append(groups, names)
	}
	return groups
}
