// Package vpath translates virtual paths from the unified client namespace
// into tier-relative and physical paths, and back for reporting.
//
// A virtual path starts with the tier's alias ("root/docs/a.txt" for the
// dispatcher, "pdf/docs/a.pdf" when addressing the pdf tier directly). The
// alias may also be written with a leading '~'. Once the alias is stripped,
// the remainder is a tier-relative path with no further tier markers.
package vpath

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// ErrEscapesRoot is returned for paths that would resolve outside the tier
// storage root after cleaning.
var ErrEscapesRoot = errors.New("vpath: path escapes tier root")

// Translator converts between virtual, tier-relative, and physical paths
// for one tier.
type Translator struct {
	alias string
	root  string
}

// New creates a translator for a tier with the given path alias and
// physical storage root.
func New(alias, root string) *Translator {
	return &Translator{alias: alias, root: root}
}

// Alias returns the tier's virtual path alias.
func (t *Translator) Alias() string { return t.alias }

// Root returns the tier's physical storage root.
func (t *Translator) Root() string { return t.root }

// Rel strips the tier alias from a virtual path and returns the cleaned
// tier-relative remainder, "." for the tier root itself. Paths that climb
// out of the root are rejected rather than resolved.
func (t *Translator) Rel(virtual string) (string, error) {
	p := strings.TrimSuffix(strings.TrimSpace(virtual), "/")
	if first, rest, found := strings.Cut(p, "/"); first == t.alias || first == "~"+t.alias {
		if !found {
			return ".", nil
		}
		p = rest
	}
	p = strings.TrimPrefix(p, "/")
	if p == "" || p == "." {
		return ".", nil
	}
	cleaned := path.Clean(p)
	if path.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrEscapesRoot, virtual)
	}
	return cleaned, nil
}

// Resolve maps a virtual path to the physical path under the tier root.
func (t *Translator) Resolve(virtual string) (string, error) {
	rel, err := t.Rel(virtual)
	if err != nil {
		return "", err
	}
	if rel == "." {
		return t.root, nil
	}
	return filepath.Join(t.root, filepath.FromSlash(rel)), nil
}

// Virtual rebuilds the client-visible path for a tier-relative one. Used
// when reporting locations back to callers.
func (t *Translator) Virtual(rel string) string {
	if rel == "" || rel == "." {
		return t.alias
	}
	return t.alias + "/" + path.Clean(rel)
}
