// Package routing maps filenames to extension classes and extension classes
// to the storage tiers that own them.
package routing

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// Class is the routing category derived from a filename's final dot-suffix.
type Class int

const (
	// ClassSource files stay on the dispatcher's own storage root.
	ClassSource Class = iota
	ClassPDF
	ClassText
	ClassArchive
)

// ErrUnknownExtension is returned for filenames whose suffix is not managed
// by any tier.
var ErrUnknownExtension = errors.New("routing: unsupported file extension")

var classNames = map[Class]string{
	ClassSource:  "source",
	ClassPDF:     "pdf",
	ClassText:    "text",
	ClassArchive: "archive",
}

var classExts = map[Class]string{
	ClassSource:  ".c",
	ClassPDF:     ".pdf",
	ClassText:    ".txt",
	ClassArchive: ".zip",
}

func (c Class) String() string { return classNames[c] }

// Ext returns the managed file extension for the class, dot included.
func (c Class) Ext() string { return classExts[c] }

// ClassForFile derives the class from a filename or path. The extension is
// the final dot-suffix; anything unrecognized is rejected.
func ClassForFile(name string) (Class, error) {
	ext := strings.ToLower(path.Ext(name))
	for c, e := range classExts {
		if e == ext {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownExtension, name)
}

// ParseClass resolves a client-supplied type argument. Both the extension
// form (".pdf") and the class name ("pdf") are accepted.
func ParseClass(s string) (Class, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for c, e := range classExts {
		if s == e || s == strings.TrimPrefix(e, ".") || s == classNames[c] {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownExtension, s)
}

// Tier describes one backend storage service.
type Tier struct {
	Class Class
	Name  string // tier name, also its path alias ("pdf", "text", "archive")
	Addr  string // TCP address the tier listens on
}

// Table is the routing table from extension class to owning tier. It is
// built from configuration rather than hardcoded so tests can point the
// dispatcher at in-process backends.
type Table struct {
	tiers map[Class]Tier
}

// NewTable builds a table from the given tiers. The dispatcher's own class
// (source) must not appear; it is never routed remotely.
func NewTable(tiers ...Tier) (*Table, error) {
	t := &Table{tiers: make(map[Class]Tier, len(tiers))}
	for _, tier := range tiers {
		if tier.Class == ClassSource {
			return nil, errors.New("routing: source class is handled locally, not by a tier")
		}
		if tier.Addr == "" {
			return nil, fmt.Errorf("routing: tier %s has no address", tier.Name)
		}
		if _, dup := t.tiers[tier.Class]; dup {
			return nil, fmt.Errorf("routing: duplicate tier for class %s", tier.Class)
		}
		if tier.Name == "" {
			tier.Name = tier.Class.String()
		}
		t.tiers[tier.Class] = tier
	}
	return t, nil
}

// Lookup returns the tier owning the class. ok is false for ClassSource and
// for classes with no configured tier.
func (t *Table) Lookup(c Class) (Tier, bool) {
	tier, ok := t.tiers[c]
	return tier, ok
}

// Tiers returns the configured tiers in the fixed aggregation order:
// pdf, then text, then archive. Aggregate responses group names in this
// order regardless of backend response timing.
func (t *Table) Tiers() []Tier {
	out := make([]Tier, 0, len(t.tiers))
	for _, c := range []Class{ClassPDF, ClassText, ClassArchive} {
		if tier, ok := t.tiers[c]; ok {
			out = append(out, tier)
		}
	}
	return out
}
