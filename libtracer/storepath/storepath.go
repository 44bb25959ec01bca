// Package storepath implements the lexical rules for paths inside a
// content-addressed store. A store object is an immediate child of the
// store root whose name starts with a character from [0-9a-z] and continues
// with characters from [0-9a-zA-Z+-._?=]; everything below an object is
// addressed through it and never considered on its own.
package storepath

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// nameRegexp is the store object name rule. The first character set is
// deliberately narrower so that names like ".links" never parse as objects.
var nameRegexp = regexp.MustCompile(`^[0-9a-z]+[0-9a-zA-Z+\-._?=]*$`)

// Store wraps the absolute path of a store root and answers containment
// questions about it. It performs no I/O.
type Store struct {
	dir string
	re  *regexp.Regexp
}

// New returns a Store for the given root directory. The directory must be
// absolute; it is cleaned but not required to exist.
func New(dir string) (*Store, error) {
	if !filepath.IsAbs(dir) {
		return nil, fmt.Errorf("store directory %q is not absolute", dir)
	}
	dir = filepath.Clean(dir)
	re := regexp.MustCompile(regexp.QuoteMeta(dir) + `/[0-9a-z]+[0-9a-zA-Z+\-._?=]*`)
	return &Store{dir: dir, re: re}, nil
}

// Dir returns the cleaned store root.
func (s *Store) Dir() string {
	return s.dir
}

// Contains reports whether p lies under the store root (or is the root
// itself). The comparison is component-wise: /nix/storeOther is not under
// /nix/store.
func (s *Store) Contains(p string) bool {
	p = filepath.Clean(p)
	return p == s.dir || strings.HasPrefix(p, s.dir+string(filepath.Separator))
}

// PathRegexp returns a regexp matching store object paths as substrings of
// arbitrary text, for use by content scanners. A match ends at the last
// character that is valid in an object name.
func (s *Store) PathRegexp() *regexp.Regexp {
	return s.re
}

// IsValidName reports whether name satisfies the store object name rule.
func IsValidName(name string) bool {
	return nameRegexp.MatchString(name)
}

// ObjectPath returns the full store path of the object called name. Names
// that fail the lexical rule are rejected, which also rules out anything
// containing a separator or a dot-dot component; the result is always an
// immediate child of the store root.
func (s *Store) ObjectPath(name string) (string, error) {
	if !IsValidName(name) {
		return "", fmt.Errorf("%q is not a valid store object name", name)
	}
	return filepath.Join(s.dir, name), nil
}

// ObjectOf returns the store object path that owns p: the store root plus
// the longest valid object name starting p's first component below the
// root. This normalizes paths deep inside an object, and kernel-decorated
// link targets such as "/nix/store/abc (deleted)", to the object itself.
// ok is false when p does not begin with a store object path.
func (s *Store) ObjectOf(p string) (string, bool) {
	p = filepath.Clean(p)
	loc := s.re.FindStringIndex(p)
	if loc == nil || loc[0] != 0 {
		return "", false
	}
	return p[:loc[1]], true
}
