// Package blobpath implements the hierarchical path model used to address
// blobs independently of how a backend lays out its keys.
package blobpath

import (
	"errors"
	"fmt"
	"strings"
)

// Separator joins path segments in the canonical string form.
const Separator = "/"

// ErrInvalidPath is returned when a textual path is malformed or attempts
// to traverse outside of its root.
var ErrInvalidPath = errors.New("invalid blob path")

// Path is an immutable, normalized sequence of non-empty segments. The zero
// value is the root path.
type Path struct {
	// joined is the canonical form; segments are derived from it on demand so
	// that Path stays comparable with ==.
	joined string
}

// Root returns the empty path.
func Root() Path {
	return Path{}
}

// Parse validates s and returns the path it denotes. A single leading "/" is
// accepted; "" and "/" denote the root. Empty segments, "." and ".." are
// rejected with ErrInvalidPath.
func Parse(s string) (Path, error) {
	s = strings.TrimPrefix(s, Separator)
	if s == "" {
		return Path{}, nil
	}
	for _, seg := range strings.Split(s, Separator) {
		if err := checkSegment(seg); err != nil {
			return Path{}, fmt.Errorf("%w %q: %v", ErrInvalidPath, s, err)
		}
	}
	return Path{joined: s}, nil
}

// MustParse is like Parse but panics on invalid input. Intended for literals.
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// New builds a path from individual segments. Segments may not contain the
// separator.
func New(segments ...string) (Path, error) {
	for _, seg := range segments {
		if strings.Contains(seg, Separator) {
			return Path{}, fmt.Errorf("%w: segment %q contains %q", ErrInvalidPath, seg, Separator)
		}
		if err := checkSegment(seg); err != nil {
			return Path{}, fmt.Errorf("%w: %v", ErrInvalidPath, err)
		}
	}
	return Path{joined: strings.Join(segments, Separator)}, nil
}

func checkSegment(seg string) error {
	switch seg {
	case "":
		return errors.New("empty segment")
	case ".", "..":
		return fmt.Errorf("relative segment %q", seg)
	}
	return nil
}

// IsRoot reports whether p has no segments.
func (p Path) IsRoot() bool {
	return p.joined == ""
}

// Segments returns a copy of the path segments.
func (p Path) Segments() []string {
	if p.joined == "" {
		return nil
	}
	return strings.Split(p.joined, Separator)
}

// Len returns the number of segments.
func (p Path) Len() int {
	if p.joined == "" {
		return 0
	}
	return strings.Count(p.joined, Separator) + 1
}

// Name returns the last segment, or "" for the root.
func (p Path) Name() string {
	i := strings.LastIndex(p.joined, Separator)
	return p.joined[i+1:]
}

// Parent returns the path without its last segment. The parent of the root
// is the root.
func (p Path) Parent() Path {
	i := strings.LastIndex(p.joined, Separator)
	if i < 0 {
		return Path{}
	}
	return Path{joined: p.joined[:i]}
}

// Child appends a single segment.
func (p Path) Child(name string) (Path, error) {
	c, err := New(name)
	if err != nil {
		return Path{}, err
	}
	return p.Join(c), nil
}

// Join appends all segments of q to p.
func (p Path) Join(q Path) Path {
	switch {
	case p.joined == "":
		return q
	case q.joined == "":
		return p
	}
	return Path{joined: p.joined + Separator + q.joined}
}

// HasPrefix reports whether q is p itself or one of its ancestors.
func (p Path) HasPrefix(q Path) bool {
	if q.joined == "" || p.joined == q.joined {
		return true
	}
	return strings.HasPrefix(p.joined, q.joined+Separator)
}

// Equal reports structural equality.
func (p Path) Equal(q Path) bool {
	return p.joined == q.joined
}

// String returns the segments joined by "/". The root renders as "".
func (p Path) String() string {
	return p.joined
}
