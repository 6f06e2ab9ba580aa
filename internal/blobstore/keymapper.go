package blobstore

import (
	"strings"

	"github.com/bleepstore/s3blob/internal/blobpath"
)

// KeyMapper translates between blob paths and flat object keys below a
// fixed prefix.
//
// Key mapping:
//
//	with prefix:    {prefix}/{segment}/{segment}...
//	without prefix: {segment}/{segment}...
type KeyMapper struct {
	prefix string
}

// NewKeyMapper normalizes prefix (leading and trailing slashes dropped,
// repeated slashes collapsed). A blank prefix means keys start at the
// bucket root.
func NewKeyMapper(prefix string) KeyMapper {
	return KeyMapper{prefix: normalizePrefix(prefix)}
}

func normalizePrefix(prefix string) string {
	parts := strings.Split(strings.TrimSpace(prefix), "/")
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}

// Prefix returns the normalized prefix.
func (m KeyMapper) Prefix() string {
	return m.prefix
}

// BuildKey returns the object key for p.
func (m KeyMapper) BuildKey(p blobpath.Path) string {
	switch {
	case m.prefix == "":
		return p.String()
	case p.IsRoot():
		return m.prefix
	}
	return m.prefix + "/" + p.String()
}

// KeyPrefixFor returns the key prefix shared by every descendant of p. The
// result always ends in "/", including for the root.
func (m KeyMapper) KeyPrefixFor(p blobpath.Path) string {
	return m.BuildKey(p) + "/"
}

// KeyToPath maps a raw key back to a path. It reports false when the key is
// outside the prefix or does not form a valid path; callers should skip
// such keys.
func (m KeyMapper) KeyToPath(key string) (blobpath.Path, bool) {
	rest := key
	if m.prefix != "" {
		if key == m.prefix {
			return blobpath.Root(), true
		}
		var ok bool
		rest, ok = strings.CutPrefix(key, m.prefix+"/")
		if !ok {
			return blobpath.Path{}, false
		}
	}
	if strings.HasPrefix(rest, "/") {
		return blobpath.Path{}, false
	}
	p, err := blobpath.Parse(rest)
	if err != nil {
		return blobpath.Path{}, false
	}
	return p, true
}

// Equal reports whether both mappers produce the same keys.
func (m KeyMapper) Equal(o KeyMapper) bool {
	return m.prefix == o.prefix
}
