// Package identity derives stable local user identifiers from login
// credentials. The identifier partitions every cache table, so it must
// be deterministic across sessions and safe to embed in database keys
// and file paths. It is not a security boundary: hash collisions are
// accepted, the worst case being two logins sharing a cache partition.
package identity

import (
	"fmt"
	"net/url"
	"strings"
)

// None is the sentinel for "no identity". Resolve returns it when the
// inputs cannot name a user, and callers treat it as "no active user".
const None = ""

// MaxLength bounds a user identifier. Resolve never exceeds it; Valid
// rejects anything longer.
const MaxLength = 64

const tokenPrefix = "user_"

// Resolve derives the local user identifier for a username at a server
// origin. The same inputs always produce the same identifier. It
// returns None if the username is empty or the origin has no usable
// host component.
func Resolve(username, origin string) string {
	if username == "" {
		return None
	}
	host := hostOf(origin)
	if host == "" {
		return None
	}
	return fmt.Sprintf("%s%08x", tokenPrefix, hash(username+"@"+host))
}

// Valid reports whether id is usable as a cache partition key: non-empty,
// at most MaxLength bytes, and limited to alphanumerics, underscore, and
// hyphen. Identifiers from Resolve always pass; the check exists for ids
// that arrive from persisted sessions or external callers.
func Valid(id string) bool {
	if id == None || len(id) > MaxLength {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

// hostOf extracts the host (without port) from a server origin. Origins
// may arrive with or without a scheme; a bare "mail.example.com" is
// treated as a host.
func hostOf(origin string) string {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return ""
	}
	if !strings.Contains(origin, "://") {
		origin = "https://" + origin
	}
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// hash is the djb2 rolling hash, kept at 32 bits so the derived token
// stays short and stable.
func hash(s string) uint32 {
	h := uint32(5381)
	for i := 0; i < len(s); i++ {
		h = h*33 + uint32(s[i])
	}
	return h
}
