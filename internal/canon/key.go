package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for hashed identities.
// Version suffix enables future algorithm migration.
const (
	DomainRequest  = "storekit/request/v1"
	DomainSnapshot = "storekit/snapshot/v1"
)

// ArgsKey returns the stable serialization of an argument list.
//
// Trailing nil arguments are trimmed so that f() and f(nil) share a key,
// matching callers that pass an explicit "no value" for optional arguments.
func ArgsKey(args []any) (string, error) {
	trimmed := TrimArgs(args)
	list := make([]any, len(trimmed))
	copy(list, trimmed)
	data, err := Marshal(list)
	if err != nil {
		return "", fmt.Errorf("args key: %w", err)
	}
	return string(data), nil
}

// MustArgsKey is like ArgsKey but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustArgsKey(args []any) string {
	key, err := ArgsKey(args)
	if err != nil {
		panic(err)
	}
	return key
}

// Key combines a name with the stable serialization of its arguments.
// Format: name + 0x00 + argsKey. The null byte prevents name/args boundary
// ambiguity.
func Key(name string, args []any) (string, error) {
	argsKey, err := ArgsKey(args)
	if err != nil {
		return "", err
	}
	return name + "\x00" + argsKey, nil
}

// TrimArgs drops trailing nil arguments.
func TrimArgs(args []any) []any {
	n := len(args)
	for n > 0 && args[n-1] == nil {
		n--
	}
	return args[:n]
}

// Hash computes a SHA-256 hex digest of v's canonical form with domain
// separation. Format: SHA256(domain + 0x00 + canonical(v)).
func Hash(domain string, v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", domain, err)
	}
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00}) // Null separator
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
