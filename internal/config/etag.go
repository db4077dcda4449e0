package config

import (
	"crypto/md5" //nolint:gosec // content fingerprint only, not a security boundary
	"encoding/hex"
	"encoding/json"
	"sort"
)

// canonicalJSON renders v as JSON with map keys sorted, giving a stable byte
// sequence for hashing regardless of map iteration order. Go's encoding/json
// already sorts map[string]X keys, so this normalizes slices of structs by
// relying on json.Marshal directly; canonicalization for these resources is
// therefore just marshal-then-hash.
func canonicalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// contentHash returns the MD5 hex digest of the canonical JSON encoding of v.
// MD5 is used purely as a fast content fingerprint,
// never for anything security-sensitive.
func contentHash(v any) (string, error) {
	data, err := canonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(data) //nolint:gosec
	return hex.EncodeToString(sum[:]), nil
}

// composeETag composes "G-<first8 of hash>" when a
// global ETag G is available, else returns the bare hash.
func composeETag(global, hash string) string {
	if global == "" {
		return hash
	}
	if len(hash) > 8 {
		hash = hash[:8]
	}
	return global + "-" + hash
}

// sortedKeys returns the sorted keys of a string-keyed map, used when
// building deterministic resource lists prior to hashing.
func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
