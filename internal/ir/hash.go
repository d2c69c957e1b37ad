package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainQuery = "xfilter/query/v1"
	DomainTable = "xfilter/table/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// QueryKey computes the request key for a compiled query: the identity used
// for caching and in-flight consolidation. Two queries with the same SQL text
// and the same parameter values always produce the same key.
func QueryKey(sql string, params []IRValue) (string, error) {
	obj := IRObject{
		"sql":    IRString(sql),
		"params": IRArray(params),
	}
	if params == nil {
		obj["params"] = IRArray{}
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("QueryKey: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainQuery, canonical), nil
}

// MustQueryKey is like QueryKey but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustQueryKey(sql string, params []IRValue) string {
	key, err := QueryKey(sql, params)
	if err != nil {
		panic(err)
	}
	return key
}

// TableDigest hashes a result table. Golden traces record digests rather
// than full tables to keep fixtures small.
func TableDigest(t *Table) (string, error) {
	if t == nil {
		return "", fmt.Errorf("TableDigest: nil table")
	}
	canonical, err := MarshalCanonical(t.irObject())
	if err != nil {
		return "", fmt.Errorf("TableDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainTable, canonical), nil
}
