// Package canon provides deterministic JSON canonicalization and the
// content hashing primitives built on top of it. Every hash recorded in
// the ledger and every replay key is derived from these functions, so the
// byte output for a given value must never change.
package canon

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Marshal encodes v as canonical JSON: object keys sorted
// lexicographically, minimal separators, no HTML escaping, no trailing
// newline. The input is first round-tripped through generic JSON values so
// struct field order never leaks into the output.
func Marshal(v any) ([]byte, error) {
	raw, err := encode(v)
	if err != nil {
		return nil, fmt.Errorf("canon: encode: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canon: normalize: %w", err)
	}

	out, err := encode(generic)
	if err != nil {
		return nil, fmt.Errorf("canon: re-encode: %w", err)
	}
	return out, nil
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// SHA256Hex returns the lowercase hex sha256 of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashJSON returns the sha256 of the canonical encoding of v.
func HashJSON(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return SHA256Hex(b), nil
}

// MustHashJSON is HashJSON for values known to be encodable, such as the
// plain maps and structs the kernel itself constructs.
func MustHashJSON(v any) string {
	h, err := HashJSON(v)
	if err != nil {
		panic(fmt.Sprintf("canon: unencodable value: %v", err))
	}
	return h
}

// HMACSHA256Hex returns the lowercase hex HMAC-SHA256 of data under key.
func HMACSHA256Hex(key, data []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// EqualHMAC compares two hex MACs in constant time.
func EqualHMAC(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
