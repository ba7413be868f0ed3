// Package checksum provides SHA-256 digests over raw bytes, streams and
// canonicalized JSON values. Idempotency keys and audit snapshot metadata are
// both derived here so every caller hashes the same way.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/gowebpki/jcs"
)

// SHA256Hex returns the lowercase hex SHA-256 of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CalculateSHA256 calculates the SHA256 checksum of data from a reader
func CalculateSHA256(reader io.Reader) (string, error) {
	hasher := sha256.New()

	if _, err := io.Copy(hasher, reader); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Canonical encodes v as RFC 8785 (JCS) canonical JSON: sorted keys, no
// insignificant whitespace, normalized numbers and strings.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize value: %w", err)
	}
	return out, nil
}

// CanonicalSHA256 hashes the canonical JSON form of v, so semantically equal
// values hash equally regardless of field order.
func CanonicalSHA256(v any) (string, error) {
	data, err := Canonical(v)
	if err != nil {
		return "", err
	}
	return SHA256Hex(data), nil
}
