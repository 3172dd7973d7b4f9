package sigdigest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// SumBytes is the digest recorded for captured signature images: SHA-256 of
// the raw bytes, lowercase hex.
func SumBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// SumObject hashes the canonical JSON encoding of v: json.Marshal bytes
// hashed with SHA-256 hex. Used for structured payloads (the ingest audit
// records the barcode contents this way) so equal values always hash equal.
func SumObject(v any) (hexHash string, encoded []byte, err error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), b, nil
}
