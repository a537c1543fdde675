// Package sha256 checksums rendered artifacts so consumers can verify what they download.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Prefix tags digests with their algorithm, matching the form GCS and OCI tooling print.
const Prefix = "sha256:"

// Checksum returns the prefixed hex SHA-256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return Prefix + hex.EncodeToString(sum[:])
}
