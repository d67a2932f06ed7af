// Package checksum computes content digests and MIME classifications.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultMIME is reported when sniffing finds no signature.
const DefaultMIME = "application/octet-stream"

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Digest returns the SHA-256 digest of exactly data together with a MIME
// type sniffed from its leading magic bytes.
func Digest(data []byte) (digest, mimeType string) {
	return Sum(data), Sniff(data)
}

// Sniff classifies data by magic bytes.
func Sniff(data []byte) string {
	if len(data) == 0 {
		return DefaultMIME
	}
	m := mimetype.Detect(data)
	if m == nil || m.String() == "" {
		return DefaultMIME
	}
	return m.String()
}
