// Package storage holds chunk payloads for the reference store.
package storage

import "path"

// Provider is the interface for chunk blob operations. Locators are
// slash-separated paths relative to the store root.
type Provider interface {
	// Put writes data under locator atomically. A locator already holding
	// the same bytes is left untouched.
	Put(locator string, data []byte) error
	// Get returns the bytes stored under locator.
	Get(locator string) ([]byte, error)
	// Delete removes a blob. Missing blobs are not an error.
	Delete(locator string) error
	// List returns every locator stored under prefix.
	List(prefix string) ([]string, error)
}

// Locator returns the blob path for one chunk of a file. Chunks are keyed by
// digest so identical content across revisions shares one blob.
func Locator(fileID, chunkDigest string) string {
	return path.Join(fileID, chunkDigest)
}
