package util

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
)

// NewID returns a URL-safe hex string ID.
func NewID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// NewSlug returns a 12-character URL-safe room slug.
func NewSlug() string {
	b := make([]byte, 9)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
