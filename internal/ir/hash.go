package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainContent prefixes content hashes. The version suffix leaves room for
// a future algorithm change without colliding with stored hashes.
const DomainContent = "docsync/content/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash computes a stable hash over a document's fields and body.
// Targets store it to detect whether a re-delivered revision actually
// changed anything.
func ContentHash(c *Content) (string, error) {
	if c == nil {
		return "", fmt.Errorf("ContentHash: nil content")
	}
	fields := c.Fields
	if fields == nil {
		fields = Fields{}
	}
	canonical, err := MarshalCanonical(fields)
	if err != nil {
		return "", fmt.Errorf("ContentHash: failed to marshal: %w", err)
	}

	data := make([]byte, 0, len(canonical)+1+len(c.Body))
	data = append(data, canonical...)
	data = append(data, 0x00)
	data = append(data, c.Body...)
	return hashWithDomain(DomainContent, data), nil
}

// MustContentHash is like ContentHash but panics on error.
// Use only in tests.
func MustContentHash(c *Content) string {
	h, err := ContentHash(c)
	if err != nil {
		panic(err)
	}
	return h
}
