// Package requestid generates opaque identifiers for request correlation.
package requestid

import (
	"crypto/rand"
	"encoding/hex"
	"io"
)

// New returns a 32-character hex identifier from 16 random bytes.
func New() (string, error) {
	var b [16]byte
	if _, err := io.ReadFull(rand.Reader, b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
