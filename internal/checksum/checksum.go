package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// IDLength is the number of hex characters kept for todo identifiers.
const IDLength = 8

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// TodoID derives a stable todo identifier from its location and normalized text.
// Identical inputs always produce the same ID; changing any of them changes it.
func TodoID(path string, line, depth int, content string) string {
	h := sha256.New()
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(line)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(depth)))
	h.Write([]byte{0})
	h.Write([]byte(Normalize(content)))
	return hex.EncodeToString(h.Sum(nil))[:IDLength]
}

// Normalize collapses runs of whitespace so trailing spaces do not churn IDs.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
