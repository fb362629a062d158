package certificate

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"
)

// AnchorHashLen is the length of an anchor hash string: "0x" + 64 hex digits.
const AnchorHashLen = 66

// AnchorHash returns the ledger key for canonical record bytes:
// "0x" followed by the hex Keccak-256 digest.
func AnchorHash(data []byte) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// ValidAnchorHash reports whether s has the shape of an anchor hash.
func ValidAnchorHash(s string) bool {
	if len(s) != AnchorHashLen || !strings.HasPrefix(s, "0x") {
		return false
	}
	_, err := hex.DecodeString(s[2:])
	return err == nil
}

// NormalizeHash lower-cases an anchor hash and trims surrounding whitespace,
// so hashes typed or scanned by hand resolve to the same ledger key.
func NormalizeHash(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
