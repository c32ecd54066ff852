package afkdf

import (
	"crypto/sha256"
	"encoding/base32"
	"strings"
)

const runeIDPrefix = "ECH-"

// RuneID derives a short human-presentable identifier for a master key:
// "ECH-" followed by the Crockford-free base32 encoding (RFC 4648,
// unpadded) of the first 5 bytes of SHA-256(master), upper-cased. Two
// vaults sharing a rune ID share a master key; it never appears on its
// own as a secret and is safe to print in status output.
func RuneID(master []byte) string {
	sum := sha256.Sum256(master)
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	body := strings.ToUpper(enc.EncodeToString(sum[:5]))
	return runeIDPrefix + body
}
