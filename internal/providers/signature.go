package providers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SecureEqual compares two strings in constant time.
func SecureEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

// ValidHubSignature checks a hub-signature style header
// ("sha256=<hex>") against an HMAC-SHA256 of the raw body.
func ValidHubSignature(secret string, body []byte, header string) bool {
	if secret == "" || header == "" {
		return false
	}
	provided, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return SecureEqual(expected, provided)
}
