package providers

import (
	"crypto/hmac"
	"crypto/subtle"
	"encoding/hex"
	"hash"
	"strings"
)

// VerifyHMAC checks a hex-encoded HMAC of body. An empty secret or
// signature never verifies.
func VerifyHMAC(newHash func() hash.Hash, secret, signature string, body []byte) error {
	if secret == "" || signature == "" {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return ErrInvalidSignature
	}
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), got) {
		return ErrInvalidSignature
	}
	return nil
}

// SignHMAC returns the hex HMAC of body, as processors send it
func SignHMAC(newHash func() hash.Hash, secret string, body []byte) string {
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySharedSecret compares a header carrying the configured secret itself
func VerifySharedSecret(secret, header string) error {
	if secret == "" || header == "" {
		return ErrInvalidSignature
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(header)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}
