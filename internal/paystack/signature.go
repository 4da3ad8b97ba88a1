package paystack

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
)

// VerifySignature reports whether signature is a valid HMAC-SHA512 of the raw
// webhook body under the shared secret. The hash is computed over the exact
// bytes received; re-serializing the parsed payload would break byte-for-byte
// equality. Comparison is constant time.
func VerifySignature(body []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}

	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}
