package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// TaskSignatureHeader carries the HMAC-SHA256 signature of a task delivery
// body, hex encoded.
const TaskSignatureHeader = "X-Task-Signature"

// SignPayload computes the hex HMAC-SHA256 of body under the shared secret.
// The delivery mechanism signs with this and the endpoint verifies it.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches body under the shared
// secret. Comparison is constant time.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}

	actual, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), actual)
}
