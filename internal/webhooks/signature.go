package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the callback body signature, formatted as
// "sha256=<hex hmac>".
const SignatureHeader = "X-Signature"

const signaturePrefix = "sha256="

func mac(secret string, body []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return h.Sum(nil)
}

// Sign returns the SignatureHeader value for body.
func Sign(secret string, body []byte) string {
	return signaturePrefix + hex.EncodeToString(mac(secret, body))
}

// Verify reports whether header is a valid signature of body. The
// "sha256=" prefix is optional so bare hex digests are accepted too.
func Verify(secret string, body []byte, header string) bool {
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil || len(got) == 0 {
		return false
	}
	return hmac.Equal(mac(secret, body), got)
}
