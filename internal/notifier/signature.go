package notifier

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureHeader carries the GitHub webhook signature.
const SignatureHeader = "X-Hub-Signature-256"

const signaturePrefix = "sha256="

// ErrInvalidSignature is returned for a missing or mismatched signature.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Sign returns the header value GitHub would send for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against the HMAC of body in constant time.
func VerifySignature(secret, body []byte, header string) error {
	if !strings.HasPrefix(header, signaturePrefix) {
		return ErrInvalidSignature
	}
	if !hmac.Equal([]byte(Sign(secret, body)), []byte(header)) {
		return ErrInvalidSignature
	}
	return nil
}
