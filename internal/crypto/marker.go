package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// MarkerSigner produces stateless HMAC-signed correlation markers.
// Markers are self-contained: payload:timestamp:signature, with configurable
// expiry. They sanity-check that a resumed flow belongs to a flow this
// process started; they are not a security boundary on their own.
type MarkerSigner struct {
	signingKey []byte
	ttl        time.Duration
}

// NewMarkerSigner creates a new marker signer
func NewMarkerSigner(signingKey []byte, ttl time.Duration) MarkerSigner {
	return MarkerSigner{
		signingKey: signingKey,
		ttl:        ttl,
	}
}

// Sign wraps the payload with a timestamp and an HMAC-SHA256 signature
func (m *MarkerSigner) Sign(payload string) string {
	encoded := base64.RawURLEncoding.EncodeToString([]byte(payload))
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	signature := signData(encoded+":"+timestamp, m.signingKey)
	return encoded + ":" + timestamp + ":" + signature
}

// Verify validates the signature and expiry and returns the original payload
func (m *MarkerSigner) Verify(marker string) (string, bool) {
	parts := strings.SplitN(marker, ":", 3)
	if len(parts) != 3 {
		return "", false
	}

	encoded, timestampStr, signature := parts[0], parts[1], parts[2]

	timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return "", false
	}
	if m.ttl > 0 && time.Since(time.Unix(timestamp, 0)) > m.ttl {
		return "", false
	}

	if !validateSignedData(encoded+":"+timestampStr, signature, m.signingKey) {
		return "", false
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", false
	}
	return string(payload), true
}

func signData(data string, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func validateSignedData(data, signature string, key []byte) bool {
	expected := signData(data, key)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
