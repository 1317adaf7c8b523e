package square

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// SignatureHeader is the header Square signs webhook deliveries with.
const SignatureHeader = "X-Square-Hmacsha256-Signature"

// Sign computes base64(HMAC-SHA256(key, notificationURL + body)).
func Sign(body []byte, notificationURL, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(notificationURL))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a delivery against the key and registered URL.
func VerifySignature(body []byte, header, notificationURL, key string) bool {
	header = strings.TrimSpace(header)
	if header == "" || key == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(body, notificationURL, key)), []byte(header))
}
