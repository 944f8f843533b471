package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ChannelAuth signs subscriptions to private push channels. The signature
// is HMAC-SHA256(secret, socketID+":"+channel) hex-encoded and prefixed with
// the key, as the push service expects in the "auth" field.
type ChannelAuth struct {
	Key    string
	Secret string
}

// IsPrivate reports whether channel requires a signed subscription.
func IsPrivate(channel string) bool {
	return strings.HasPrefix(channel, "private-") || strings.HasPrefix(channel, "presence-")
}

// Sign returns the auth token for subscribing socketID to channel.
func (a ChannelAuth) Sign(socketID, channel string) string {
	return a.Key + ":" + hmacSHA256Hex([]byte(a.Secret), socketID+":"+channel)
}

// Verify reports whether token is a valid signature for socketID and channel.
func (a ChannelAuth) Verify(socketID, channel, token string) bool {
	return hmac.Equal([]byte(a.Sign(socketID, channel)), []byte(token))
}

// String returns a redacted representation suitable for logging.
func (a ChannelAuth) String() string {
	return fmt.Sprintf("ChannelAuth{key=%s, secret=%s}", redact(a.Key), redact(a.Secret))
}

func hmacSHA256Hex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

func redact(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}
