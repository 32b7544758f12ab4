package inbound

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	appErrors "github.com/unclebandit/leadreach-backend/internal/errors"
)

const (
	SignatureHeader = "X-Signature"
	TimestampHeader = "X-Timestamp"
)

// Sign returns the hex HMAC-SHA256 of "timestamp.body".
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature rejects unsigned, forged and stale requests. An empty
// secret rejects everything.
func VerifySignature(secret, timestamp string, body []byte, signature string, now time.Time, tolerance time.Duration) error {
	if secret == "" || timestamp == "" || signature == "" {
		return appErrors.ErrInvalidSignature
	}
	secs, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
	if err != nil {
		return appErrors.ErrInvalidSignature
	}
	if tolerance > 0 {
		skew := now.Sub(time.Unix(secs, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > tolerance {
			return appErrors.ErrInvalidSignature
		}
	}
	want := Sign(secret, timestamp, body)
	if !hmac.Equal([]byte(want), []byte(strings.ToLower(strings.TrimSpace(signature)))) {
		return appErrors.ErrInvalidSignature
	}
	return nil
}
