package inbound_test

import (
	"errors"
	"strconv"
	"testing"
	"time"

	appErrors "github.com/unclebandit/leadreach-backend/internal/errors"
	"github.com/unclebandit/leadreach-backend/internal/inbound"
)

func TestVerifySignature(t *testing.T) {
	now := time.Unix(1772546400, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	body := []byte(`{"data":{"event_type":"message.received"}}`)
	sig := inbound.Sign("s3cret", ts, body)

	if err := inbound.VerifySignature("s3cret", ts, body, sig, now, 5*time.Minute); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	cases := []struct {
		name   string
		secret string
		ts     string
		body   []byte
		sig    string
		now    time.Time
	}{
		{"wrong secret", "other", ts, body, sig, now},
		{"tampered body", "s3cret", ts, []byte(`{}`), sig, now},
		{"missing signature", "s3cret", ts, body, "", now},
		{"stale timestamp", "s3cret", ts, body, sig, now.Add(10 * time.Minute)},
		{"bad timestamp", "s3cret", "yesterday", body, sig, now},
		{"no secret configured", "", ts, body, inbound.Sign("", ts, body), now},
	}
	for _, tc := range cases {
		err := inbound.VerifySignature(tc.secret, tc.ts, tc.body, tc.sig, tc.now, 5*time.Minute)
		if !errors.Is(err, appErrors.ErrInvalidSignature) {
			t.Errorf("%s: expected invalid signature, got %v", tc.name, err)
		}
	}
}
