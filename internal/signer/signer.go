package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/benbjohnson/clock"
)

// DefaultRecvWindow is the receive window in milliseconds sent with every
// signed call.
const DefaultRecvWindow int64 = 5000

// Signer computes Binance HMAC-SHA256 signatures over query strings.
type Signer struct {
	secret     []byte
	recvWindow int64
	clock      clock.Clock
}

// New returns a signer for secret. A nil clock uses the wall clock and a
// non-positive recvWindow falls back to DefaultRecvWindow.
func New(secret string, recvWindow int64, clk clock.Clock) *Signer {
	if clk == nil {
		clk = clock.New()
	}
	if recvWindow <= 0 {
		recvWindow = DefaultRecvWindow
	}
	return &Signer{secret: []byte(secret), recvWindow: recvWindow, clock: clk}
}

// Sign returns the lowercase hex digest of payload. The payload is signed
// byte for byte, so it must be the exact string sent upstream.
func (s *Signer) Sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignQuery stamps query with a fresh timestamp and the receive window,
// signs the stamped string and returns it with the signature appended.
func (s *Signer) SignQuery(query string) string {
	stamped := "timestamp=" + strconv.FormatInt(s.clock.Now().UnixMilli(), 10) +
		"&recvWindow=" + strconv.FormatInt(s.recvWindow, 10)
	if query != "" {
		stamped = query + "&" + stamped
	}
	return stamped + "&signature=" + s.Sign(stamped)
}
