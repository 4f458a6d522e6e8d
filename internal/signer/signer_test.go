package signer

import (
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignKnownVector(t *testing.T) {
	// Example from the Binance API documentation for signed endpoints.
	s := New("NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j", 0, nil)
	query := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"

	assert.Equal(t, "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71", s.Sign(query))
}

func TestSignDeterministicAndOrderSensitive(t *testing.T) {
	s := New("secret", 0, nil)

	a := s.Sign("symbol=BNBUSDT&limit=10")
	assert.Equal(t, a, s.Sign("symbol=BNBUSDT&limit=10"))
	assert.NotEqual(t, a, s.Sign("limit=10&symbol=BNBUSDT"))
	assert.NotEqual(t, a, New("other", 0, nil).Sign("symbol=BNBUSDT&limit=10"))
	assert.Equal(t, strings.ToLower(a), a)
	assert.Len(t, a, 64)
}

func TestSignQueryStampsAndAppendsSignature(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.UnixMilli(1700000000123))
	s := New("secret", 0, clk)

	signed := s.SignQuery("symbol=BNBUSDT")
	payload := "symbol=BNBUSDT&timestamp=1700000000123&recvWindow=5000"
	require.True(t, strings.HasPrefix(signed, payload+"&signature="), signed)
	assert.Equal(t, payload+"&signature="+s.Sign(payload), signed)
}

func TestSignQueryFreshTimestampPerCall(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.UnixMilli(1700000000000))
	s := New("secret", 10000, clk)

	first := s.SignQuery("")
	clk.Add(time.Millisecond)
	second := s.SignQuery("")

	assert.True(t, strings.HasPrefix(first, "timestamp=1700000000000&recvWindow=10000&signature="), first)
	assert.NotEqual(t, first, second)
}
