package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hedgeproxy/config"
	"hedgeproxy/internal/upstream"
	"hedgeproxy/logger"
)

const testProxyKey = "proxy-secret"

// fakeBinance records every call and serves canned responses per path.
type fakeBinance struct {
	mu       sync.Mutex
	calls    []*http.Request
	handlers map[string]http.HandlerFunc
}

func (f *fakeBinance) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.calls = append(f.calls, r.Clone(r.Context()))
	h, ok := f.handlers[r.URL.Path]
	f.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":-1,"msg":"unexpected path"}`))
		return
	}
	h(w, r)
}

func (f *fakeBinance) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeBinance) call(path string) *http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.calls {
		if r.URL.Path == path {
			return r
		}
	}
	return nil
}

func jsonBody(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

type testEnv struct {
	handler http.Handler
	binance *fakeBinance
}

func newTestEnv(t *testing.T, withKeys bool, handlers map[string]http.HandlerFunc) *testEnv {
	t.Helper()
	fake := &fakeBinance{handlers: handlers}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg := testConfig(srv.URL)
	if withKeys {
		cfg.Binance.APIKey = "api-key"
		cfg.Binance.APISecret = "api-secret"
	}
	return &testEnv{handler: buildHandler(t, cfg), binance: fake}
}

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: "0"},
		Auth:   config.AuthConfig{ProxyAPIKey: testProxyKey},
		Binance: config.BinanceConfig{
			SpotBaseURL:    baseURL,
			FuturesBaseURL: baseURL,
			RecvWindowMs:   config.DefaultRecvWindowMs,
			TimeoutMs:      2000,
		},
		Hedge: config.HedgeConfig{
			Symbol:              config.DefaultSymbol,
			BalanceAsset:        config.DefaultBalanceAsset,
			TimezoneOffsetHours: config.DefaultTimezoneOffset,
		},
		Metrics: config.MetricsConfig{Enabled: true, UsedWeight: true},
	}
}

func buildHandler(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	log := logger.GetLogger()
	client := upstream.New(upstream.Options{
		SpotBaseURL:    cfg.Binance.SpotBaseURL,
		FuturesBaseURL: cfg.Binance.FuturesBaseURL,
		APIKey:         cfg.Binance.APIKey,
		APISecret:      cfg.Binance.APISecret,
		RecvWindow:     cfg.Binance.RecvWindowMs,
		Timeout:        cfg.UpstreamTimeout(),
		Log:            log,
	})
	srv, err := NewServer(cfg, client, log)
	require.NoError(t, err)
	return srv.Handler()
}

func (e *testEnv) get(t *testing.T, target string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) authed(t *testing.T, target string) *httptest.ResponseRecorder {
	return e.get(t, target, map[string]string{"X-Proxy-Key": testProxyKey})
}

func TestIndexListsRoutesWithoutAuth(t *testing.T) {
	env := newTestEnv(t, false, nil)

	rec := env.get(t, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"routes":["/price","/futures-price","/balance","/futures-balance","/hedge-volume"]}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))
}

func TestUnauthorized(t *testing.T) {
	env := newTestEnv(t, true, nil)

	for _, path := range []string{"/price", "/futures-price", "/balance", "/futures-balance", "/hedge-volume?date=2025-01-01"} {
		rec := env.get(t, path, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String(), path)

		rec = env.get(t, path, map[string]string{"X-Proxy-Key": "wrong"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
	assert.Zero(t, env.binance.callCount())
}

func TestHeaderKeyTakesPrecedenceOverQuery(t *testing.T) {
	env := newTestEnv(t, false, map[string]http.HandlerFunc{
		"/api/v3/ticker/price": jsonBody(http.StatusOK, `{"symbol":"BNBUSDT","price":"600"}`),
	})

	rec := env.get(t, "/price?key="+testProxyKey, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.get(t, "/price?key="+testProxyKey, map[string]string{"X-Proxy-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEmptyConfiguredKeyRejectsEverything(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Auth.ProxyAPIKey = ""
	handler := buildHandler(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/price?key=", nil)
	req.Header.Set("X-Proxy-Key", "")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSpotPrice(t *testing.T) {
	env := newTestEnv(t, false, map[string]http.HandlerFunc{
		"/api/v3/ticker/price": jsonBody(http.StatusOK, `{"symbol":"ETHUSDT","price":"123.45"}`),
	})

	rec := env.authed(t, "/price?symbol=ethusdt")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"type":"spot","symbol":"ETHUSDT","price":123.45}`, rec.Body.String())

	call := env.binance.call("/api/v3/ticker/price")
	require.NotNil(t, call)
	assert.Equal(t, "ETHUSDT", call.URL.Query().Get("symbol"))
	assert.Empty(t, call.Header.Get(upstream.HeaderAPIKey))
}

func TestFuturesPriceDefaultsSymbol(t *testing.T) {
	env := newTestEnv(t, false, map[string]http.HandlerFunc{
		"/fapi/v1/ticker/price": jsonBody(http.StatusOK, `{"symbol":"BNBUSDT","price":"601.10","time":1}`),
	})

	rec := env.authed(t, "/futures-price")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"type":"futures","symbol":"BNBUSDT","price":601.1}`, rec.Body.String())
}

func TestUpstreamErrorIsRelayed(t *testing.T) {
	env := newTestEnv(t, false, map[string]http.HandlerFunc{
		"/api/v3/ticker/price": jsonBody(http.StatusBadRequest, `{"code":-1121,"msg":"Invalid symbol."}`),
	})

	rec := env.authed(t, "/price?symbol=nope")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"binance_error","data":{"code":-1121,"msg":"Invalid symbol."}}`, rec.Body.String())
}

func TestUpstreamTextErrorIsRelayedAsString(t *testing.T) {
	env := newTestEnv(t, false, map[string]http.HandlerFunc{
		"/fapi/v1/ticker/price": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("maintenance"))
		},
	})

	rec := env.authed(t, "/futures-price")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"binance_error","data":"maintenance"}`, rec.Body.String())
}

func TestUnparseablePriceIsProxyException(t *testing.T) {
	env := newTestEnv(t, false, map[string]http.HandlerFunc{
		"/api/v3/ticker/price": jsonBody(http.StatusOK, `{"symbol":"BNBUSDT","price":"n/a"}`),
	})

	rec := env.authed(t, "/price")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "proxy_exception", body["error"])
	assert.NotEmpty(t, body["message"])
}

func TestTransportFailureIsProxyException(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	handler := buildHandler(t, testConfig(base))
	req := httptest.NewRequest(http.MethodGet, "/price", nil)
	req.Header.Set("X-Proxy-Key", testProxyKey)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"proxy_exception"`)
	assert.NotContains(t, rec.Body.String(), "signature=")
}

func TestBalanceWithoutExchangeKeys(t *testing.T) {
	env := newTestEnv(t, false, nil)

	for _, path := range []string{"/balance", "/futures-balance", "/hedge-volume?date=2025-01-01"} {
		rec := env.authed(t, path)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.JSONEq(t, `{"error":"missing_binance_keys"}`, rec.Body.String(), path)
	}
	assert.Zero(t, env.binance.callCount())
}

func TestSpotBalance(t *testing.T) {
	env := newTestEnv(t, true, map[string]http.HandlerFunc{
		"/api/v3/account": jsonBody(http.StatusOK, `{"canTrade":true,"balances":[
			{"asset":"BTC","free":"0.5","locked":"0"},
			{"asset":"BNB","free":"1.25000000","locked":"0.50000000"}
		]}`),
	})

	rec := env.authed(t, "/balance")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"asset":"BNB","free":1.25,"locked":0.5,"total":1.75}`, rec.Body.String())

	call := env.binance.call("/api/v3/account")
	require.NotNil(t, call)
	assert.Equal(t, "api-key", call.Header.Get(upstream.HeaderAPIKey))
	q := call.URL.Query()
	assert.NotEmpty(t, q.Get("timestamp"))
	assert.Equal(t, "5000", q.Get("recvWindow"))
	assert.Len(t, q.Get("signature"), 64)
}

func TestSpotBalanceAssetAbsent(t *testing.T) {
	env := newTestEnv(t, true, map[string]http.HandlerFunc{
		"/api/v3/account": jsonBody(http.StatusOK, `{"balances":[{"asset":"BTC","free":"1","locked":"0"}]}`),
	})

	rec := env.authed(t, "/balance")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"asset":"BNB","free":0,"locked":0,"total":0}`, rec.Body.String())
}

func TestFuturesBalanceReturnsRawArray(t *testing.T) {
	raw := `[{"accountAlias":"SgsR","asset":"USDT","balance":"122.60","crossWalletBalance":"122.60"},{"asset":"BNB","balance":"0.01"}]`
	env := newTestEnv(t, true, map[string]http.HandlerFunc{
		"/fapi/v2/balance": jsonBody(http.StatusOK, raw),
	})

	rec := env.authed(t, "/futures-balance")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"balances":`+raw+`}`, rec.Body.String())
}

func TestHedgeVolumeMissingDate(t *testing.T) {
	env := newTestEnv(t, true, nil)

	rec := env.authed(t, "/hedge-volume")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"missing_date"}`, rec.Body.String())
	assert.Zero(t, env.binance.callCount())
}

func TestHedgeVolumeDateCheckedBeforeKeys(t *testing.T) {
	env := newTestEnv(t, false, nil)

	rec := env.authed(t, "/hedge-volume")
	assert.JSONEq(t, `{"error":"missing_date"}`, rec.Body.String())
}

func TestHedgeVolumeInvalidDate(t *testing.T) {
	env := newTestEnv(t, true, nil)

	for _, date := range []string{"2025-13-01", "2025-02-30", "01-01-2025", "yesterday"} {
		rec := env.authed(t, "/hedge-volume?date="+date)
		require.Equal(t, http.StatusBadRequest, rec.Code, date)
		assert.Contains(t, rec.Body.String(), `"error":"invalid_date"`, date)
	}
	assert.Zero(t, env.binance.callCount())
}

func TestHedgeVolume(t *testing.T) {
	env := newTestEnv(t, true, map[string]http.HandlerFunc{
		"/api/v3/myTrades":    jsonBody(http.StatusOK, `[{"quoteQty":"10.5"},{"quoteQty":null},{"quoteQty":"2"}]`),
		"/fapi/v1/userTrades": jsonBody(http.StatusOK, `[{"quoteQty":"100.125"},{"quoteQty":0.01},{"price":"1"}]`),
	})

	rec := env.authed(t, "/hedge-volume?date=2025-01-01")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"date":"2025-01-01","spotHedgeVolumeUSDT":12.5,"futuresHedgeVolumeUSDT":100.14}`, rec.Body.String())

	for _, path := range []string{"/api/v3/myTrades", "/fapi/v1/userTrades"} {
		call := env.binance.call(path)
		require.NotNil(t, call, path)
		q := call.URL.Query()
		assert.Equal(t, "BNBUSDT", q.Get("symbol"))
		assert.Equal(t, "1735660800000", q.Get("startTime"))
		assert.Equal(t, "1735747199000", q.Get("endTime"))
		assert.Equal(t, "1000", q.Get("limit"))
		assert.True(t, strings.HasPrefix(call.URL.RawQuery, "symbol=BNBUSDT&startTime="), call.URL.RawQuery)
	}
}

func TestHedgeVolumeDegradesPerSide(t *testing.T) {
	env := newTestEnv(t, true, map[string]http.HandlerFunc{
		"/api/v3/myTrades":    jsonBody(http.StatusBadRequest, `{"code":-1100,"msg":"Illegal characters found"}`),
		"/fapi/v1/userTrades": jsonBody(http.StatusOK, `{"unexpected":"object"}`),
	})

	rec := env.authed(t, "/hedge-volume?date=2025-01-01")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"date":"2025-01-01","spotHedgeVolumeUSDT":0,"futuresHedgeVolumeUSDT":0}`, rec.Body.String())
}

func TestHedgeVolumeNonJSONErrorStatusCountsAsZero(t *testing.T) {
	env := newTestEnv(t, true, map[string]http.HandlerFunc{
		"/api/v3/myTrades": jsonBody(http.StatusOK, `[{"quoteQty":"10.555"}]`),
		"/fapi/v1/userTrades": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("<html>bad</html>"))
		},
	})

	rec := env.authed(t, "/hedge-volume?date=2025-01-01")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"date":"2025-01-01","spotHedgeVolumeUSDT":10.56,"futuresHedgeVolumeUSDT":0}`, rec.Body.String())
}

func TestHedgeVolumeTransportFailure(t *testing.T) {
	env := newTestEnv(t, true, map[string]http.HandlerFunc{
		"/api/v3/myTrades": jsonBody(http.StatusOK, `[]`),
		"/fapi/v1/userTrades": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>gateway</html>"))
		},
	})

	rec := env.authed(t, "/hedge-volume?date=2025-01-01")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"proxy_exception"`)
}

func TestOptionsReturnsNoContent(t *testing.T) {
	env := newTestEnv(t, false, nil)

	req := httptest.NewRequest(http.MethodOptions, "/price", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	req = httptest.NewRequest(http.MethodOptions, "/hedge-volume", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", "X-Proxy-Key")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "GET")
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Proxy-Key")
}

func TestRequestIDIsPropagated(t *testing.T) {
	env := newTestEnv(t, false, nil)

	rec := env.get(t, "/", map[string]string{HeaderRequestID: "abc-123"})
	assert.Equal(t, "abc-123", rec.Header().Get(HeaderRequestID))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, false, nil)
	env.get(t, "/", nil)

	rec := env.get(t, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hedgeproxy_requests_total")
}

func TestNewServerWarnsAboutMissingCredentials(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Auth.ProxyAPIKey = ""
	log := logger.Logger()
	hook := logtest.NewLocal(log.Logger)

	_, err := NewServer(cfg, upstream.New(upstream.Options{Log: log}), log)
	require.NoError(t, err)

	var warnings []string
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			warnings = append(warnings, entry.Message)
		}
	}
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], "PROXY_API_KEY")
	assert.Contains(t, warnings[1], "binance credentials")

	hook.Reset()
	cfg.Auth.ProxyAPIKey = testProxyKey
	cfg.Binance.APIKey = "api-key"
	cfg.Binance.APISecret = "api-secret"
	_, err = NewServer(cfg, upstream.New(upstream.Options{Log: log}), log)
	require.NoError(t, err)
	for _, entry := range hook.AllEntries() {
		assert.NotEqual(t, logrus.WarnLevel, entry.Level, entry.Message)
	}
}

func TestNewServerRejectsBadOffset(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Hedge.TimezoneOffsetHours = 20
	_, err := NewServer(cfg, upstream.New(upstream.Options{}), logger.GetLogger())
	assert.Error(t, err)
}

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":                      "0.0.0.0:3000",
		"  :9090  ":             "0.0.0.0:9090",
		"localhost":             "localhost:3000",
		"0.0.0.0:80":            "0.0.0.0:80",
		"[::1]:443":             "[::1]:443",
		"::1":                   "[::1]:3000",
		"*:8080":                "0.0.0.0:8080",
		"http://10.0.0.5:8080":  "10.0.0.5:8080",
		"https://proxy.example": "proxy.example:3000",
	}

	for input, want := range cases {
		if got := normalizeAddress(input, "3000"); got != want {
			t.Fatalf("normalizeAddress(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestRunShutsDownOnCancel(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Server.Port = "0"
	srv, err := NewServer(cfg, upstream.New(upstream.Options{}), logger.GetLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
