// Package upstream executes public and signed GET requests against the
// Binance spot and futures REST APIs.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	futures "github.com/adshao/go-binance/v2/futures"

	"hedgeproxy/config"
	"hedgeproxy/internal/metrics"
	binancemetrics "hedgeproxy/internal/metrics/binance"
	ratemetrics "hedgeproxy/internal/metrics/rate"
	"hedgeproxy/internal/signer"
	"hedgeproxy/logger"
)

// Market selects the Binance API family a request is sent to.
type Market string

const (
	Spot    Market = "spot"
	Futures Market = "futures"
)

// HeaderAPIKey carries the public API key on signed requests.
const HeaderAPIKey = "X-MBX-APIKEY"

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 16 << 20
	userAgent      = "hedgeproxy/1.0"
)

// Response is a successful upstream answer.
type Response struct {
	Status int
	Body   json.RawMessage
	Header http.Header
}

// Options configures a Client.
type Options struct {
	SpotBaseURL    string
	FuturesBaseURL string
	APIKey         string
	APISecret      string
	RecvWindow     int64
	Timeout        time.Duration
	HTTPClient     *http.Client
	Clock          clock.Clock
	Log            *logger.Log
}

// OptionsFromConfig maps the binance section of the process configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SpotBaseURL:    cfg.Binance.SpotBaseURL,
		FuturesBaseURL: cfg.Binance.FuturesBaseURL,
		APIKey:         cfg.Binance.APIKey,
		APISecret:      cfg.Binance.APISecret,
		RecvWindow:     cfg.Binance.RecvWindowMs,
		Timeout:        cfg.UpstreamTimeout(),
	}
}

// Client issues single-shot requests to Binance. It never retries.
type Client struct {
	spotBaseURL    string
	futuresBaseURL string
	apiKey         string
	signer         *signer.Signer
	httpClient     *http.Client
	futuresSDK     *futures.Client
	log            *logger.Log
}

// New builds a client from opts. Missing base URLs fall back to the public
// Binance endpoints.
func New(opts Options) *Client {
	log := opts.Log
	if log == nil {
		log = logger.GetLogger()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
			Timeout: timeout,
		}
	}

	c := &Client{
		spotBaseURL:    strings.TrimRight(orDefault(opts.SpotBaseURL, config.DefaultSpotBaseURL), "/"),
		futuresBaseURL: strings.TrimRight(orDefault(opts.FuturesBaseURL, config.DefaultFuturesBaseURL), "/"),
		apiKey:         opts.APIKey,
		httpClient:     httpClient,
		log:            log,
	}
	if opts.APIKey != "" && opts.APISecret != "" {
		c.signer = signer.New(opts.APISecret, opts.RecvWindow, opts.Clock)
	}

	sdk := futures.NewClient(opts.APIKey, opts.APISecret)
	sdk.HTTPClient = httpClient
	sdk.SetApiEndpoint(c.futuresBaseURL)
	c.futuresSDK = sdk

	log.WithComponent("upstream").WithFields(logger.Fields{
		"spot_base_url":    c.spotBaseURL,
		"futures_base_url": c.futuresBaseURL,
		"timeout":          httpClient.Timeout.String(),
		"signed":           c.signer != nil,
	}).Info("binance client initialized")

	return c
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// HasCredentials reports whether Signed can be used.
func (c *Client) HasCredentials() bool {
	return c.signer != nil
}

// FuturesSDK returns a go-binance futures client sharing this client's
// transport and base URL.
func (c *Client) FuturesSDK() *futures.Client {
	return c.futuresSDK
}

// Public performs an unsigned GET.
func (c *Client) Public(ctx context.Context, market Market, path string, params *Params) (*Response, error) {
	return c.do(ctx, market, path, params.Encode(), false)
}

// Signed performs a GET whose query carries timestamp, recvWindow and an
// HMAC-SHA256 signature, with the API key in the X-MBX-APIKEY header.
func (c *Client) Signed(ctx context.Context, market Market, path string, params *Params) (*Response, error) {
	if c.signer == nil {
		return nil, ErrMissingCredentials
	}
	return c.do(ctx, market, path, c.signer.SignQuery(params.Encode()), true)
}

func (c *Client) baseURL(market Market) (string, error) {
	switch market {
	case Spot:
		return c.spotBaseURL, nil
	case Futures:
		return c.futuresBaseURL, nil
	default:
		return "", fmt.Errorf("unknown market %q", market)
	}
}

func (c *Client) do(ctx context.Context, market Market, path, query string, signed bool) (*Response, error) {
	log := c.log.WithComponent("upstream").WithFields(logger.Fields{
		"market":   string(market),
		"endpoint": path,
		"signed":   signed,
	})

	base, err := c.baseURL(market)
	if err != nil {
		return nil, &TransportError{Market: market, Path: path, Op: "build request", Err: err}
	}
	reqURL := base + path
	if query != "" {
		reqURL += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &TransportError{Market: market, Path: path, Op: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if signed {
		req.Header.Set(HeaderAPIKey, c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// url.Error repeats the request URL, which carries the signature.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		metrics.ObserveUpstream(string(market), path, metrics.OutcomeTransport, time.Since(start))
		log.WithError(err).Warn("binance request failed")
		return nil, &TransportError{Market: market, Path: path, Op: "request", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveUpstream(string(market), path, metrics.OutcomeTransport, duration)
		log.WithError(err).Warn("failed to read binance response")
		return nil, &TransportError{Market: market, Path: path, Op: "read body", Err: err}
	}

	logger.LogPerformanceEntry(log, "upstream", "api_request", duration, logger.Fields{
		"status": resp.StatusCode,
	})
	binancemetrics.ReportUsedWeight(c.log, resp.Header, "upstream", string(market), path)
	if signed {
		binancemetrics.ReportOrderCount(c.log, resp.Header, "upstream", string(market))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.ObserveUpstream(string(market), path, metrics.OutcomeUpstream, duration)
		upErr := &UpstreamError{Market: market, Path: path, Status: resp.StatusCode, Body: body}
		msg := string(body)
		if apiErr, ok := upErr.APIError(); ok {
			msg = apiErr.Message
		}
		ratemetrics.ReportLimit(c.log, string(market), path, resp.StatusCode, msg)
		log.WithFields(logger.Fields{"status": resp.StatusCode}).Warn("binance returned an error status")
		return nil, upErr
	}

	trimmed := bytes.TrimSpace(body)
	if !json.Valid(trimmed) {
		metrics.ObserveUpstream(string(market), path, metrics.OutcomeTransport, duration)
		log.WithFields(logger.Fields{"status": resp.StatusCode}).Warn("binance returned a non-JSON body")
		return nil, &TransportError{Market: market, Path: path, Op: "decode", Err: errors.New("response body is not valid JSON")}
	}

	metrics.ObserveUpstream(string(market), path, metrics.OutcomeSuccess, duration)
	return &Response{Status: resp.StatusCode, Body: json.RawMessage(trimmed), Header: resp.Header}, nil
}
