package rate

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	futures "github.com/adshao/go-binance/v2/futures"

	"hedgeproxy/internal/metrics"
	"hedgeproxy/logger"
)

// FetchRequestWeightLimit queries the futures exchangeInfo endpoint to retrieve
// the REQUEST_WEIGHT per minute limit. It returns 0 if the limit cannot be
// determined.
func FetchRequestWeightLimit(ctx context.Context, client *futures.Client) (int64, error) {
	info, err := client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return 0, err
	}
	for _, rl := range info.RateLimits {
		if rl.RateLimitType == "REQUEST_WEIGHT" && rl.Interval == "MINUTE" {
			return rl.Limit, nil
		}
	}
	return 0, nil
}

// Report is the rate-limit classification of a Binance error response.
type Report struct {
	RateLimitExceeded bool
	IPBan             bool
	BannedUntil       time.Time
}

// Detect classifies an upstream failure. Binance answers 429 when the request
// weight is exhausted and 418 once the IP has been banned; the message text is
// consulted as well because proxies in front of the API may rewrite status codes.
func Detect(status int, msg string) Report {
	rateLimit, ipBan := detectLimit(msg)
	switch status {
	case http.StatusTooManyRequests:
		rateLimit = true
	case http.StatusTeapot:
		ipBan = true
	}

	report := Report{RateLimitExceeded: rateLimit && !ipBan, IPBan: ipBan}
	if ipBan {
		report.BannedUntil = bannedUntil(msg)
	}
	return report
}

func detectLimit(msg string) (rateLimit bool, ipBan bool) {
	lowerMsg := strings.ToLower(msg)
	rateLimit = strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "rate limit")
	ipBan = strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban")
	return
}

// bannedUntil extracts the millisecond timestamp from messages like
// "Way too many requests; IP banned until 1563418022012." Digit runs shorter
// than a millisecond epoch (IP octets, weights) are ignored.
func bannedUntil(msg string) time.Time {
	runs := strings.FieldsFunc(msg, func(r rune) bool { return r < '0' || r > '9' })
	for _, run := range runs {
		if len(run) < 13 {
			continue
		}
		if ms, err := strconv.ParseInt(run, 10, 64); err == nil {
			return time.UnixMilli(ms)
		}
	}
	return time.Time{}
}

// ReportLimit records rate limit and ban events for a Binance endpoint and
// returns the classification.
func ReportLimit(log *logger.Log, market, endpoint string, status int, msg string) Report {
	report := Detect(status, msg)
	if log == nil {
		log = logger.GetLogger()
	}

	fields := logger.Fields{
		"market":   market,
		"endpoint": endpoint,
		"status":   status,
	}
	l := log.WithComponent("binance").WithFields(fields)

	if report.RateLimitExceeded {
		metrics.EmitMetric(log, "binance", "rate_limit_exceeded", int64(1), "counter", logger.Fields{"market": market, "endpoint": endpoint})
		l.Warn("rate limit exceeded")
	}
	if report.IPBan {
		metrics.EmitMetric(log, "binance", "ip_ban", int64(1), "counter", logger.Fields{"market": market, "endpoint": endpoint})
		if !report.BannedUntil.IsZero() {
			l = l.WithFields(logger.Fields{"banned_until": report.BannedUntil.UTC().Format(time.RFC3339)})
		}
		l.Error("ip banned")
	}
	return report
}
