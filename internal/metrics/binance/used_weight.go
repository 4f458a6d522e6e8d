package binancemetrics

import (
	"net/http"
	"strconv"

	"hedgeproxy/internal/metrics"
	"hedgeproxy/logger"
)

var usedWeightHeaders = []struct {
	key    string
	window string
}{
	{"X-MBX-USED-WEIGHT-1M", "1m"},
	{"X-MBX-USED-WEIGHT", "1m"},
	{"X-MBX-USED-WEIGHT-1S", "1s"},
}

// ReportUsedWeight inspects Binance used-weight headers and emits a gauge for
// the first numeric value found. It returns the parsed weight and whether a
// metric was recorded.
func ReportUsedWeight(log *logger.Log, header http.Header, component, market, endpoint string) (float64, bool) {
	if log == nil || header == nil {
		return 0, false
	}

	for _, h := range usedWeightHeaders {
		value := header.Get(h.key)
		if value == "" {
			continue
		}

		used, err := strconv.ParseFloat(value, 64)
		if err != nil {
			log.WithComponent(component).WithFields(logger.Fields{
				"header": h.key,
				"value":  value,
			}).WithError(err).Debug("failed to parse used weight header")
			continue
		}

		fields := logger.Fields{
			"market":   market,
			"endpoint": endpoint,
			"window":   h.window,
		}
		metrics.EmitMetric(log, component, "used_weight", used, "gauge", fields)
		return used, true
	}

	return 0, false
}

// ReportOrderCount emits the X-MBX-ORDER-COUNT-* headers Binance returns on
// signed endpoints.
func ReportOrderCount(log *logger.Log, header http.Header, component, market string) int {
	if log == nil || header == nil {
		return 0
	}

	reported := 0
	for _, window := range []string{"10S", "1M", "1D"} {
		value := header.Get("X-MBX-ORDER-COUNT-" + window)
		if value == "" {
			continue
		}
		count, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		metrics.EmitMetric(log, component, "order_count", count, "gauge", logger.Fields{
			"market": market,
			"window": window,
		})
		reported++
	}
	return reported
}
