package proxy

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"hedgeproxy/internal/auth"
	"hedgeproxy/internal/dayrange"
	"hedgeproxy/internal/metrics"
	"hedgeproxy/logger"
	"hedgeproxy/models"
)

// HeaderRequestID is echoed on every response.
const HeaderRequestID = "X-Request-ID"

const (
	ctxRequestID = "request_id"
	ctxDayRange  = "day_range"
	ctxDate      = "date"
)

// requestContext assigns a request id, records request metrics and writes
// one access log line per request. The query string is never logged because
// it may carry the proxy key.
func (s *Server) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		id := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(HeaderRequestID, id)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		metrics.ObserveRequest(route, status, elapsed)

		entry := s.log.WithComponent("http").WithFields(logger.Fields{
			"request_id":  id,
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      status,
			"duration_ms": float64(elapsed.Microseconds()) / 1000,
			"client_ip":   c.ClientIP(),
		})
		if status >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Info("request")
	}
}

func (s *Server) requireProxyKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.auth.Authorize(auth.TokenFromRequest(c.Request)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{Error: models.ErrUnauthorized})
			return
		}
		c.Next()
	}
}

func (s *Server) requireExchangeKeys() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.client.HasCredentials() {
			c.AbortWithStatusJSON(http.StatusBadRequest, models.ErrorResponse{Error: models.ErrMissingBinanceKeys})
			return
		}
		c.Next()
	}
}

// requireDate resolves the date query parameter into the local day range.
func (s *Server) requireDate() gin.HandlerFunc {
	return func(c *gin.Context) {
		date := strings.TrimSpace(c.Query("date"))
		if date == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, models.ErrorResponse{Error: models.ErrMissingDate})
			return
		}
		rng, err := dayrange.Resolve(date, s.offset)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   models.ErrInvalidDate,
				Message: err.Error(),
			})
			return
		}
		c.Set(ctxDate, date)
		c.Set(ctxDayRange, rng)
		c.Next()
	}
}

func requestLog(s *Server, c *gin.Context, route string) *logger.Entry {
	return s.log.WithComponent("proxy").WithFields(logger.Fields{
		"request_id": c.GetString(ctxRequestID),
		"route":      route,
	})
}
