package proxy

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"hedgeproxy/internal/upstream"
	"hedgeproxy/logger"
	"hedgeproxy/models"
)

// respondError maps an error from the upstream chain to the JSON contract:
// upstream answers are relayed with their status, everything else is a 500.
func (s *Server) respondError(c *gin.Context, route string, err error) {
	log := requestLog(s, c, route)

	var upErr *upstream.UpstreamError
	switch {
	case errors.As(err, &upErr):
		log.WithFields(logger.Fields{"status": upErr.Status}).Info("relaying binance error")
		c.JSON(upErr.Status, models.ErrorResponse{Error: models.ErrBinance, Data: upErr.Data()})
	case errors.Is(err, upstream.ErrMissingCredentials):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: models.ErrMissingBinanceKeys})
	default:
		log.WithError(err).Error("proxy request failed")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   models.ErrProxyException,
			Message: err.Error(),
		})
	}
}
