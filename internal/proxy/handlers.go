package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"hedgeproxy/config"
	"hedgeproxy/internal/aggregate"
	"hedgeproxy/internal/dayrange"
	"hedgeproxy/internal/upstream"
	"hedgeproxy/logger"
	"hedgeproxy/models"
)

// Binance REST paths used by the proxy.
const (
	pathSpotPrice      = "/api/v3/ticker/price"
	pathFuturesPrice   = "/fapi/v1/ticker/price"
	pathSpotAccount    = "/api/v3/account"
	pathFuturesBalance = "/fapi/v2/balance"
	pathSpotTrades     = "/api/v3/myTrades"
	pathFuturesTrades  = "/fapi/v1/userTrades"

	tradeLimit = "1000"
)

func (s *Server) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, models.IndexResponse{OK: true, Routes: Routes})
}

func (s *Server) handlePrice(market upstream.Market) gin.HandlerFunc {
	path, label := pathSpotPrice, models.MarketSpot
	if market == upstream.Futures {
		path, label = pathFuturesPrice, models.MarketFutures
	}

	return func(c *gin.Context) {
		symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
		if symbol == "" {
			symbol = config.DefaultSymbol
		}

		resp, err := s.client.Public(c.Request.Context(), market, path, upstream.NewParams().Add("symbol", symbol))
		if err != nil {
			s.respondError(c, c.FullPath(), err)
			return
		}

		var ticker models.BinanceTickerPrice
		if err := json.Unmarshal(resp.Body, &ticker); err != nil {
			s.respondError(c, c.FullPath(), fmt.Errorf("decode ticker: %w", err))
			return
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(ticker.Price), 64)
		if err != nil {
			s.respondError(c, c.FullPath(), fmt.Errorf("parse price %q: %w", ticker.Price, err))
			return
		}

		c.JSON(http.StatusOK, models.PriceResponse{Type: label, Symbol: symbol, Price: price})
	}
}

func (s *Server) handleBalance(c *gin.Context) {
	resp, err := s.client.Signed(c.Request.Context(), upstream.Spot, pathSpotAccount, nil)
	if err != nil {
		s.respondError(c, c.FullPath(), err)
		return
	}

	var account models.BinanceAccount
	if err := json.Unmarshal(resp.Body, &account); err != nil {
		s.respondError(c, c.FullPath(), fmt.Errorf("decode account: %w", err))
		return
	}

	asset := s.cfg.Hedge.BalanceAsset
	out := models.BalanceResponse{Asset: asset}
	if bal, ok := account.Balance(asset); ok {
		free, err := parseAmount(bal.Free)
		if err != nil {
			s.respondError(c, c.FullPath(), fmt.Errorf("parse free balance: %w", err))
			return
		}
		locked, err := parseAmount(bal.Locked)
		if err != nil {
			s.respondError(c, c.FullPath(), fmt.Errorf("parse locked balance: %w", err))
			return
		}
		out.Free = free.InexactFloat64()
		out.Locked = locked.InexactFloat64()
		out.Total = free.Add(locked).InexactFloat64()
	}

	c.JSON(http.StatusOK, out)
}

func parseAmount(v string) (decimal.Decimal, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(v)
}

func (s *Server) handleFuturesBalance(c *gin.Context) {
	resp, err := s.client.Signed(c.Request.Context(), upstream.Futures, pathFuturesBalance, nil)
	if err != nil {
		s.respondError(c, c.FullPath(), err)
		return
	}
	c.JSON(http.StatusOK, models.FuturesBalanceResponse{Balances: resp.Body})
}

type sideResult struct {
	sum aggregate.Sum
	err error
}

func (s *Server) handleHedgeVolume(c *gin.Context) {
	date := c.GetString(ctxDate)
	rng, _ := c.MustGet(ctxDayRange).(dayrange.Range)
	log := requestLog(s, c, c.FullPath()).WithFields(logger.Fields{
		"date":       date,
		"start_time": rng.Start,
		"end_time":   rng.End,
		"symbol":     s.cfg.Hedge.Symbol,
	})

	var (
		wg      sync.WaitGroup
		spot    sideResult
		futures sideResult
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		spot = s.tradeVolume(c.Request.Context(), log, upstream.Spot, pathSpotTrades, rng)
	}()
	go func() {
		defer wg.Done()
		futures = s.tradeVolume(c.Request.Context(), log, upstream.Futures, pathFuturesTrades, rng)
	}()
	wg.Wait()

	for _, side := range []sideResult{spot, futures} {
		if side.err != nil {
			s.respondError(c, c.FullPath(), side.err)
			return
		}
	}

	log.WithFields(logger.Fields{
		"spot_trades":    spot.sum.Records,
		"futures_trades": futures.sum.Records,
	}).Debug("hedge volume aggregated")

	c.JSON(http.StatusOK, models.HedgeVolumeResponse{
		Date:                   date,
		SpotHedgeVolumeUSDT:    spot.sum.Rounded(),
		FuturesHedgeVolumeUSDT: futures.sum.Rounded(),
	})
}

// tradeVolume sums one ledger. An upstream error answer or a payload that is
// not a list counts as zero volume; only transport failures are returned.
func (s *Server) tradeVolume(ctx context.Context, log *logger.Entry, market upstream.Market, path string, rng dayrange.Range) sideResult {
	params := upstream.NewParams().
		Add("symbol", s.cfg.Hedge.Symbol).
		Add("startTime", strconv.FormatInt(rng.Start, 10)).
		Add("endTime", strconv.FormatInt(rng.End, 10)).
		Add("limit", tradeLimit)

	resp, err := s.client.Signed(ctx, market, path, params)
	if err != nil {
		var upErr *upstream.UpstreamError
		if errors.As(err, &upErr) {
			log.WithFields(logger.Fields{"market": string(market), "status": upErr.Status}).
				Warn("trade history unavailable; counting side as zero")
			return sideResult{sum: aggregate.Sum{Total: decimal.Zero}}
		}
		return sideResult{err: err}
	}

	sum := aggregate.SumQuoteQty(resp.Body)
	if !sum.IsList {
		log.WithFields(logger.Fields{"market": string(market)}).Warn("trade history is not a list; counting side as zero")
	}
	if sum.Skipped > 0 {
		log.WithFields(logger.Fields{"market": string(market), "skipped": sum.Skipped}).Debug("trades without a numeric quoteQty")
	}
	return sideResult{sum: sum}
}
