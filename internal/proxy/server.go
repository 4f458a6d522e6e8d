// Package proxy serves the authenticated HTTP surface in front of Binance.
package proxy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"hedgeproxy/config"
	"hedgeproxy/internal/auth"
	"hedgeproxy/internal/dayrange"
	"hedgeproxy/internal/metrics"
	"hedgeproxy/internal/upstream"
	"hedgeproxy/logger"
)

// Routes lists the proxied operations in the order the index reports them.
var Routes = []string{"/price", "/futures-price", "/balance", "/futures-balance", "/hedge-volume"}

// Server hosts the proxy routes.
type Server struct {
	cfg        *config.Config
	log        *logger.Log
	auth       *auth.Authenticator
	client     *upstream.Client
	offset     dayrange.Offset
	address    string
	httpServer *http.Server
}

// NewServer validates the timezone offset and prepares the router
// dependencies. cfg must not be modified afterwards.
func NewServer(cfg *config.Config, client *upstream.Client, log *logger.Log) (*Server, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	offset, err := dayrange.OffsetFromHours(cfg.Hedge.TimezoneOffsetHours)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		log:     log,
		auth:    auth.New(cfg.Auth.ProxyAPIKey),
		client:  client,
		offset:  offset,
		address: normalizeAddress(cfg.Addr(), cfg.Server.Port),
	}
	if !s.auth.Configured() {
		log.WithComponent("proxy").Warn("PROXY_API_KEY is not set; every proxied route will answer 401")
	}
	if !cfg.HasExchangeCredentials() {
		log.WithComponent("proxy").Warn("binance credentials are not set; balance and hedge-volume routes are unavailable")
	}
	return s, nil
}

// Address reports the network address the server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.address
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.address,
		Handler:      s.buildRouter(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.log.WithComponent("proxy").WithFields(logger.Fields{
		"address":  s.address,
		"offset":   s.offset.String(),
		"symbol":   s.cfg.Hedge.Symbol,
		"metrics":  s.cfg.Metrics.Enabled,
		"has_keys": s.client.HasCredentials(),
	}).Info("proxy listening")

	select {
	case <-ctx.Done():
		timeout := s.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		s.log.WithComponent("proxy").Info("proxy stopped")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	_ = router.SetTrustedProxies(nil)

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{http.MethodGet, http.MethodOptions}
	corsConfig.AllowHeaders = []string{"Content-Type", auth.HeaderProxyKey}
	corsConfig.ExposeHeaders = []string{HeaderRequestID}
	corsConfig.OptionsResponseStatusCode = http.StatusNoContent
	router.Use(cors.New(corsConfig))
	router.Use(s.requestContext())

	router.OPTIONS("/*path", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	router.GET("/", s.handleIndex)
	if s.cfg.Metrics.Enabled {
		router.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	api := router.Group("/", s.requireProxyKey())
	{
		api.GET("/price", s.handlePrice(upstream.Spot))
		api.GET("/futures-price", s.handlePrice(upstream.Futures))

		api.GET("/balance", s.requireExchangeKeys(), s.handleBalance)
		api.GET("/futures-balance", s.requireExchangeKeys(), s.handleFuturesBalance)
		api.GET("/hedge-volume", s.requireDate(), s.requireExchangeKeys(), s.handleHedgeVolume)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	})

	return router
}

func normalizeAddress(addr, defaultPort string) string {
	addr = strings.TrimSpace(addr)
	if defaultPort == "" {
		defaultPort = "3000"
	}

	if addr == "" || addr == ":" {
		return "0.0.0.0:" + defaultPort
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = defaultPort
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, defaultPort)
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, defaultPort)
	}

	return addr
}
