// Package gateway implements the admission pipeline in front of the
// upstream RPC node: signed-request authentication, replay protection,
// prepaid balance debits, x402 deposit handling, and the relay itself.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BlockchainCap/bcap-x402-payment-middleware/internal/auth"
	"github.com/BlockchainCap/bcap-x402-payment-middleware/internal/config"
	"github.com/BlockchainCap/bcap-x402-payment-middleware/internal/ledger"
	"github.com/BlockchainCap/bcap-x402-payment-middleware/internal/metrics"
	"github.com/BlockchainCap/bcap-x402-payment-middleware/x402"
)

const shutdownTimeout = 10 * time.Second

// Server holds the gateway's shared state. All fields are concurrency-safe;
// handlers run on independent goroutines.
type Server struct {
	config       *config.Config
	logger       *zap.Logger
	ledger       ledger.Ledger
	facilitator  *x402.FacilitatorClient
	replayCache  *auth.ReplayCache
	metrics      *metrics.Metrics
	relayClient  *http.Client
	requirements []x402.PaymentRequirements
	engine       *gin.Engine
}

// NewServer wires the admission pipeline around the given ledger backend.
func NewServer(cfg *config.Config, store ledger.Ledger, logger *zap.Logger) *Server {
	s := &Server{
		config:       cfg,
		logger:       logger,
		ledger:       store,
		facilitator:  x402.NewFacilitatorClient(cfg.FacilitatorURL),
		replayCache:  auth.NewReplayCache(auth.DefaultReplayTTL),
		metrics:      metrics.New(),
		relayClient:  newRelayClient(),
		requirements: buildPaymentRequirements(cfg),
	}
	s.metrics.RegisterReplayCacheSize(s.replayCache.Size)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), s.accessLog())

	engine.GET("/health", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	engine.POST("/relay", s.handleRelay)

	s.engine = engine
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    fmt.Sprintf("0.0.0.0:%d", s.config.Port),
		Handler: s.engine,
	}

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// accessLog tags every request with an ID and writes one structured line
// when it completes.
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := uuid.NewString()
		c.Header("X-Request-Id", requestID)

		c.Next()

		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
