package gateway

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Upstream client tuning. Some RPC calls legitimately run long, so the
// total timeout is three times the connect timeout.
const (
	relayConnectTimeout   = 10 * time.Second
	relayRequestTimeout   = 30 * time.Second
	relayIdleConnsPerHost = 10
)

func newRelayClient() *http.Client {
	return &http.Client{
		Timeout: relayRequestTimeout,
		Transport: &http.Transport{
			DialContext:         (&net.Dialer{Timeout: relayConnectTimeout}).DialContext,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: relayIdleConnsPerHost,
		},
	}
}

type relayErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// relayError is the JSON-RPC error envelope synthesized when the upstream
// node cannot be reached. ID is null because the request was never parsed.
type relayError struct {
	JSONRPC string           `json:"jsonrpc"`
	Error   relayErrorDetail `json:"error"`
	ID      any              `json:"id"`
}

func newRelayError(message string) relayError {
	return relayError{
		JSONRPC: "2.0",
		Error:   relayErrorDetail{Code: -32603, Message: message},
	}
}

// relayToNode forwards the body to the upstream node and pipes the response
// back unchanged.
func (s *Server) relayToNode(c *gin.Context, body []byte) {
	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, s.config.NodeURL, bytes.NewReader(body))
	if err != nil {
		s.logger.Error("failed to relay request to node", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusBadGateway, newRelayError("Failed to connect to node: "+err.Error()))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.relayClient.Do(req)
	if err != nil {
		s.logger.Error("failed to relay request to node", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusBadGateway, newRelayError("Failed to connect to node: "+err.Error()))
		return
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		s.logger.Error("failed to read response from node", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusBadGateway, newRelayError("Failed to read node response: "+err.Error()))
		return
	}

	s.metrics.UpstreamLatency.Observe(time.Since(start).Seconds())
	s.metrics.RelaysForwarded.Inc()

	c.Data(resp.StatusCode, "application/json", responseBody)
}
