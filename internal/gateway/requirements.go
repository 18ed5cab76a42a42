package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/BlockchainCap/bcap-x402-payment-middleware/internal/config"
	"github.com/BlockchainCap/bcap-x402-payment-middleware/x402"
)

// Every deposit tops up a fixed $1.00 of access balance.
const (
	topupAmountMicro         = 1_000_000
	topupDescription         = "Top up your RPC access balance with $1 USDC"
	topupMaxTimeoutSeconds   = 300
	errPaymentHeaderRequired = "X-PAYMENT header is required"
)

// usdcExtra carries the EIP-712 domain of the settlement asset, which exact
// scheme clients need to sign the transfer authorization.
var usdcExtra = json.RawMessage(`{"name":"USDC","version":"2"}`)

// buildPaymentRequirements returns the single accepted way to pay: an exact
// USDC transfer of the topup amount on the configured network. The network
// was validated at config load, so the asset lookup cannot miss.
func buildPaymentRequirements(cfg *config.Config) []x402.PaymentRequirements {
	network := x402.Networks[cfg.Network]

	return []x402.PaymentRequirements{{
		Scheme:            x402.SchemeExact,
		Network:           cfg.Network,
		MaxAmountRequired: strconv.FormatUint(topupAmountMicro, 10),
		Resource:          fmt.Sprintf("http://localhost:%d/relay", cfg.Port),
		Description:       topupDescription,
		MimeType:          "application/json",
		PayTo:             cfg.PaymentAddress,
		MaxTimeoutSeconds: topupMaxTimeoutSeconds,
		Asset:             network.USDCAddress,
		Extra:             &usdcExtra,
	}}
}

// requestPayment answers with 402 and the payment requirements document.
func (s *Server) requestPayment(c *gin.Context, message string) {
	s.metrics.PaymentChallenges.Inc()

	c.AbortWithStatusJSON(http.StatusPaymentRequired, x402.PaymentRequired{
		X402Version: x402.Version,
		Error:       message,
		Accepts:     s.requirements,
	})
}
