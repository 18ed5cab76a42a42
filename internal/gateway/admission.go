package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/BlockchainCap/bcap-x402-payment-middleware/internal/auth"
	"github.com/BlockchainCap/bcap-x402-payment-middleware/internal/metrics"
	"github.com/BlockchainCap/bcap-x402-payment-middleware/x402"
)

// handleRelay is the single billable endpoint. A request either carries an
// x402 payment in X-Payment (deposit flow) or the three X-Auth headers
// (prepaid flow); anything else is answered with payment requirements.
func (s *Server) handleRelay(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.String(http.StatusBadRequest, "failed to read request body")
		c.Abort()
		return
	}
	s.logger.Debug("relay request", zap.Int("body_size", len(body)))

	if c.GetHeader(x402.PaymentHeader) != "" {
		s.handleDeposit(c, body)
		return
	}

	address, signature, timestamp, ok := extractAuthHeaders(c)
	if !ok {
		s.logger.Debug("no authentication headers found")
		s.requestPayment(c, errPaymentHeaderRequired)
		return
	}

	if s.replayCache.IsReplay(signature) {
		s.logger.Warn("replay detected",
			zap.String("address", address),
			zap.String("signature", signature),
		)
		s.metrics.AuthRejections.WithLabelValues(metrics.ReasonReplay).Inc()
		c.String(http.StatusUnauthorized, "Replay detected: signature already used")
		c.Abort()
		return
	}

	if err := auth.VerifyRequest(address, signature, timestamp, body); err != nil {
		s.logger.Warn("signature verification failed",
			zap.String("address", address),
			zap.Error(err),
		)
		s.metrics.AuthRejections.WithLabelValues(metrics.ReasonSignature).Inc()
		c.String(http.StatusUnauthorized, "Authentication failed: %s", err)
		c.Abort()
		return
	}

	remaining, err := s.ledger.Debit(c.Request.Context(), address, s.config.PricePerRequest, timestamp)
	if err != nil {
		s.logger.Info("insufficient balance or database error",
			zap.String("address", address),
			zap.Error(err),
			zap.Uint64("required", s.config.PricePerRequest),
		)
		s.metrics.DebitsFailed.Inc()
		s.requestPayment(c, errPaymentHeaderRequired)
		return
	}

	// Only debited requests occupy replay cache space.
	s.replayCache.Remember(signature)

	s.logger.Info("request authorized, balance deducted",
		zap.String("address", address),
		zap.Uint64("deducted", s.config.PricePerRequest),
		zap.Uint64("remaining", remaining),
	)

	s.relayToNode(c, body)
}

// extractAuthHeaders returns the authentication triple, or ok=false when
// any header is missing or the timestamp does not parse.
func extractAuthHeaders(c *gin.Context) (address, signature string, timestamp uint64, ok bool) {
	address = c.GetHeader(auth.HeaderAddress)
	signature = c.GetHeader(auth.HeaderSignature)
	timestampValue := c.GetHeader(auth.HeaderTimestamp)
	if address == "" || signature == "" || timestampValue == "" {
		return "", "", 0, false
	}

	timestamp, err := strconv.ParseUint(timestampValue, 10, 64)
	if err != nil {
		return "", "", 0, false
	}
	return address, signature, timestamp, true
}

// handleDeposit runs the x402 top-up flow: verify the payment with the
// facilitator, settle it on-chain, credit the payer's balance, then treat
// the carried request as the first billable call and relay it.
func (s *Server) handleDeposit(c *gin.Context, body []byte) {
	payload, raw, err := x402.DecodePaymentHeader(c.GetHeader(x402.PaymentHeader))
	if err != nil {
		s.logger.Warn("payment extraction failed", zap.Error(err))
		s.requestPayment(c, err.Error())
		return
	}
	if err := x402.ValidatePayloadJSON(raw); err != nil {
		s.logger.Warn("payment envelope rejected", zap.Error(err))
		s.requestPayment(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	requirements := &s.requirements[0]

	verifyResponse, err := s.facilitator.Verify(ctx, &payload, requirements)
	if err != nil {
		s.logger.Error("payment verification failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
			"error":       err.Error(),
			"x402Version": x402.Version,
		})
		return
	}
	if !verifyResponse.IsValid {
		reason := ""
		if verifyResponse.InvalidReason != nil {
			reason = *verifyResponse.InvalidReason
		}
		s.logger.Warn("invalid payment", zap.String("reason", reason))
		s.requestPayment(c, reason)
		return
	}

	payer, valueMicro, err := x402.Authorization(payload)
	if err != nil {
		s.logger.Error("failed to extract payer from payment", zap.Error(err))
		c.String(http.StatusBadRequest, "Invalid payment format")
		c.Abort()
		return
	}

	s.logger.Info("payment verified, settling and adding to balance",
		zap.String("address", payer),
		zap.Uint64("amount", valueMicro),
	)

	settleResponse, err := s.facilitator.Settle(ctx, &payload, requirements)
	if err != nil {
		s.logger.Error("payment settlement failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
			"error":       err.Error(),
			"x402Version": x402.Version,
		})
		return
	}
	if !settleResponse.Success {
		reason := ""
		if settleResponse.ErrorReason != nil {
			reason = *settleResponse.ErrorReason
		}
		s.logger.Error("payment settlement rejected", zap.String("reason", reason))
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
			"error":       reason,
			"x402Version": x402.Version,
		})
		return
	}
	s.metrics.PaymentsSettled.Inc()

	s.logger.Info("payment settled successfully", zap.String("address", payer))

	if header, err := x402.EncodePaymentResponseHeader(*settleResponse); err != nil {
		s.logger.Warn("failed to encode settle response header", zap.Error(err))
	} else {
		c.Header(x402.PaymentResponseHeader, header)
	}

	newBalance, err := s.ledger.Credit(ctx, payer, valueMicro)
	if err != nil {
		s.logger.Error("failed to add balance",
			zap.String("address", payer),
			zap.Error(err),
		)
		c.String(http.StatusInternalServerError, "Failed to process payment: %s", err)
		c.Abort()
		return
	}
	s.metrics.CreditedMicro.Add(float64(valueMicro))

	s.logger.Info("balance updated successfully",
		zap.String("address", payer),
		zap.Uint64("new_balance", newBalance),
	)

	// The deposit request is itself a billable call. A failed debit here is
	// logged, not fatal: the deposit already settled on-chain.
	now := uint64(time.Now().Unix())
	if _, err := s.ledger.Debit(ctx, payer, s.config.PricePerRequest, now); err != nil {
		s.logger.Error("failed to deduct balance after deposit",
			zap.String("address", payer),
			zap.Error(err),
		)
		s.metrics.DebitsFailed.Inc()
	}

	s.relayToNode(c, body)
}
