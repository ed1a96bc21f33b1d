// Package middleware gates gin routes behind x402 payments. A gated request
// without a valid payment credential receives a 402 challenge describing the
// required payment; a request with a verified credential reaches the handler,
// and the payment is settled before the handler's response is released.
package middleware

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tollgate-labs/x402/facilitator"
	"github.com/tollgate-labs/x402/types"
	"github.com/tollgate-labs/x402/utils"
)

// HTTP headers carrying the payment credential and the settlement proof.
const (
	HeaderPayment         = "X-PAYMENT"
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
)

// Gin context keys populated for handlers behind a verified payment.
const (
	contextKeyRequirements   = "x402_payment_requirements"
	contextKeyVerifyResponse = "x402_verify_response"
)

// PaymentMiddleware enforces payment rules on inbound requests. It holds no
// per-request state; concurrent requests are fully independent.
type PaymentMiddleware struct {
	rules         []*rule
	maxBufferSize int
}

// New resolves cfg into an immutable middleware. All configuration problems
// (bad price, bad network, bad pattern, bad facilitator URL) surface here,
// never at request time.
func New(cfg Config) (*PaymentMiddleware, error) {
	shared, err := facilitator.NewClient(cfg.Facilitator)
	if err != nil {
		return nil, err
	}

	rules := make([]*rule, 0, len(cfg.Rules))
	for i, rc := range cfg.Rules {
		r, err := compileRule(rc, shared, i)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}

	maxBufferSize := cfg.MaxBufferSize
	if maxBufferSize == 0 {
		maxBufferSize = DefaultMaxBufferSize
	} else if maxBufferSize < 0 {
		maxBufferSize = 0
	}

	return &PaymentMiddleware{rules: rules, maxBufferSize: maxBufferSize}, nil
}

// Handler returns the gin middleware function.
func (m *PaymentMiddleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rule := m.matchRule(c.Request.URL.Path)
		if rule == nil {
			c.Next()
			return
		}

		requirements := rule.requirements(requestURL(c.Request))
		accepts := []types.PaymentRequirements{requirements}

		header := c.GetHeader(HeaderPayment)
		if header == "" {
			challenge(c, accepts, "No X-PAYMENT header provided")
			return
		}

		payment, err := utils.DecodePaymentHeader(header)
		if err != nil {
			challenge(c, accepts, "Invalid payment header format: "+err.Error())
			return
		}

		selected := selectRequirements(accepts, payment)
		if selected == nil {
			challenge(c, accepts, "No matching payment requirements found")
			return
		}

		verifyResp, err := rule.facilitator.Verify(c.Request.Context(), payment, selected)
		if err != nil {
			// Cannot tell an invalid payment from an unreachable verifier;
			// never treat the latter as a free pass.
			c.Error(err)
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
				"error": "Failed to verify payment: " + err.Error(),
			})
			return
		}
		if !verifyResp.IsValid {
			challenge(c, accepts, "Invalid payment: "+verifyResp.InvalidReason)
			return
		}

		c.Set(contextKeyRequirements, selected)
		c.Set(contextKeyVerifyResponse, verifyResp)

		// Buffer the handler response so settlement decides whether the
		// client ever sees it.
		original := c.Writer
		buffered := newBufferedWriter(original, m.maxBufferSize)
		c.Writer = buffered

		c.Next()

		c.Writer = original

		if buffered.overflow {
			log.Printf("x402: response exceeded max buffer size (%d bytes)", m.maxBufferSize)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Response too large to process payment",
			})
			return
		}

		// Handler refused the request; pass its response through unsettled.
		if buffered.Status() < 200 || buffered.Status() >= 300 {
			buffered.flush()
			return
		}

		settleResp, err := rule.facilitator.Settle(c.Request.Context(), payment, selected)
		if err != nil {
			// The handler's side effects already happened; the client is
			// informed instead of receiving an unsettled 2xx.
			log.Printf("x402: settle transport failure: %v", err)
			challenge(c, accepts, "Settle failed")
			return
		}
		if !settleResp.Success {
			challenge(c, accepts, "Settle failed: "+settleResp.ErrorReason)
			return
		}

		if encoded, err := utils.EncodeSettleResponse(settleResp); err == nil {
			buffered.Header().Set(HeaderPaymentResponse, encoded)
		} else {
			log.Printf("x402: failed to encode %s header: %v", HeaderPaymentResponse, err)
		}

		buffered.flush()
	}
}

func (m *PaymentMiddleware) matchRule(path string) *rule {
	for _, r := range m.rules {
		if matchesAny(r.paths, path) {
			return r
		}
	}
	return nil
}

// selectRequirements picks the advertised entry whose scheme and network both
// match the submitted payment.
func selectRequirements(accepts []types.PaymentRequirements, payment *types.PaymentPayload) *types.PaymentRequirements {
	for i := range accepts {
		if accepts[i].Scheme == payment.Scheme && accepts[i].Network == payment.Network {
			return &accepts[i]
		}
	}
	return nil
}

// challenge emits the 402 body advertising the accepted payment terms.
func challenge(c *gin.Context, accepts []types.PaymentRequirements, reason string) {
	c.AbortWithStatusJSON(http.StatusPaymentRequired, types.PaymentRequiredResponse{
		X402Version: types.X402Version,
		Accepts:     accepts,
		Error:       reason,
	})
}

func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// RequirementsFromContext returns the payment requirements the request was
// verified against, for handlers that need them.
func RequirementsFromContext(c *gin.Context) (*types.PaymentRequirements, bool) {
	v, ok := c.Get(contextKeyRequirements)
	if !ok {
		return nil, false
	}
	req, ok := v.(*types.PaymentRequirements)
	return req, ok
}

// VerifyResponseFromContext returns the facilitator's verification result,
// including the payer address, for handlers that need it.
func VerifyResponseFromContext(c *gin.Context) (*types.VerifyResponse, bool) {
	v, ok := c.Get(contextKeyVerifyResponse)
	if !ok {
		return nil, false
	}
	resp, ok := v.(*types.VerifyResponse)
	return resp, ok
}
