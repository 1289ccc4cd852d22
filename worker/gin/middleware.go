// Package gin provides Gin-compatible payment gating for workers. It is a
// thin adapter that translates gin.Context to stdlib http patterns and
// delegates all proof verification to the worker package.
package gin

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	agentpay "github.com/agentpay-labs/agentpay-go"
	"github.com/agentpay-labs/agentpay-go/proof"
	"github.com/agentpay-labs/agentpay-go/worker"
)

// PaymentContextKey is the gin context key holding the verified proof.
const PaymentContextKey = "agentpay_payment"

// Config configures the payment middleware.
type Config struct {
	// Price, WorkerAddress, ChainID, PaymentMethod and Message shape the
	// bill returned on unpaid requests.
	Price         agentpay.Amount
	WorkerAddress string
	ChainID       int64
	PaymentMethod agentpay.PaymentMethod
	Message       string

	// Verifier checks submitted proofs. Required.
	Verifier *worker.Verifier
}

// NewPaymentMiddleware gates a route group behind payment. Requests
// without a payment header are answered with 402 and a bill; requests
// with an invalid proof are answered with 402 and the rejection reason.
// Verified requests proceed with the decoded proof stored in the context.
func NewPaymentMiddleware(cfg Config) gin.HandlerFunc {
	bill := agentpay.Bill{
		Amount:        cfg.Price,
		Recipient:     cfg.WorkerAddress,
		ChainID:       cfg.ChainID,
		Message:       cfg.Message,
		PaymentMethod: cfg.PaymentMethod,
	}

	return func(c *gin.Context) {
		raw := c.GetHeader(agentpay.HeaderPayment)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, bill)
			return
		}

		err := cfg.Verifier.Verify(c.Request.Context(), worker.VerifyRequest{
			Proof:         raw,
			Method:        cfg.PaymentMethod,
			ClientAddress: requesterAddress(c),
			Amount:        cfg.Price,
		})
		if err != nil {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
				"reason": agentpay.ReasonOf(err),
				"error":  err.Error(),
			})
			return
		}

		if p, err := proof.Decode(raw); err == nil {
			c.Set(PaymentContextKey, p)
		}
		c.Next()
	}
}

// ProofFromContext returns the verified proof stored by the middleware,
// or nil when the request was not payment-gated.
func ProofFromContext(c *gin.Context) proof.Proof {
	value, exists := c.Get(PaymentContextKey)
	if !exists {
		return nil
	}
	p, ok := value.(proof.Proof)
	if !ok {
		return nil
	}
	return p
}

// requesterAddress extracts the payer address from the submitted job
// without consuming the body for the downstream handler.
func requesterAddress(c *gin.Context) string {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return ""
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	var job struct {
		Requester string `json:"requester"`
	}
	if err := json.Unmarshal(body, &job); err != nil {
		return ""
	}
	return job.Requester
}

// Mount registers a worker server's routes on a gin engine.
func Mount(r *gin.Engine, s *worker.Server) {
	handler := gin.WrapH(s.Handler())
	r.GET("/", handler)
	r.POST(agentpay.SubmitJobPath, handler)
	r.POST("/sign-state", handler)
	r.GET("/metrics", gin.WrapH(s.MetricsHandler()))
}
