// Package http drives the requester side of the job protocol: submit a
// job, pay the bill a 402 response carries, and resubmit with proof.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	agentpay "github.com/agentpay-labs/agentpay-go"
	"github.com/agentpay-labs/agentpay-go/chain"
	"github.com/agentpay-labs/agentpay-go/payment"
	"github.com/agentpay-labs/agentpay-go/proof"
)

// SubmitPath is the worker route that accepts jobs.
const SubmitPath = agentpay.SubmitJobPath

// State names a phase of one job request.
type State string

const (
	StateSubmitted            State = "submitted"
	StateAwaitingPayment      State = "awaiting_payment"
	StatePaying               State = "paying"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateResubmitted          State = "resubmitted"
	StateCompleted            State = "completed"
	StateFailed               State = "failed"
)

// StateFunc observes state transitions during RequestJob.
type StateFunc func(jobID string, state State)

// Attestor records a review of a completed job. Failures are advisory and
// never fail the job.
type Attestor interface {
	CreateJobReview(ctx context.Context, job *agentpay.Job, result *agentpay.JobResult) error
}

// Client submits jobs to workers and settles their bills.
type Client struct {
	http     *http.Client
	backend  *payment.Backend
	chain    chain.Client
	attestor Attestor
	onState  StateFunc
	timeouts agentpay.TimeoutConfig
	logger   *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client) error

// NewClient builds a client around a payment backend.
func NewClient(backend *payment.Backend, opts ...ClientOption) (*Client, error) {
	if backend == nil {
		return nil, fmt.Errorf("http: payment backend is required")
	}
	c := &Client{
		http:     &http.Client{},
		backend:  backend,
		timeouts: agentpay.DefaultTimeouts,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if err := c.timeouts.Validate(); err != nil {
		return nil, err
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// WithHTTPClient sets a custom underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) error {
		if hc == nil {
			return fmt.Errorf("http: nil http client")
		}
		c.http = hc
		return nil
	}
}

// WithChain enables receipt confirmation for proofs that settle on chain.
func WithChain(cc chain.Client) ClientOption {
	return func(c *Client) error {
		c.chain = cc
		return nil
	}
}

// WithAttestor records a best-effort review after each completed job.
func WithAttestor(a Attestor) ClientOption {
	return func(c *Client) error {
		c.attestor = a
		return nil
	}
}

// WithStateFunc observes state transitions.
func WithStateFunc(fn StateFunc) ClientOption {
	return func(c *Client) error {
		c.onState = fn
		return nil
	}
}

// WithTimeouts overrides the timeout configuration.
func WithTimeouts(t agentpay.TimeoutConfig) ClientOption {
	return func(c *Client) error {
		c.timeouts = t
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) error {
		c.logger = l
		return nil
	}
}

func (c *Client) setState(jobID string, s State) {
	if c.onState != nil {
		c.onState(jobID, s)
	}
}

// RequestJob runs the full protocol against the worker at endpoint: submit
// the job, pay the bill if the worker demands one, confirm settlement when
// the proof carries a transaction, and resubmit with the proof attached.
// A worker that accepts the first submission outright short-circuits the
// payment entirely.
func (c *Client) RequestJob(ctx context.Context, job *agentpay.Job, endpoint string) (*agentpay.JobResult, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("http: marshal job: %w", err)
	}
	url := strings.TrimRight(endpoint, "/") + SubmitPath

	c.setState(job.JobID, StateSubmitted)
	c.logger.Info("submitting job", "job_id", job.JobID, "task_type", job.TaskType, "endpoint", endpoint)

	status, respBody, err := c.post(ctx, url, body, "", c.timeouts.Submit)
	if err != nil {
		c.setState(job.JobID, StateFailed)
		return nil, fmt.Errorf("http: submit job: %w", err)
	}

	switch status {
	case http.StatusOK:
		// Worker took the job without payment.
		result, err := decodeResult(respBody)
		if err != nil {
			c.setState(job.JobID, StateFailed)
			return nil, err
		}
		c.setState(job.JobID, StateCompleted)
		c.review(ctx, job, result)
		return result, nil
	case http.StatusPaymentRequired:
	default:
		c.setState(job.JobID, StateFailed)
		return nil, fmt.Errorf("http: worker returned %d: %s", status, truncate(respBody))
	}

	c.setState(job.JobID, StateAwaitingPayment)
	var bill agentpay.Bill
	if err := json.Unmarshal(respBody, &bill); err != nil {
		c.setState(job.JobID, StateFailed)
		return nil, fmt.Errorf("http: decode bill: %w", err)
	}
	c.logger.Info("bill received", "job_id", job.JobID,
		"amount", bill.Amount.Decimal(), "method", bill.Method(), "recipient", bill.Recipient)

	c.setState(job.JobID, StatePaying)
	p, err := c.backend.Pay(ctx, &bill, endpoint)
	if err != nil {
		c.setState(job.JobID, StateFailed)
		return nil, fmt.Errorf("http: pay bill for job %s: %w", job.JobID, err)
	}

	// Proofs that settle on chain are confirmed before resubmission so the
	// worker's verification finds a mined transaction.
	if txHash := proof.TxHash(p); txHash != "" && c.chain != nil {
		c.setState(job.JobID, StateAwaitingConfirmation)
		receipt, err := chain.WaitForReceipt(ctx, c.chain, txHash,
			c.timeouts.ReceiptInterval, c.timeouts.ReceiptBudget)
		if err != nil {
			c.setState(job.JobID, StateFailed)
			return nil, fmt.Errorf("http: confirm payment for job %s: %w", job.JobID, err)
		}
		if !receipt.Succeeded() {
			c.setState(job.JobID, StateFailed)
			return nil, fmt.Errorf("%w: tx %s", agentpay.ErrPaymentReverted, txHash)
		}
		c.logger.Info("payment confirmed", "job_id", job.JobID, "tx_hash", txHash, "block", receipt.BlockNumber)
	}

	c.setState(job.JobID, StateResubmitted)
	encoded := proof.Encode(p)
	status, respBody, err = c.post(ctx, url, body, encoded, c.timeouts.Result)
	if err != nil {
		c.setState(job.JobID, StateFailed)
		return nil, fmt.Errorf("http: resubmit job: %w", err)
	}
	if status != http.StatusOK {
		c.setState(job.JobID, StateFailed)
		return nil, fmt.Errorf("http: payment rejected (%d): %s", status, truncate(respBody))
	}

	result, err := decodeResult(respBody)
	if err != nil {
		c.setState(job.JobID, StateFailed)
		return nil, err
	}
	// Payment metadata on the result comes from the proof this client
	// sent, never from whatever the worker echoed back.
	result.SessionID = proof.SessionID(p)
	result.PaymentTxHash = proof.TxHash(p)

	c.closeSession(ctx, &bill, p)
	c.setState(job.JobID, StateCompleted)
	c.review(ctx, job, result)
	return result, nil
}

// closeSession releases a plain or chunked session once the job is done.
// Composite and channel proofs already settled on chain, and failures here
// are advisory.
func (c *Client) closeSession(ctx context.Context, bill *agentpay.Bill, p proof.Proof) {
	switch p.Method() {
	case agentpay.MethodSession, agentpay.MethodChunked:
	default:
		return
	}
	if err := c.backend.CloseSession(ctx, proof.SessionID(p), bill.Recipient); err != nil {
		c.logger.Warn("session close failed", "session_id", proof.SessionID(p), "err", err)
	}
}

// review records a best-effort attestation of the completed job.
func (c *Client) review(ctx context.Context, job *agentpay.Job, result *agentpay.JobResult) {
	if c.attestor == nil {
		return
	}
	if err := c.attestor.CreateJobReview(ctx, job, result); err != nil {
		c.logger.Warn("job review failed", "job_id", job.JobID, "err", err)
	}
}

// post sends body to url with an optional payment header and a per-call
// deadline, returning the status and the full response body.
func (c *Client) post(ctx context.Context, url string, body []byte, paymentHeader string, timeout time.Duration) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if paymentHeader != "" {
		req.Header.Set(agentpay.HeaderPayment, paymentHeader)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

func decodeResult(body []byte) (*agentpay.JobResult, error) {
	var result agentpay.JobResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("http: decode result: %w", err)
	}
	return &result, nil
}

func truncate(b []byte) string {
	const max = 256
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
