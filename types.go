// Package agentpay implements the agent-to-agent 402 payment protocol.
//
// A requester submits a Job to a worker over HTTP. The worker answers 402
// with a Bill naming the amount, recipient and payment method. The requester
// pays through one of the payment backends (single on-chain transfer,
// signed-state session, chunked micro-payment session, channel settlement,
// or a composite of both), then resubmits the job with the payment proof in
// the X-Payment header. The worker verifies the proof and returns a
// JobResult.
//
// Import path: github.com/agentpay-labs/agentpay-go
package agentpay

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"
)

// HeaderPayment is the HTTP header carrying the payment proof string.
const HeaderPayment = "X-Payment"

// SubmitJobPath is the worker route that accepts job submissions.
const SubmitJobPath = "/submit-job"

// AmountDecimals is the fixed-point precision of the settlement currency
// (6 decimals, USDC-compatible).
const AmountDecimals = 6

// DefaultChunkCount is the number of incremental state updates in a chunked
// session payment.
const DefaultChunkCount = 10

// PaymentMethod identifies how a bill wants to be paid. The tag values are
// part of the wire protocol: they appear in Bill.payment_method and as proof
// string prefixes.
type PaymentMethod string

const (
	// MethodOnChain is a single ERC-20 transfer, proven by a bare tx hash.
	MethodOnChain PaymentMethod = "onchain"

	// MethodChannel settles through a custody channel (create, transfer,
	// close); the close tx hash is the proof. On the wire it is
	// indistinguishable from MethodOnChain.
	MethodChannel PaymentMethod = "yellow_channel"

	// MethodSession is a signed-state session handshake. The proof is not
	// yet worker-countersigned; the worker countersigns during verification.
	MethodSession PaymentMethod = "yellow"

	// MethodSessionFull is MethodSession plus a channel settlement.
	MethodSessionFull PaymentMethod = "yellow_full"

	// MethodChunked is a session paid in DefaultChunkCount co-signed
	// increments; the final chunk is already worker-countersigned.
	MethodChunked PaymentMethod = "yellow_chunked"

	// MethodChunkedFull is MethodChunked plus a channel settlement.
	MethodChunkedFull PaymentMethod = "yellow_chunked_full"
)

// Valid reports whether m is a recognized payment method tag.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodOnChain, MethodChannel, MethodSession, MethodSessionFull, MethodChunked, MethodChunkedFull:
		return true
	}
	return false
}

// Amount is a currency amount in micro-units (6-decimal fixed point).
// It marshals to and from a JSON decimal number, so a Bill carrying
// {"amount": 0.05} round-trips as Amount(50000).
type Amount int64

// amountScale is 10^AmountDecimals.
var amountScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(AmountDecimals), nil)

// ParseAmount converts a decimal string ("0.05") to an Amount.
// Returns ErrInvalidAmount for negative, malformed, or over-precise values.
func ParseAmount(s string) (Amount, error) {
	value := new(big.Rat)
	if _, ok := value.SetString(strings.TrimSpace(s)); !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if value.Sign() < 0 {
		return 0, fmt.Errorf("%w: negative amount %q", ErrInvalidAmount, s)
	}
	value.Mul(value, new(big.Rat).SetInt(amountScale))
	if !value.IsInt() {
		return 0, fmt.Errorf("%w: more than %d decimals in %q", ErrInvalidAmount, AmountDecimals, s)
	}
	if !value.Num().IsInt64() {
		return 0, fmt.Errorf("%w: amount %q out of range", ErrInvalidAmount, s)
	}
	return Amount(value.Num().Int64()), nil
}

// Units returns the amount in atomic units as a big.Int, the form the signer
// and chain interfaces consume.
func (a Amount) Units() *big.Int {
	return big.NewInt(int64(a))
}

// Decimal renders the amount as a fixed 6-decimal string, e.g. "0.050000".
func (a Amount) Decimal() string {
	rat := new(big.Rat).SetInt64(int64(a))
	rat.Quo(rat, new(big.Rat).SetInt(amountScale))
	return rat.FloatString(AmountDecimals)
}

// MarshalJSON writes the amount as a bare decimal number.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.Decimal()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(bytes.Trim(bytes.TrimSpace(data), `"`))
	if s == "null" || s == "" {
		*a = 0
		return nil
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Job is one unit of work requested from a worker. It is immutable once
// created; job_id identifies the unit across the unpaid and paid submission.
type Job struct {
	// JobID uniquely identifies the job across both submission attempts.
	JobID string `json:"job_id"`

	// Requester is the requesting agent's identity: a 0x address or a name.
	Requester string `json:"requester"`

	// TaskType is the capability being bought, e.g. "analyze-data".
	TaskType string `json:"task_type"`

	// InputData is the task payload.
	InputData map[string]any `json:"input_data"`

	// Price is the requester's expected price; the worker's Bill wins on
	// conflict.
	Price Amount `json:"price,omitempty"`
}

// Bill is the worker's 402 response body: how much to pay, where, and how.
// A Bill is valid for exactly one job submission cycle.
type Bill struct {
	// Amount is the price in the 6-decimal settlement currency.
	Amount Amount `json:"amount"`

	// Recipient is the worker's payment address.
	Recipient string `json:"recipient"`

	// ChainID optionally names the chain for on-chain settlement.
	ChainID int64 `json:"chain_id,omitempty"`

	// Message is a human-readable bill description.
	Message string `json:"message,omitempty"`

	// PaymentMethod is the method the worker wants to be paid with. Empty
	// means on-chain. The worker, not the requester, decides the method.
	PaymentMethod PaymentMethod `json:"payment_method,omitempty"`
}

// Method returns the bill's payment method, defaulting to MethodOnChain.
func (b Bill) Method() PaymentMethod {
	if b.PaymentMethod == "" {
		return MethodOnChain
	}
	return b.PaymentMethod
}

// JobResult statuses.
const (
	StatusCompleted = "completed"
	StatusError     = "error"
)

// JobResult is the worker's response after payment verification and task
// execution. The requester only attaches metadata extracted from the proof
// it sent (SessionID, PaymentTxHash); it never alters worker-asserted
// fields.
type JobResult struct {
	// Status is "completed" or "error".
	Status string `json:"status"`

	// Result is the task output.
	Result any `json:"result,omitempty"`

	// Worker is the worker's payment address.
	Worker string `json:"worker,omitempty"`

	// AttestationUID references a review attestation created by the
	// requester after completion, if any.
	AttestationUID string `json:"attestation_uid,omitempty"`

	// Error is a human-readable failure description.
	Error string `json:"error,omitempty"`

	// SessionID is the payment session id, attached by the requester from
	// its own proof for bookkeeping and session close.
	SessionID string `json:"yellow_session_id,omitempty"`

	// PaymentTxHash is the on-chain settlement tx hash, attached by the
	// requester from its own proof.
	PaymentTxHash string `json:"payment_tx_hash,omitempty"`
}

// Completed reports whether the job finished successfully.
func (r *JobResult) Completed() bool {
	return r != nil && r.Status == StatusCompleted
}
