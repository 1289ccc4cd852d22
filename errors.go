package agentpay

import "errors"

// Sentinel errors for payment operations. The orchestration layer branches
// on these with errors.Is to decide retry versus terminal failure.
var (
	// ErrInvalidAmount indicates a malformed or out-of-range amount.
	ErrInvalidAmount = errors.New("agentpay: invalid amount")

	// ErrMalformedProof indicates a proof string that could not be decoded.
	ErrMalformedProof = errors.New("agentpay: malformed payment proof")

	// ErrPaymentPending indicates an on-chain artifact not yet visible;
	// retryable after a delay, not a terminal failure.
	ErrPaymentPending = errors.New("agentpay: payment pending")

	// ErrPaymentReverted indicates a terminal on-chain rejection; never
	// retried with the same proof.
	ErrPaymentReverted = errors.New("agentpay: payment reverted")

	// ErrSignerRejected indicates the signer service refused an operation;
	// terminal for the current payment attempt.
	ErrSignerRejected = errors.New("agentpay: signer rejected")

	// ErrSignerUnavailable indicates the signer process or endpoint could
	// not be reached; retryable with backoff at the orchestration layer.
	ErrSignerUnavailable = errors.New("agentpay: signer unavailable")

	// ErrChainUnavailable indicates the blockchain RPC endpoint could not
	// be reached or timed out.
	ErrChainUnavailable = errors.New("agentpay: chain RPC unavailable")

	// ErrInsufficientBalance indicates the payer cannot cover the bill.
	ErrInsufficientBalance = errors.New("agentpay: insufficient balance")

	// ErrReceiptTimeout indicates a transaction was not confirmed within
	// the polling budget.
	ErrReceiptTimeout = errors.New("agentpay: transaction receipt timeout")

	// ErrWrongMethod indicates a proof that does not match the required
	// payment method; caller error, not retried.
	ErrWrongMethod = errors.New("agentpay: wrong payment method")

	// ErrMissingAddress indicates a required counterparty address was not
	// configured or supplied.
	ErrMissingAddress = errors.New("agentpay: missing required address")

	// ErrCoSignFailed indicates the worker's chunk co-sign call failed;
	// the whole chunked payment is aborted.
	ErrCoSignFailed = errors.New("agentpay: chunk co-sign failed")

	// ErrInvalidKey indicates an invalid private key.
	ErrInvalidKey = errors.New("agentpay: invalid private key")
)

// ReasonCode is a machine-checkable verification failure reason, returned to
// the requester in a 402 body so it can decide whether to retry, re-pay, or
// abandon.
type ReasonCode string

const (
	// ReasonInvalidTxHash indicates a tx hash with the wrong shape.
	ReasonInvalidTxHash ReasonCode = "PAYMENT_INVALID_TX_HASH"

	// ReasonRPCError indicates the verifier could not reach its RPC.
	ReasonRPCError ReasonCode = "PAYMENT_RPC_ERROR"

	// ReasonPending indicates the receipt is not yet visible; the client
	// may retry with the same proof after a delay.
	ReasonPending ReasonCode = "PAYMENT_PENDING"

	// ReasonReverted indicates the settlement transaction reverted.
	ReasonReverted ReasonCode = "PAYMENT_REVERTED"

	// ReasonError is the catch-all for unexpected verification failures.
	ReasonError ReasonCode = "PAYMENT_ERROR"

	// ReasonInvalidSessionProof indicates an undecodable session proof.
	ReasonInvalidSessionProof ReasonCode = "PAYMENT_INVALID_YELLOW_PROOF"

	// ReasonMissingSessionID indicates a session proof without an id.
	ReasonMissingSessionID ReasonCode = "PAYMENT_YELLOW_MISSING_SESSION_ID"

	// ReasonWorkerKeyMissing indicates the worker has no signing key
	// configured and cannot countersign.
	ReasonWorkerKeyMissing ReasonCode = "PAYMENT_YELLOW_WORKER_KEY_MISSING"

	// ReasonClientAddressMissing indicates no payer address was available
	// for the countersignature allocations.
	ReasonClientAddressMissing ReasonCode = "PAYMENT_YELLOW_CLIENT_ADDRESS_MISSING"

	// ReasonSignFailed indicates the signer rejected the worker
	// countersignature.
	ReasonSignFailed ReasonCode = "PAYMENT_YELLOW_SIGN_FAILED"

	// ReasonSignerError indicates the signer transport failed during
	// countersigning.
	ReasonSignerError ReasonCode = "PAYMENT_YELLOW_BRIDGE_ERROR"

	// ReasonInvalidSessionFull indicates a composite session+settlement
	// proof with the wrong prefix.
	ReasonInvalidSessionFull ReasonCode = "PAYMENT_INVALID_YELLOW_FULL"

	// ReasonSessionFullBadFormat indicates a composite session+settlement
	// proof with missing segments.
	ReasonSessionFullBadFormat ReasonCode = "PAYMENT_YELLOW_FULL_BAD_FORMAT"

	// ReasonChunkedBadProof indicates a chunked proof failing structural
	// checks (empty session id or version < 1).
	ReasonChunkedBadProof ReasonCode = "PAYMENT_YELLOW_CHUNKED_BAD_PROOF"

	// ReasonInvalidChunkedFull indicates a composite chunked+settlement
	// proof with the wrong prefix.
	ReasonInvalidChunkedFull ReasonCode = "PAYMENT_INVALID_YELLOW_CHUNKED_FULL"

	// ReasonChunkedFullBadFormat indicates a composite chunked+settlement
	// proof with missing segments.
	ReasonChunkedFullBadFormat ReasonCode = "PAYMENT_YELLOW_CHUNKED_FULL_BAD_FORMAT"
)

// Retryable reports whether a client holding the same proof may retry after
// a delay. Only pending confirmations and transport-level verifier failures
// qualify.
func (r ReasonCode) Retryable() bool {
	switch r {
	case ReasonPending, ReasonRPCError, ReasonSignerError:
		return true
	}
	return false
}

// ProtocolError is a verification or payment failure with a machine-readable
// reason alongside the human-readable message.
type ProtocolError struct {
	// Reason is the machine-checkable failure reason.
	Reason ReasonCode

	// Message is the human-readable description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	msg := string(e.Reason)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// NewProtocolError creates a ProtocolError with the given reason and message.
func NewProtocolError(reason ReasonCode, message string, err error) *ProtocolError {
	return &ProtocolError{Reason: reason, Message: message, Err: err}
}

// ReasonOf extracts the ReasonCode from an error chain, or ReasonError if
// the chain carries no ProtocolError.
func ReasonOf(err error) ReasonCode {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Reason
	}
	return ReasonError
}
