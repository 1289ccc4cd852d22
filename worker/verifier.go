// Package worker implements the paid side of the job protocol: an HTTP
// server that bills submissions, verifies payment proofs, countersigns
// session states, and runs the task.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	agentpay "github.com/agentpay-labs/agentpay-go"
	"github.com/agentpay-labs/agentpay-go/chain"
	"github.com/agentpay-labs/agentpay-go/internal/retry"
	"github.com/agentpay-labs/agentpay-go/proof"
	"github.com/agentpay-labs/agentpay-go/signer"
)

// Default receipt lookup bounds for on-chain verification.
var defaultVerifyRetry = retry.Fixed(3, 2*time.Second)

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	// Chain resolves transaction receipts. Required for the on-chain and
	// composite methods.
	Chain chain.Client

	// Signer countersigns session states with the worker's key. Nil
	// means session proofs are rejected with a worker-key reason.
	Signer signer.Client

	// WorkerAddress is this worker's address, included in
	// countersignature requests.
	WorkerAddress string

	// Retry bounds receipt lookups. Zero value means 3 attempts, 2s apart.
	Retry retry.Config

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Verifier checks payment proofs against the method a bill demanded.
type Verifier struct {
	chain   chain.Client
	signer  signer.Client
	address string
	retry   retry.Config
	logger  *slog.Logger
}

// NewVerifier builds a Verifier.
func NewVerifier(cfg VerifierConfig) *Verifier {
	r := cfg.Retry
	if r.MaxAttempts == 0 {
		r = defaultVerifyRetry
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		chain:   cfg.Chain,
		signer:  cfg.Signer,
		address: cfg.WorkerAddress,
		retry:   r,
		logger:  logger,
	}
}

// VerifyRequest is one proof to check.
type VerifyRequest struct {
	// Proof is the raw payment header value.
	Proof string

	// Method is the method the bill demanded. Empty means infer it from
	// the proof's shape.
	Method agentpay.PaymentMethod

	// ClientAddress is the payer, needed to countersign session states.
	ClientAddress string

	// Amount is the billed amount the proof must cover.
	Amount agentpay.Amount
}

// Verify checks one payment proof. A nil return means the payment is
// accepted; otherwise the error is a *agentpay.ProtocolError whose reason
// code the server relays to the client.
func (v *Verifier) Verify(ctx context.Context, req VerifyRequest) error {
	method := req.Method
	if method == "" {
		method = proof.Sniff(req.Proof)
	}

	switch method {
	case agentpay.MethodOnChain, agentpay.MethodChannel:
		return v.verifyOnChain(ctx, req.Proof)
	case agentpay.MethodSession:
		return v.verifySession(ctx, req)
	case agentpay.MethodChunked:
		return v.verifyChunked(req.Proof)
	case agentpay.MethodSessionFull:
		return v.verifySessionFull(ctx, req)
	case agentpay.MethodChunkedFull:
		return v.verifyChunkedFull(ctx, req)
	default:
		return agentpay.NewProtocolError(agentpay.ReasonError,
			fmt.Sprintf("unrecognized payment proof %.32q", req.Proof), nil)
	}
}

// verifyOnChain confirms that the proof is a mined, non-reverted
// transaction. Receipt lookups are retried; a reverted receipt is final.
func (v *Verifier) verifyOnChain(ctx context.Context, raw string) error {
	p, err := proof.Decode(raw)
	if err != nil {
		return agentpay.NewProtocolError(agentpay.ReasonInvalidTxHash, "malformed transaction hash", err)
	}
	oc, ok := p.(proof.OnChain)
	if !ok {
		return agentpay.NewProtocolError(agentpay.ReasonInvalidTxHash,
			fmt.Sprintf("expected a transaction hash, got a %s proof", p.Method()), nil)
	}
	return v.confirmTx(ctx, oc.TxHash)
}

func (v *Verifier) confirmTx(ctx context.Context, txHash string) error {
	if v.chain == nil {
		return agentpay.NewProtocolError(agentpay.ReasonRPCError, "no chain client configured", nil)
	}

	var receipt *chain.Receipt
	err := retry.Do(ctx, v.retry, func(err error) bool {
		// Reverts are final; pending and RPC failures are worth another
		// look.
		return !errors.Is(err, agentpay.ErrPaymentReverted)
	}, func(ctx context.Context) error {
		r, err := v.chain.TransactionReceipt(ctx, txHash)
		if err != nil {
			return err
		}
		if !r.Succeeded() {
			return fmt.Errorf("%w: tx %s", agentpay.ErrPaymentReverted, txHash)
		}
		receipt = r
		return nil
	})
	switch {
	case err == nil:
		v.logger.Info("payment confirmed", "tx_hash", txHash, "block", receipt.BlockNumber)
		return nil
	case errors.Is(err, agentpay.ErrPaymentReverted):
		return agentpay.NewProtocolError(agentpay.ReasonReverted,
			fmt.Sprintf("transaction %s reverted", txHash), err)
	case errors.Is(err, chain.ErrReceiptNotFound):
		return agentpay.NewProtocolError(agentpay.ReasonPending,
			fmt.Sprintf("transaction %s not yet mined", txHash), err)
	default:
		return agentpay.NewProtocolError(agentpay.ReasonRPCError,
			fmt.Sprintf("receipt lookup for %s failed", txHash), err)
	}
}

// verifySession accepts a session proof by countersigning the named state
// with the worker's key. The signer refusing to sign is the rejection.
func (v *Verifier) verifySession(ctx context.Context, req VerifyRequest) error {
	p, err := proof.Decode(req.Proof)
	if err != nil {
		if errors.Is(err, proof.ErrMissingSessionID) {
			return agentpay.NewProtocolError(agentpay.ReasonMissingSessionID, "proof carries no session id", err)
		}
		return agentpay.NewProtocolError(agentpay.ReasonInvalidSessionProof, "malformed session proof", err)
	}
	sp, ok := p.(proof.Session)
	if !ok {
		return agentpay.NewProtocolError(agentpay.ReasonInvalidSessionProof,
			fmt.Sprintf("expected a session proof, got %s", p.Method()), nil)
	}
	return v.coSign(ctx, sp.SessionID, sp.Version, req)
}

func (v *Verifier) coSign(ctx context.Context, sessionID string, version int, req VerifyRequest) error {
	if v.signer == nil {
		return agentpay.NewProtocolError(agentpay.ReasonWorkerKeyMissing,
			"worker has no session signing key", nil)
	}
	if req.ClientAddress == "" {
		return agentpay.NewProtocolError(agentpay.ReasonClientAddressMissing,
			"submission carries no client address", nil)
	}

	err := v.signer.SignStateWorker(ctx, signer.SignStateRequest{
		SessionID:     sessionID,
		ClientAddress: req.ClientAddress,
		WorkerAddress: v.address,
		Amount:        req.Amount.Units(),
		Version:       version,
	})
	switch {
	case err == nil:
		v.logger.Info("session state countersigned", "session_id", sessionID, "version", version)
		return nil
	case errors.Is(err, signer.ErrRejected):
		return agentpay.NewProtocolError(agentpay.ReasonSignFailed,
			fmt.Sprintf("signing session %s state %d failed", sessionID, version), err)
	default:
		return agentpay.NewProtocolError(agentpay.ReasonSignerError,
			"session signer unavailable", err)
	}
}

// verifyChunked checks a chunked proof structurally. The worker already
// countersigned every increment while the payment was streaming, so a
// well-formed final state is the acceptance. Re-verification of the same
// proof stays accepted.
func (v *Verifier) verifyChunked(raw string) error {
	p, err := proof.Decode(raw)
	if err != nil {
		return agentpay.NewProtocolError(agentpay.ReasonChunkedBadProof, "malformed chunked proof", err)
	}
	if _, ok := p.(proof.Chunked); !ok {
		return agentpay.NewProtocolError(agentpay.ReasonChunkedBadProof,
			fmt.Sprintf("expected a chunked proof, got %s", p.Method()), nil)
	}
	return nil
}

// verifySessionFull verifies the session leg first and only then the
// on-chain leg, so a bad session short-circuits before any RPC work.
func (v *Verifier) verifySessionFull(ctx context.Context, req VerifyRequest) error {
	p, err := proof.Decode(req.Proof)
	if err != nil {
		if errors.Is(err, proof.ErrUnknownFormat) {
			return agentpay.NewProtocolError(agentpay.ReasonSessionFullBadFormat, "malformed composite proof", err)
		}
		return agentpay.NewProtocolError(agentpay.ReasonInvalidSessionFull, "invalid composite proof", err)
	}
	sf, ok := p.(proof.SessionFull)
	if !ok {
		return agentpay.NewProtocolError(agentpay.ReasonInvalidSessionFull,
			fmt.Sprintf("expected a composite session proof, got %s", p.Method()), nil)
	}
	if err := v.coSign(ctx, sf.SessionID, sf.Version, req); err != nil {
		return err
	}
	return v.confirmTx(ctx, sf.TxHash)
}

func (v *Verifier) verifyChunkedFull(ctx context.Context, req VerifyRequest) error {
	p, err := proof.Decode(req.Proof)
	if err != nil {
		if errors.Is(err, proof.ErrUnknownFormat) {
			return agentpay.NewProtocolError(agentpay.ReasonChunkedFullBadFormat, "malformed composite proof", err)
		}
		return agentpay.NewProtocolError(agentpay.ReasonInvalidChunkedFull, "invalid composite proof", err)
	}
	cf, ok := p.(proof.ChunkedFull)
	if !ok {
		return agentpay.NewProtocolError(agentpay.ReasonInvalidChunkedFull,
			fmt.Sprintf("expected a composite chunked proof, got %s", p.Method()), nil)
	}
	return v.confirmTx(ctx, cf.TxHash)
}
