// Package payment executes the payer side of a bill: on-chain transfers,
// off-chain sessions, chunked sessions, and the composite methods that
// combine them.
package payment

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	agentpay "github.com/agentpay-labs/agentpay-go"
	"github.com/agentpay-labs/agentpay-go/chain"
	"github.com/agentpay-labs/agentpay-go/proof"
	"github.com/agentpay-labs/agentpay-go/signer"
)

// Backend pays bills. Construct with NewBackend; the zero value is not
// usable.
type Backend struct {
	signer        signer.Client
	chain         chain.Client
	cosign        CoSigner
	clientAddress string
	chunks        int
	timeouts      agentpay.TimeoutConfig
	logger        *slog.Logger
}

// Option configures a Backend.
type Option func(*Backend)

// WithChain enables the on-chain methods.
func WithChain(c chain.Client) Option {
	return func(b *Backend) { b.chain = c }
}

// WithCoSigner sets the transport used to request worker countersignatures
// during chunked payment. Defaults to an HTTP co-signer.
func WithCoSigner(cs CoSigner) Option {
	return func(b *Backend) { b.cosign = cs }
}

// WithChunks overrides the number of increments a chunked payment is split
// into.
func WithChunks(n int) Option {
	return func(b *Backend) { b.chunks = n }
}

// WithTimeouts overrides the timeout configuration.
func WithTimeouts(t agentpay.TimeoutConfig) Option {
	return func(b *Backend) { b.timeouts = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// NewBackend builds a Backend. sc handles all session and channel
// operations; clientAddress is the payer's address, sent to workers so
// they can countersign states.
func NewBackend(sc signer.Client, clientAddress string, opts ...Option) (*Backend, error) {
	if sc == nil {
		return nil, fmt.Errorf("payment: signer client is required")
	}
	if clientAddress == "" {
		return nil, agentpay.ErrMissingAddress
	}

	b := &Backend{
		signer:        sc,
		clientAddress: clientAddress,
		chunks:        agentpay.DefaultChunkCount,
		timeouts:      agentpay.DefaultTimeouts,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.chunks < 1 {
		return nil, fmt.Errorf("payment: chunk count must be positive, got %d", b.chunks)
	}
	if b.cosign == nil {
		b.cosign = NewHTTPCoSigner(b.timeouts.Signer)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b, nil
}

// Pay executes the payment a bill demands and returns the proof to attach
// to the resubmitted job. endpoint is the worker's base URL, needed by the
// chunked methods for countersignature requests.
func (b *Backend) Pay(ctx context.Context, bill *agentpay.Bill, endpoint string) (proof.Proof, error) {
	method := bill.Method()
	b.logger.Info("paying bill", "method", method, "amount", bill.Amount.Decimal(), "recipient", bill.Recipient)

	switch method {
	case agentpay.MethodOnChain:
		return b.PayOnChain(ctx, bill)
	case agentpay.MethodChannel:
		return b.PayChannel(ctx, bill)
	case agentpay.MethodSession:
		return b.PaySession(ctx, bill)
	case agentpay.MethodChunked:
		return b.PayChunked(ctx, bill, endpoint)
	case agentpay.MethodSessionFull:
		return b.PaySessionFull(ctx, bill)
	case agentpay.MethodChunkedFull:
		return b.PayChunkedFull(ctx, bill, endpoint)
	default:
		return nil, fmt.Errorf("%w: unsupported payment method %q", agentpay.ErrWrongMethod, method)
	}
}

// PayOnChain sends an ERC-20 transfer for the billed amount and returns
// the transaction hash as proof without waiting for confirmation.
func (b *Backend) PayOnChain(ctx context.Context, bill *agentpay.Bill) (proof.Proof, error) {
	if b.chain == nil {
		return nil, fmt.Errorf("%w: backend has no chain client", agentpay.ErrChainUnavailable)
	}
	txHash, err := b.chain.SendTokenTransfer(ctx, bill.Recipient, bill.Amount.Units())
	if err != nil {
		return nil, fmt.Errorf("payment: onchain transfer: %w", err)
	}
	b.logger.Info("transfer submitted", "tx_hash", txHash)
	return proof.OnChain{TxHash: txHash}, nil
}

// PayChannel opens a payment channel, moves the billed amount through it,
// and closes it. The close settles on chain; its transaction hash is the
// proof.
func (b *Backend) PayChannel(ctx context.Context, bill *agentpay.Bill) (proof.Proof, error) {
	if _, err := b.signer.CreateChannel(ctx); err != nil {
		return nil, fmt.Errorf("payment: create channel: %w", err)
	}
	if err := b.signer.ChannelTransfer(ctx, bill.Recipient, bill.Amount.Units()); err != nil {
		return nil, fmt.Errorf("payment: channel transfer: %w", err)
	}
	txHash, err := b.signer.CloseChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("payment: close channel: %w", err)
	}
	b.logger.Info("channel settled", "tx_hash", txHash)
	return proof.OnChain{TxHash: txHash}, nil
}

// sessionQuorum requires both participants' signatures on session state.
const sessionQuorum = 2

// PaySession opens a co-signed session with the worker and submits one
// state carrying the full billed amount. The session stays open; the
// worker countersigns during verification and the caller closes it after
// the job completes.
func (b *Backend) PaySession(ctx context.Context, bill *agentpay.Bill) (proof.Proof, error) {
	sess, err := b.signer.CreateSession(ctx, bill.Recipient, sessionQuorum)
	if err != nil {
		return nil, fmt.Errorf("payment: create session: %w", err)
	}
	b.logger.Info("session created", "session_id", sess.SessionID)

	updated, err := b.signer.SubmitState(ctx, sess.SessionID, bill.Amount.Units())
	if err != nil {
		return nil, fmt.Errorf("payment: submit state: %w", err)
	}
	return proof.Session{SessionID: updated.SessionID, Version: updated.Version}, nil
}

// PayChunked opens a channel and a co-signed session, then walks the
// billed amount up in fixed increments. Every increment is submitted as a
// new cumulative session state and countersigned by the worker before the
// next one is sent. Any failure aborts the whole payment; there is no
// partial proof.
func (b *Backend) PayChunked(ctx context.Context, bill *agentpay.Bill, endpoint string) (proof.Proof, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("%w: chunked payment needs a worker endpoint", agentpay.ErrCoSignFailed)
	}

	if _, err := b.signer.CreateChannel(ctx); err != nil {
		return nil, fmt.Errorf("payment: create channel: %w", err)
	}
	sess, err := b.signer.CreateSession(ctx, bill.Recipient, sessionQuorum)
	if err != nil {
		return nil, fmt.Errorf("payment: create session: %w", err)
	}
	b.logger.Info("chunked session created", "session_id", sess.SessionID, "chunks", b.chunks)

	total := bill.Amount.Units()
	n := big.NewInt(int64(b.chunks))
	var final *signer.Session

	for i := 1; i <= b.chunks; i++ {
		// Cumulative amount after chunk i. Integer division loses no
		// value overall: the final chunk carries the remainder and the
		// cumulative total lands exactly on the billed amount.
		cumulative := new(big.Int).Mul(total, big.NewInt(int64(i)))
		cumulative.Div(cumulative, n)

		updated, err := b.signer.SubmitState(ctx, sess.SessionID, cumulative)
		if err != nil {
			return nil, fmt.Errorf("payment: chunk %d/%d submit: %w", i, b.chunks, err)
		}

		req := CoSignRequest{
			SessionID:     updated.SessionID,
			Version:       updated.Version,
			Amount:        cumulative.String(),
			ClientAddress: b.clientAddress,
		}
		if err := b.cosign.CoSign(ctx, endpoint, req); err != nil {
			return nil, fmt.Errorf("%w: chunk %d/%d: %v", agentpay.ErrCoSignFailed, i, b.chunks, err)
		}
		b.logger.Debug("chunk co-signed", "chunk", i, "version", updated.Version, "cumulative", cumulative.String())
		final = updated
	}

	return proof.Chunked{SessionID: final.SessionID, Version: final.Version}, nil
}

// settleChannel moves the billed amount through the already-open channel
// and closes it, returning the close transaction hash.
func (b *Backend) settleChannel(ctx context.Context, bill *agentpay.Bill) (string, error) {
	if err := b.signer.ChannelTransfer(ctx, bill.Recipient, bill.Amount.Units()); err != nil {
		return "", fmt.Errorf("payment: channel transfer: %w", err)
	}
	txHash, err := b.signer.CloseChannel(ctx)
	if err != nil {
		return "", fmt.Errorf("payment: close channel: %w", err)
	}
	b.logger.Info("channel settled", "tx_hash", txHash)
	return txHash, nil
}

// PaySessionFull runs a session payment, then settles the same amount
// through a payment channel. The channel close transaction hash completes
// the composite proof.
func (b *Backend) PaySessionFull(ctx context.Context, bill *agentpay.Bill) (proof.Proof, error) {
	sessProof, err := b.PaySession(ctx, bill)
	if err != nil {
		return nil, err
	}
	if _, err := b.signer.CreateChannel(ctx); err != nil {
		return nil, fmt.Errorf("payment: create channel: %w", err)
	}
	txHash, err := b.settleChannel(ctx, bill)
	if err != nil {
		return nil, err
	}
	sp := sessProof.(proof.Session)
	return proof.SessionFull{
		SessionID: sp.SessionID,
		Version:   sp.Version,
		TxHash:    txHash,
	}, nil
}

// PayChunkedFull runs a chunked payment, then settles through the channel
// the chunked payment opened. The channel close transaction hash completes
// the composite proof.
func (b *Backend) PayChunkedFull(ctx context.Context, bill *agentpay.Bill, endpoint string) (proof.Proof, error) {
	chunkProof, err := b.PayChunked(ctx, bill, endpoint)
	if err != nil {
		return nil, err
	}
	txHash, err := b.settleChannel(ctx, bill)
	if err != nil {
		return nil, err
	}
	cp := chunkProof.(proof.Chunked)
	return proof.ChunkedFull{
		SessionID: cp.SessionID,
		Version:   cp.Version,
		TxHash:    txHash,
	}, nil
}

// CloseSession releases a session after the job is done. Callers treat
// failures as advisory; the worker holds a countersigned final state
// either way.
func (b *Backend) CloseSession(ctx context.Context, sessionID, workerAddress string) error {
	return b.signer.CloseSession(ctx, sessionID, workerAddress)
}
