// Package signer defines the synchronous interface to the external signer
// and settlement service that owns all private-key operations for session
// and channel primitives. The transport (subprocess, local RPC) is an
// implementation detail behind the Client interface; tests use the canned
// double in signertest.
package signer

import (
	"context"
	"errors"
	"math/big"
)

// Transport and rejection errors. Transport failures are retryable at the
// orchestration layer; rejections are terminal for the current payment.
var (
	// ErrUnavailable indicates the signer process or endpoint could not be
	// reached or started.
	ErrUnavailable = errors.New("signer: unavailable")

	// ErrTimeout indicates a signer call exceeded its deadline.
	ErrTimeout = errors.New("signer: call timed out")

	// ErrRejected indicates the signer processed the command and refused
	// it.
	ErrRejected = errors.New("signer: rejected")

	// ErrBadResponse indicates the signer returned undecodable output.
	ErrBadResponse = errors.New("signer: bad response")
)

// Session is the signer's view of a signed-state session: a monotonic
// version counter over a cumulative payable amount.
type Session struct {
	// SessionID identifies the session, 0x-prefixed.
	SessionID string

	// Version is the strictly increasing state counter.
	Version int
}

// SignStateRequest asks the signer to add the worker's countersignature to
// a session state at a specific version.
type SignStateRequest struct {
	// SessionID is the session being countersigned.
	SessionID string

	// ClientAddress is the payer, needed to reconstruct the allocations.
	ClientAddress string

	// WorkerAddress is the payee.
	WorkerAddress string

	// Amount is the cumulative amount at this state, in atomic units.
	Amount *big.Int

	// Version is the state version being countersigned.
	Version int
}

// Client is the narrow synchronous interface to the signer service, one
// method per signer command. Every call blocks until the signer responds
// or ctx expires.
type Client interface {
	// CreateSession opens a new session with the given counterparty.
	// Quorum 2 requires both parties' signatures to finalize a state;
	// quorum 1 is single-party.
	CreateSession(ctx context.Context, workerAddress string, quorum int) (*Session, error)

	// SubmitState advances the session to a new cumulative amount,
	// incrementing the version. Returns the session at its new version.
	SubmitState(ctx context.Context, sessionID string, amount *big.Int) (*Session, error)

	// SignStateWorker adds the worker countersignature to a session state.
	SignStateWorker(ctx context.Context, req SignStateRequest) error

	// CloseSession finalizes and destroys a session.
	CloseSession(ctx context.Context, sessionID, workerAddress string) error

	// CreateChannel ensures the caller's custody channel exists and
	// returns its id. Creation is idempotent: an existing channel is
	// returned as-is.
	CreateChannel(ctx context.Context) (string, error)

	// ChannelTransfer moves amount to the recipient inside the channel
	// ledger, off-chain.
	ChannelTransfer(ctx context.Context, recipient string, amount *big.Int) error

	// CloseChannel settles and empties the channel on-chain, returning
	// the settlement transaction hash.
	CloseChannel(ctx context.Context) (string, error)
}
