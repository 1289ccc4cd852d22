// Package signertest provides an in-process signer.Client for tests.
package signertest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/agentpay-labs/agentpay-go/signer"
)

// Fake is a scriptable signer.Client. The zero value is usable; every
// method succeeds with deterministic output unless an error hook is set.
// Fake is safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	// SessionID is returned by CreateSession. Defaults to a fixed id.
	SessionID string

	// ChannelID and CloseTxHash are returned by the channel calls.
	ChannelID   string
	CloseTxHash string

	// CreateSessionErr, SubmitStateErr, SignStateWorkerErr, CloseSessionErr,
	// CreateChannelErr, ChannelTransferErr and CloseChannelErr, when set,
	// are returned by the corresponding call.
	CreateSessionErr   error
	SubmitStateErr     error
	SignStateWorkerErr error
	CloseSessionErr    error
	CreateChannelErr   error
	ChannelTransferErr error
	CloseChannelErr    error

	// FailSubmitAt makes SubmitState fail when it would produce this
	// version. Zero disables.
	FailSubmitAt int

	// Recorded calls.
	Versions     []int
	Amounts      []*big.Int
	SignRequests []signer.SignStateRequest
	Transfers    []*big.Int
	Closed       bool
	ChannelOpen  bool

	version int
}

var _ signer.Client = (*Fake)(nil)

const defaultSessionID = "0xab12cd34ef56010203040506070809101112131415161718192021222324ffee"

func (f *Fake) CreateSession(ctx context.Context, workerAddress string, quorum int) (*signer.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateSessionErr != nil {
		return nil, f.CreateSessionErr
	}
	if f.SessionID == "" {
		f.SessionID = defaultSessionID
	}
	f.version = 1
	return &signer.Session{SessionID: f.SessionID, Version: f.version}, nil
}

func (f *Fake) SubmitState(ctx context.Context, sessionID string, amount *big.Int) (*signer.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubmitStateErr != nil {
		return nil, f.SubmitStateErr
	}
	next := f.version + 1
	if f.FailSubmitAt != 0 && next == f.FailSubmitAt {
		return nil, fmt.Errorf("%w: submit_state: scripted failure at version %d", signer.ErrRejected, next)
	}
	f.version = next
	f.Versions = append(f.Versions, next)
	f.Amounts = append(f.Amounts, new(big.Int).Set(amount))
	return &signer.Session{SessionID: sessionID, Version: next}, nil
}

func (f *Fake) SignStateWorker(ctx context.Context, req signer.SignStateRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SignStateWorkerErr != nil {
		return f.SignStateWorkerErr
	}
	f.SignRequests = append(f.SignRequests, req)
	return nil
}

func (f *Fake) CloseSession(ctx context.Context, sessionID, workerAddress string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CloseSessionErr != nil {
		return f.CloseSessionErr
	}
	f.Closed = true
	return nil
}

func (f *Fake) CreateChannel(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateChannelErr != nil {
		return "", f.CreateChannelErr
	}
	if f.ChannelID == "" {
		f.ChannelID = "channel-1"
	}
	f.ChannelOpen = true
	return f.ChannelID, nil
}

func (f *Fake) ChannelTransfer(ctx context.Context, recipient string, amount *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ChannelTransferErr != nil {
		return f.ChannelTransferErr
	}
	f.Transfers = append(f.Transfers, new(big.Int).Set(amount))
	return nil
}

func (f *Fake) CloseChannel(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CloseChannelErr != nil {
		return "", f.CloseChannelErr
	}
	f.ChannelOpen = false
	if f.CloseTxHash == "" {
		f.CloseTxHash = "0x" + "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
	}
	return f.CloseTxHash, nil
}

// Version returns the fake's current session version.
func (f *Fake) Version() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.version
}
