// Package chain talks to the settlement chain: ERC-20 balance reads,
// token transfers, and transaction receipt polling.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	agentpay "github.com/agentpay-labs/agentpay-go"
)

// ErrReceiptNotFound means the transaction is not yet mined. Callers poll.
var ErrReceiptNotFound = errors.New("chain: receipt not found")

// Receipt status values, matching the EVM receipt status field.
const (
	ReceiptStatusFailed  = uint64(0)
	ReceiptStatusSuccess = uint64(1)
)

// Receipt is the confirmation of a mined transaction.
type Receipt struct {
	TxHash      string
	Status      uint64
	BlockNumber *big.Int
}

// Succeeded reports whether the transaction executed without reverting.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == ReceiptStatusSuccess
}

// Client is the chain surface the payment and verification layers need.
type Client interface {
	// BalanceOf returns the token balance of addr in base units.
	BalanceOf(ctx context.Context, addr string) (*big.Int, error)

	// TransactionReceipt returns the receipt for txHash, or
	// ErrReceiptNotFound while the transaction is pending.
	TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error)

	// SendTokenTransfer submits an ERC-20 transfer of amount base units
	// to recipient and returns the transaction hash without waiting for
	// confirmation.
	SendTokenTransfer(ctx context.Context, recipient string, amount *big.Int) (string, error)
}

// WaitForReceipt polls for the receipt of txHash at a fixed interval until
// it is found, budget elapses, or ctx is cancelled. A found receipt is
// returned regardless of its status; the caller decides what a revert
// means.
func WaitForReceipt(ctx context.Context, c Client, txHash string, interval, budget time.Duration) (*Receipt, error) {
	deadline := time.Now().Add(budget)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := c.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ErrReceiptNotFound) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s not mined within %v", agentpay.ErrReceiptTimeout, txHash, budget)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
