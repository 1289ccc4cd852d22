// Package chaintest provides an in-memory chain.Client for tests.
package chaintest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/agentpay-labs/agentpay-go/chain"
)

// Fake is a scriptable chain.Client. Receipts are keyed by transaction
// hash; a transfer mints a deterministic hash and an immediate success
// receipt unless configured otherwise. Fake is safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	// Balances by address.
	Balances map[string]*big.Int

	// Receipts by transaction hash. Missing entries poll as not found.
	Receipts map[string]*chain.Receipt

	// NotFoundFor delays each listed hash: the first NotFoundFor[hash]
	// receipt lookups return chain.ErrReceiptNotFound before the stored
	// receipt is served.
	NotFoundFor map[string]int

	// Errs, when set, is returned by every call.
	Err error

	// Transfers records SendTokenTransfer calls.
	Transfers []Transfer

	seq int
}

// Transfer is one recorded SendTokenTransfer call.
type Transfer struct {
	Recipient string
	Amount    *big.Int
	TxHash    string
}

func (f *Fake) BalanceOf(ctx context.Context, addr string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	if b, ok := f.Balances[addr]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (f *Fake) TransactionReceipt(ctx context.Context, txHash string) (*chain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	if n := f.NotFoundFor[txHash]; n > 0 {
		f.NotFoundFor[txHash] = n - 1
		return nil, chain.ErrReceiptNotFound
	}
	r, ok := f.Receipts[txHash]
	if !ok {
		return nil, chain.ErrReceiptNotFound
	}
	return r, nil
}

func (f *Fake) SendTokenTransfer(ctx context.Context, recipient string, amount *big.Int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	f.seq++
	hash := fmt.Sprintf("0x%064x", f.seq)
	f.Transfers = append(f.Transfers, Transfer{
		Recipient: recipient,
		Amount:    new(big.Int).Set(amount),
		TxHash:    hash,
	})
	if f.Receipts == nil {
		f.Receipts = make(map[string]*chain.Receipt)
	}
	f.Receipts[hash] = &chain.Receipt{
		TxHash:      hash,
		Status:      chain.ReceiptStatusSuccess,
		BlockNumber: big.NewInt(int64(f.seq)),
	}
	return hash, nil
}

// SetReceipt stores a receipt for txHash.
func (f *Fake) SetReceipt(txHash string, status uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Receipts == nil {
		f.Receipts = make(map[string]*chain.Receipt)
	}
	f.Receipts[txHash] = &chain.Receipt{
		TxHash:      txHash,
		Status:      status,
		BlockNumber: big.NewInt(1),
	}
}

var _ chain.Client = (*Fake)(nil)
