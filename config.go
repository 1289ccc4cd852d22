package agentpay

import (
	"fmt"
	"time"
)

// TimeoutConfig bounds every blocking protocol operation. Ledger reads are
// short; channel create/close wait for on-chain confirmation and take
// minutes; the paid resubmission blocks while the worker does the actual
// work, so its timeout must exceed the expected task latency.
type TimeoutConfig struct {
	// Submit bounds the initial unpaid job submission.
	Submit time.Duration

	// Result bounds the paid resubmission, which blocks until the worker
	// has finished the task.
	Result time.Duration

	// Signer bounds one signer call for session operations (create,
	// submit state, countersign, close).
	Signer time.Duration

	// Channel bounds one channel operation (create, transfer, close),
	// which requires on-chain confirmation.
	Channel time.Duration

	// ReceiptInterval is the fixed polling interval while waiting for a
	// transaction receipt.
	ReceiptInterval time.Duration

	// ReceiptBudget is the total time allowed for receipt polling before
	// the payment fails with ErrReceiptTimeout.
	ReceiptBudget time.Duration
}

// DefaultTimeouts provides the protocol's standard timeouts.
var DefaultTimeouts = TimeoutConfig{
	Submit:          60 * time.Second,
	Result:          300 * time.Second,
	Signer:          35 * time.Second,
	Channel:         180 * time.Second,
	ReceiptInterval: 3 * time.Second,
	ReceiptBudget:   90 * time.Second,
}

// Validate ensures timeout values are positive and mutually consistent.
func (tc TimeoutConfig) Validate() error {
	if tc.Submit <= 0 {
		return fmt.Errorf("submit timeout must be positive, got %v", tc.Submit)
	}
	if tc.Result <= 0 {
		return fmt.Errorf("result timeout must be positive, got %v", tc.Result)
	}
	if tc.Signer <= 0 {
		return fmt.Errorf("signer timeout must be positive, got %v", tc.Signer)
	}
	if tc.Channel <= 0 {
		return fmt.Errorf("channel timeout must be positive, got %v", tc.Channel)
	}
	if tc.ReceiptInterval <= 0 {
		return fmt.Errorf("receipt interval must be positive, got %v", tc.ReceiptInterval)
	}
	if tc.ReceiptBudget < tc.ReceiptInterval {
		return fmt.Errorf("receipt budget (%v) should be >= receipt interval (%v)",
			tc.ReceiptBudget, tc.ReceiptInterval)
	}
	if tc.Result < tc.Submit {
		return fmt.Errorf("result timeout (%v) should be >= submit timeout (%v)",
			tc.Result, tc.Submit)
	}
	return nil
}

// WithResult returns a copy with an updated paid-resubmission timeout.
func (tc TimeoutConfig) WithResult(d time.Duration) TimeoutConfig {
	tc.Result = d
	return tc
}

// WithReceiptBudget returns a copy with an updated receipt polling budget.
func (tc TimeoutConfig) WithReceiptBudget(d time.Duration) TimeoutConfig {
	tc.ReceiptBudget = d
	return tc
}
