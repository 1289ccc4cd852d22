package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	agentpay "github.com/agentpay-labs/agentpay-go"
	"github.com/agentpay-labs/agentpay-go/chain"
	"github.com/agentpay-labs/agentpay-go/chain/chaintest"
	"github.com/agentpay-labs/agentpay-go/payment"
	"github.com/agentpay-labs/agentpay-go/signer/signertest"
)

const (
	testWorkerAddr = "0x2222222222222222222222222222222222222222"
	testClientAddr = "0x3333333333333333333333333333333333333333"
)

func testJob() *agentpay.Job {
	return &agentpay.Job{
		JobID:     "job-1",
		Requester: testClientAddr,
		TaskType:  "summarize",
		InputData: map[string]any{"text": "hello"},
	}
}

func mustAmount(t *testing.T, s string) agentpay.Amount {
	t.Helper()
	a, err := agentpay.ParseAmount(s)
	if err != nil {
		t.Fatalf("ParseAmount(%q): %v", s, err)
	}
	return a
}

// billingWorker is an httptest handler that demands payment on the first
// submission and records the proof the client resubmits with.
type billingWorker struct {
	t    *testing.T
	bill agentpay.Bill

	mu       sync.Mutex
	submits  int
	proofs   []string
	cosigned int
}

func (w *billingWorker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case SubmitPath:
		w.mu.Lock()
		defer w.mu.Unlock()
		w.submits++
		p := r.Header.Get(agentpay.HeaderPayment)
		if p == "" {
			rw.WriteHeader(http.StatusPaymentRequired)
			json.NewEncoder(rw).Encode(w.bill)
			return
		}
		w.proofs = append(w.proofs, p)
		json.NewEncoder(rw).Encode(agentpay.JobResult{
			Status: agentpay.StatusCompleted,
			Result: map[string]any{"summary": "ok"},
			Worker: testWorkerAddr,
		})
	case payment.SignStatePath:
		w.mu.Lock()
		w.cosigned++
		w.mu.Unlock()
		rw.WriteHeader(http.StatusOK)
		rw.Write([]byte(`{"success":true}`))
	default:
		http.NotFound(rw, r)
	}
}

func newTestClient(t *testing.T, fake *signertest.Fake, opts ...ClientOption) *Client {
	t.Helper()
	backend, err := payment.NewBackend(fake, testClientAddr)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	c, err := NewClient(backend, opts...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func newOnChainClient(t *testing.T, fake *signertest.Fake, fc *chaintest.Fake, opts ...ClientOption) *Client {
	t.Helper()
	backend, err := payment.NewBackend(fake, testClientAddr, payment.WithChain(fc))
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	c, err := NewClient(backend, append([]ClientOption{WithChain(fc)}, opts...)...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestRequestJobFreeShortCircuit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Header.Get(agentpay.HeaderPayment) != "" {
			t.Error("free job carried a payment header")
		}
		json.NewEncoder(rw).Encode(agentpay.JobResult{
			Status: agentpay.StatusCompleted,
			Result: map[string]any{"echo": true},
		})
	}))
	defer srv.Close()

	var states []State
	c := newTestClient(t, &signertest.Fake{}, WithStateFunc(func(_ string, s State) {
		states = append(states, s)
	}))

	result, err := c.RequestJob(context.Background(), testJob(), srv.URL)
	if err != nil {
		t.Fatalf("RequestJob: %v", err)
	}
	if !result.Completed() {
		t.Errorf("result = %+v", result)
	}
	want := []State{StateSubmitted, StateCompleted}
	if len(states) != len(want) || states[0] != want[0] || states[1] != want[1] {
		t.Errorf("states = %v, want %v", states, want)
	}
}

func TestRequestJobOnChainFlow(t *testing.T) {
	worker := &billingWorker{t: t, bill: agentpay.Bill{
		Amount:    mustAmount(t, "0.5"),
		Recipient: testWorkerAddr,
		ChainID:   80002,
	}}
	srv := httptest.NewServer(worker)
	defer srv.Close()

	fc := &chaintest.Fake{}
	timeouts := agentpay.DefaultTimeouts
	timeouts.ReceiptInterval = time.Millisecond
	c := newOnChainClient(t, &signertest.Fake{}, fc, WithTimeouts(timeouts))

	result, err := c.RequestJob(context.Background(), testJob(), srv.URL)
	if err != nil {
		t.Fatalf("RequestJob: %v", err)
	}
	if !result.Completed() {
		t.Fatalf("result = %+v", result)
	}
	if worker.submits != 2 {
		t.Errorf("submits = %d, want 2", worker.submits)
	}
	if len(fc.Transfers) != 1 {
		t.Fatalf("transfers = %d, want 1", len(fc.Transfers))
	}
	// The proof is the bare transaction hash of the transfer we sent.
	if got := worker.proofs[0]; got != fc.Transfers[0].TxHash {
		t.Errorf("proof = %q, want %q", got, fc.Transfers[0].TxHash)
	}
	if result.PaymentTxHash != fc.Transfers[0].TxHash {
		t.Errorf("result tx = %q", result.PaymentTxHash)
	}
}

func TestRequestJobSessionFlow(t *testing.T) {
	worker := &billingWorker{t: t, bill: agentpay.Bill{
		Amount:        mustAmount(t, "1"),
		Recipient:     testWorkerAddr,
		PaymentMethod: agentpay.MethodSession,
	}}
	srv := httptest.NewServer(worker)
	defer srv.Close()

	fake := &signertest.Fake{}
	c := newTestClient(t, fake)

	result, err := c.RequestJob(context.Background(), testJob(), srv.URL)
	if err != nil {
		t.Fatalf("RequestJob: %v", err)
	}
	if result.SessionID != fake.SessionID {
		t.Errorf("result session = %q, want %q", result.SessionID, fake.SessionID)
	}
	// The billed method is honored and the proof names the session.
	want := "yellow|" + fake.SessionID + "|2"
	if got := worker.proofs[0]; got != want {
		t.Errorf("proof = %q, want %q", got, want)
	}
	if !fake.Closed {
		t.Error("session not closed after completion")
	}
}

func TestRequestJobMetadataFromOwnProof(t *testing.T) {
	bill := agentpay.Bill{
		Amount:        mustAmount(t, "1"),
		Recipient:     testWorkerAddr,
		PaymentMethod: agentpay.MethodSession,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Header.Get(agentpay.HeaderPayment) == "" {
			rw.WriteHeader(http.StatusPaymentRequired)
			json.NewEncoder(rw).Encode(bill)
			return
		}
		// A misbehaving worker asserts payment metadata of its own.
		json.NewEncoder(rw).Encode(agentpay.JobResult{
			Status:        agentpay.StatusCompleted,
			SessionID:     "0xnotmysession",
			PaymentTxHash: "0xnotmytx",
		})
	}))
	defer srv.Close()

	fake := &signertest.Fake{}
	c := newTestClient(t, fake)

	result, err := c.RequestJob(context.Background(), testJob(), srv.URL)
	if err != nil {
		t.Fatalf("RequestJob: %v", err)
	}
	if result.SessionID != fake.SessionID {
		t.Errorf("session = %q, want %q from own proof", result.SessionID, fake.SessionID)
	}
	if result.PaymentTxHash != "" {
		t.Errorf("tx hash = %q, want empty for a session proof", result.PaymentTxHash)
	}
}

func TestRequestJobChunkedFlow(t *testing.T) {
	worker := &billingWorker{t: t, bill: agentpay.Bill{
		Amount:        mustAmount(t, "1"),
		Recipient:     testWorkerAddr,
		PaymentMethod: agentpay.MethodChunked,
	}}
	srv := httptest.NewServer(worker)
	defer srv.Close()

	fake := &signertest.Fake{}
	c := newTestClient(t, fake)

	result, err := c.RequestJob(context.Background(), testJob(), srv.URL)
	if err != nil {
		t.Fatalf("RequestJob: %v", err)
	}
	if !result.Completed() {
		t.Fatalf("result = %+v", result)
	}
	if worker.cosigned != agentpay.DefaultChunkCount {
		t.Errorf("co-signed chunks = %d, want %d", worker.cosigned, agentpay.DefaultChunkCount)
	}
	want := "yellow_chunked|" + fake.SessionID + "|11"
	if got := worker.proofs[0]; got != want {
		t.Errorf("proof = %q, want %q", got, want)
	}
	if !fake.Closed {
		t.Error("session not closed after completion")
	}
}

func TestRequestJobReceiptTimeout(t *testing.T) {
	worker := &billingWorker{t: t, bill: agentpay.Bill{
		Amount:    mustAmount(t, "0.5"),
		Recipient: testWorkerAddr,
	}}
	srv := httptest.NewServer(worker)
	defer srv.Close()

	// The transfer goes out, but its receipt never appears.
	backend, err := payment.NewBackend(&signertest.Fake{}, testClientAddr,
		payment.WithChain(&chaintest.Fake{}))
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	timeouts := agentpay.DefaultTimeouts
	timeouts.ReceiptInterval = time.Millisecond
	timeouts.ReceiptBudget = 10 * time.Millisecond
	c, err := NewClient(backend, WithChain(&neverMined{}), WithTimeouts(timeouts))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if _, err := c.RequestJob(context.Background(), testJob(), srv.URL); !errors.Is(err, agentpay.ErrReceiptTimeout) {
		t.Fatalf("err = %v, want ErrReceiptTimeout", err)
	}
	if worker.submits != 1 {
		t.Errorf("submits = %d; job must not be resubmitted without confirmation", worker.submits)
	}
}

// neverMined hides every receipt.
type neverMined struct {
	chaintest.Fake
}

func (n *neverMined) TransactionReceipt(ctx context.Context, txHash string) (*chain.Receipt, error) {
	return nil, chain.ErrReceiptNotFound
}

func TestRequestJobPaymentRejected(t *testing.T) {
	bill := agentpay.Bill{
		Amount:        mustAmount(t, "1"),
		Recipient:     testWorkerAddr,
		PaymentMethod: agentpay.MethodSession,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusPaymentRequired)
		if r.Header.Get(agentpay.HeaderPayment) == "" {
			json.NewEncoder(rw).Encode(bill)
			return
		}
		rw.Write([]byte(string(agentpay.ReasonInvalidSessionProof)))
	}))
	defer srv.Close()

	c := newTestClient(t, &signertest.Fake{})
	_, err := c.RequestJob(context.Background(), testJob(), srv.URL)
	if err == nil {
		t.Fatal("expected rejection error")
	}
}

func TestRequestJobUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, &signertest.Fake{})
	if _, err := c.RequestJob(context.Background(), testJob(), srv.URL); err == nil {
		t.Fatal("expected error for 500")
	}
}

// stubAttestor records reviews.
type stubAttestor struct {
	mu      sync.Mutex
	reviews int
	err     error
}

func (s *stubAttestor) CreateJobReview(ctx context.Context, job *agentpay.Job, result *agentpay.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviews++
	return s.err
}

func TestRequestJobAttestorBestEffort(t *testing.T) {
	worker := &billingWorker{t: t, bill: agentpay.Bill{
		Amount:        mustAmount(t, "1"),
		Recipient:     testWorkerAddr,
		PaymentMethod: agentpay.MethodSession,
	}}
	srv := httptest.NewServer(worker)
	defer srv.Close()

	attestor := &stubAttestor{err: errors.New("attestation service down")}
	c := newTestClient(t, &signertest.Fake{}, WithAttestor(attestor))

	result, err := c.RequestJob(context.Background(), testJob(), srv.URL)
	if err != nil {
		t.Fatalf("RequestJob: %v (attestor failures are advisory)", err)
	}
	if !result.Completed() {
		t.Errorf("result = %+v", result)
	}
	if attestor.reviews != 1 {
		t.Errorf("reviews = %d, want 1", attestor.reviews)
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(nil); err == nil {
		t.Error("expected error for nil backend")
	}
}
