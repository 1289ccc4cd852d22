package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"

	agentpay "github.com/agentpay-labs/agentpay-go"
	"github.com/agentpay-labs/agentpay-go/chain"
	"github.com/agentpay-labs/agentpay-go/payment"
	"github.com/agentpay-labs/agentpay-go/proof"
	"github.com/agentpay-labs/agentpay-go/signer"
)

// TaskFunc runs the actual work a job asks for.
type TaskFunc func(ctx context.Context, job *agentpay.Job) (map[string]any, error)

// Config configures a Server.
type Config struct {
	// Price billed per job.
	Price agentpay.Amount

	// ChainID advertised in bills.
	ChainID int64

	// PaymentMethod demanded in bills. Empty means on-chain, and
	// verification then infers the method from the proof's shape.
	PaymentMethod agentpay.PaymentMethod

	// WorkerAddress receives payment and signs session states.
	WorkerAddress string

	// Message is an optional human-readable note on bills.
	Message string

	// Task runs the job. Required.
	Task TaskFunc

	// Chain resolves receipts for on-chain verification. Optional.
	Chain chain.Client

	// Signer countersigns session states. Optional.
	Signer signer.Client

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Validate checks that cfg can serve jobs.
func (cfg *Config) Validate() error {
	if cfg.Task == nil {
		return fmt.Errorf("worker: task function is required")
	}
	if cfg.WorkerAddress == "" {
		return agentpay.ErrMissingAddress
	}
	if cfg.Price <= 0 {
		return fmt.Errorf("%w: price must be positive", agentpay.ErrInvalidAmount)
	}
	if cfg.PaymentMethod != "" && !cfg.PaymentMethod.Valid() {
		return fmt.Errorf("%w: %q", agentpay.ErrWrongMethod, cfg.PaymentMethod)
	}
	return nil
}

// Server serves the worker side of the protocol over HTTP.
type Server struct {
	cfg      Config
	verifier *Verifier
	metrics  *metrics
	logger   *slog.Logger

	// sessionLocks serializes countersigning per session so concurrent
	// sign-state requests cannot interleave versions.
	mu           sync.Mutex
	sessionLocks map[string]*sessionLock
}

// NewServer builds a Server.
func NewServer(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		logger: logger,
		verifier: NewVerifier(VerifierConfig{
			Chain:         cfg.Chain,
			Signer:        cfg.Signer,
			WorkerAddress: cfg.WorkerAddress,
			Logger:        logger,
		}),
		metrics:      newMetrics(),
		sessionLocks: make(map[string]*sessionLock),
	}, nil
}

// Handler returns the worker's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleHealth)
	mux.HandleFunc("POST "+agentpay.SubmitJobPath, s.handleSubmitJob)
	mux.HandleFunc("POST "+payment.SignStatePath, s.handleSignState)
	return mux
}

// PrepareChannel opens the worker's payment channel ahead of the first
// chunked payment. Safe to run in the background; failures only log.
func (s *Server) PrepareChannel(ctx context.Context) {
	if s.cfg.Signer == nil {
		return
	}
	if _, err := s.cfg.Signer.CreateChannel(ctx); err != nil {
		s.logger.Warn("channel preparation failed", "err", err)
		return
	}
	s.logger.Info("payment channel ready", "worker", s.cfg.WorkerAddress)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"worker": s.cfg.WorkerAddress,
		"price":  s.cfg.Price,
		"method": s.cfg.bill().Method(),
	})
}

func (cfg *Config) bill() *agentpay.Bill {
	return &agentpay.Bill{
		Amount:        cfg.Price,
		Recipient:     cfg.WorkerAddress,
		ChainID:       cfg.ChainID,
		Message:       cfg.Message,
		PaymentMethod: cfg.PaymentMethod,
	}
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var job agentpay.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed job"})
		return
	}

	raw := r.Header.Get(agentpay.HeaderPayment)
	if raw == "" {
		s.metrics.billed.Inc()
		s.logger.Info("billing job", "job_id", job.JobID, "task_type", job.TaskType,
			"amount", s.cfg.Price.Decimal())
		writeJSON(w, http.StatusPaymentRequired, s.cfg.bill())
		return
	}

	method := s.cfg.PaymentMethod
	if method == "" {
		method = proof.Sniff(raw)
	}
	err := s.verifier.Verify(r.Context(), VerifyRequest{
		Proof:         raw,
		Method:        s.cfg.PaymentMethod,
		ClientAddress: job.Requester,
		Amount:        s.cfg.Price,
	})
	if err != nil {
		reason := agentpay.ReasonOf(err)
		s.metrics.verifications.WithLabelValues(string(method), "rejected").Inc()
		s.logger.Warn("payment rejected", "job_id", job.JobID, "reason", reason, "err", err)
		writeJSON(w, http.StatusPaymentRequired, map[string]any{
			"reason": reason,
			"error":  err.Error(),
		})
		return
	}
	s.metrics.verifications.WithLabelValues(string(method), "accepted").Inc()

	result := s.runTask(r.Context(), &job)
	if p, err := proof.Decode(raw); err == nil {
		result.SessionID = proof.SessionID(p)
		result.PaymentTxHash = proof.TxHash(p)
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) runTask(ctx context.Context, job *agentpay.Job) *agentpay.JobResult {
	out, err := s.cfg.Task(ctx, job)
	if err != nil {
		s.metrics.jobs.WithLabelValues("error").Inc()
		s.logger.Error("task failed", "job_id", job.JobID, "err", err)
		return &agentpay.JobResult{
			Status: agentpay.StatusError,
			Worker: s.cfg.WorkerAddress,
			Error:  err.Error(),
		}
	}
	s.metrics.jobs.WithLabelValues("completed").Inc()
	s.logger.Info("job completed", "job_id", job.JobID)
	return &agentpay.JobResult{
		Status: agentpay.StatusCompleted,
		Result: out,
		Worker: s.cfg.WorkerAddress,
	}
}

// signStateRequest mirrors payment.CoSignRequest on the wire.
type signStateRequest struct {
	SessionID     string `json:"app_session_id"`
	Version       int    `json:"version"`
	Amount        string `json:"amount"`
	ClientAddress string `json:"client_address"`
}

func (s *Server) handleSignState(w http.ResponseWriter, r *http.Request) {
	var req signStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "malformed request"})
		return
	}
	if req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false, "reason": agentpay.ReasonMissingSessionID, "error": "missing app_session_id",
		})
		return
	}
	if s.cfg.Signer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"success": false, "reason": agentpay.ReasonWorkerKeyMissing, "error": "worker has no session signing key",
		})
		return
	}
	if req.ClientAddress == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false, "reason": agentpay.ReasonClientAddressMissing, "error": "missing client_address",
		})
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok || amount.Sign() < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false, "error": fmt.Sprintf("bad amount %q", req.Amount),
		})
		return
	}

	lock := s.lockSession(req.SessionID)
	defer s.unlockSession(req.SessionID, lock)

	err := s.cfg.Signer.SignStateWorker(r.Context(), signer.SignStateRequest{
		SessionID:     req.SessionID,
		ClientAddress: req.ClientAddress,
		WorkerAddress: s.cfg.WorkerAddress,
		Amount:        amount,
		Version:       req.Version,
	})
	if err != nil {
		s.metrics.cosigns.WithLabelValues("rejected").Inc()
		s.logger.Warn("countersign failed", "session_id", req.SessionID, "version", req.Version, "err", err)
		// Transport failures to the signer are the worker's fault, not
		// the payer's; only a genuine refusal is billed back as 402.
		if signer.IsTransient(err) {
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"success": false, "reason": agentpay.ReasonSignerError, "error": err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusPaymentRequired, map[string]any{
			"success": false, "reason": agentpay.ReasonSignFailed, "error": err.Error(),
		})
		return
	}
	s.metrics.cosigns.WithLabelValues("signed").Inc()
	s.logger.Info("state countersigned", "session_id", req.SessionID, "version", req.Version, "amount", req.Amount)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "version": req.Version})
}

// sessionLock is a refcounted mutex. Entries leave sessionLocks as soon as
// no request holds them, so the map stays bounded by in-flight sessions.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func (s *Server) lockSession(sessionID string) *sessionLock {
	s.mu.Lock()
	lock, ok := s.sessionLocks[sessionID]
	if !ok {
		lock = &sessionLock{}
		s.sessionLocks[sessionID] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return lock
}

func (s *Server) unlockSession(sessionID string, lock *sessionLock) {
	lock.mu.Unlock()
	s.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(s.sessionLocks, sessionID)
	}
	s.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
