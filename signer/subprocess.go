package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os/exec"
	"strings"
	"time"
)

// SubprocessConfig configures a SubprocessClient.
type SubprocessConfig struct {
	// Command is the signer invocation, e.g. ["npx", "tsx", "bridge.ts"].
	Command []string

	// Dir is the working directory for the subprocess.
	Dir string

	// PrivateKey is this party's signing key, forwarded to the signer with
	// each command. The key never leaves the signer boundary; this package
	// does no cryptography itself.
	PrivateKey string

	// Timeout bounds one signer call. Zero means DefaultTimeout.
	Timeout time.Duration

	// ChannelTimeout bounds channel create/close calls, which wait for
	// on-chain confirmation. Zero means DefaultChannelTimeout.
	ChannelTimeout time.Duration

	// Logger receives per-call debug logging. Nil means slog.Default().
	Logger *slog.Logger
}

// Default signer call timeouts.
const (
	DefaultTimeout        = 35 * time.Second
	DefaultChannelTimeout = 180 * time.Second
)

// SubprocessClient runs the signer as a subprocess per call, stdin/stdout
// JSON. Each call is independent; the signer holds all session and channel
// state.
type SubprocessClient struct {
	cfg    SubprocessConfig
	logger *slog.Logger
}

var _ Client = (*SubprocessClient)(nil)

// NewSubprocessClient validates cfg and returns a client.
func NewSubprocessClient(cfg SubprocessConfig) (*SubprocessClient, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("signer: command is required")
	}
	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("signer: private key is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ChannelTimeout == 0 {
		cfg.ChannelTimeout = DefaultChannelTimeout
	}
	cfg.PrivateKey = normalizeKey(cfg.PrivateKey)
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SubprocessClient{cfg: cfg, logger: logger}, nil
}

// response is the signer's wire envelope.
type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// call runs one signer command and decodes the envelope.
func (c *SubprocessClient) call(ctx context.Context, timeout time.Duration, command map[string]any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	input, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("signer: marshal command: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.cfg.Command[0], c.cfg.Command[1:]...)
	cmd.Dir = c.cfg.Dir
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	name, _ := command["command"].(string)
	start := time.Now()
	runErr := cmd.Run()
	c.logger.Debug("signer call", "command", name, "duration", time.Since(start), "err", runErr)

	if runErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %s after %v", ErrTimeout, name, timeout)
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		if detail == "" {
			detail = runErr.Error()
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrUnavailable, name, detail)
	}

	var resp response
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("%w: %s: %v (output: %.200s)", ErrBadResponse, name, err, stdout.String())
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: %s: %s", ErrRejected, name, resp.Error)
	}
	return resp.Data, nil
}

// CreateSession implements Client.
func (c *SubprocessClient) CreateSession(ctx context.Context, workerAddress string, quorum int) (*Session, error) {
	data, err := c.call(ctx, c.cfg.Timeout, map[string]any{
		"command":            "create_session",
		"client_private_key": c.cfg.PrivateKey,
		"worker_address":     workerAddress,
		"quorum":             quorum,
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		AppSessionID string `json:"app_session_id"`
		Version      int    `json:"version"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: create_session: %v", ErrBadResponse, err)
	}
	if out.AppSessionID == "" {
		return nil, fmt.Errorf("%w: create_session returned no app_session_id", ErrBadResponse)
	}
	if out.Version == 0 {
		out.Version = 1
	}
	return &Session{SessionID: out.AppSessionID, Version: out.Version}, nil
}

// SubmitState implements Client.
func (c *SubprocessClient) SubmitState(ctx context.Context, sessionID string, amount *big.Int) (*Session, error) {
	data, err := c.call(ctx, c.cfg.Timeout, map[string]any{
		"command":            "submit_state",
		"app_session_id":     sessionID,
		"client_private_key": c.cfg.PrivateKey,
		"amount":             amount.String(),
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		AppSessionID string `json:"app_session_id"`
		Version      int    `json:"version"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: submit_state: %v", ErrBadResponse, err)
	}
	if out.AppSessionID == "" {
		out.AppSessionID = sessionID
	}
	return &Session{SessionID: out.AppSessionID, Version: out.Version}, nil
}

// SignStateWorker implements Client.
func (c *SubprocessClient) SignStateWorker(ctx context.Context, req SignStateRequest) error {
	_, err := c.call(ctx, c.cfg.Timeout, map[string]any{
		"command":            "sign_state_worker",
		"app_session_id":     req.SessionID,
		"worker_private_key": c.cfg.PrivateKey,
		"client_address":     req.ClientAddress,
		"worker_address":     req.WorkerAddress,
		"amount":             req.Amount.String(),
		"version":            req.Version,
	})
	return err
}

// CloseSession implements Client.
func (c *SubprocessClient) CloseSession(ctx context.Context, sessionID, workerAddress string) error {
	_, err := c.call(ctx, c.cfg.Timeout, map[string]any{
		"command":            "close_session",
		"app_session_id":     sessionID,
		"client_private_key": c.cfg.PrivateKey,
		"worker_address":     workerAddress,
	})
	return err
}

// CreateChannel implements Client.
func (c *SubprocessClient) CreateChannel(ctx context.Context) (string, error) {
	data, err := c.call(ctx, c.cfg.ChannelTimeout, map[string]any{
		"command":     "create_channel",
		"private_key": c.cfg.PrivateKey,
	})
	if err != nil {
		return "", err
	}
	var out struct {
		ChannelID string `json:"channel_id"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("%w: create_channel: %v", ErrBadResponse, err)
	}
	return out.ChannelID, nil
}

// ChannelTransfer implements Client.
func (c *SubprocessClient) ChannelTransfer(ctx context.Context, recipient string, amount *big.Int) error {
	_, err := c.call(ctx, c.cfg.Timeout, map[string]any{
		"command":     "channel_transfer",
		"private_key": c.cfg.PrivateKey,
		"recipient":   recipient,
		"amount":      amount.String(),
	})
	return err
}

// CloseChannel implements Client.
func (c *SubprocessClient) CloseChannel(ctx context.Context) (string, error) {
	data, err := c.call(ctx, c.cfg.ChannelTimeout, map[string]any{
		"command":     "close_channel",
		"private_key": c.cfg.PrivateKey,
	})
	if err != nil {
		return "", err
	}
	var out struct {
		TxHash string `json:"tx_hash"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("%w: close_channel: %v", ErrBadResponse, err)
	}
	return out.TxHash, nil
}

// normalizeKey ensures a 0x prefix on a hex private key.
func normalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if !strings.HasPrefix(key, "0x") {
		return "0x" + key
	}
	return key
}

// IsTransient reports whether err is a transport-level signer failure that
// the orchestration layer may retry with backoff. Rejections are never
// transient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTimeout)
}
