package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// CoSignRequest asks a worker to countersign one session state. Amount is
// the cumulative session amount in token base units.
type CoSignRequest struct {
	SessionID     string `json:"app_session_id"`
	Version       int    `json:"version"`
	Amount        string `json:"amount"`
	ClientAddress string `json:"client_address"`
}

// CoSigner delivers countersignature requests to a worker.
type CoSigner interface {
	CoSign(ctx context.Context, endpoint string, req CoSignRequest) error
}

// SignStatePath is the worker route that countersigns session states.
const SignStatePath = "/sign-state"

// HTTPCoSigner posts countersignature requests to the worker's sign-state
// route.
type HTTPCoSigner struct {
	client *http.Client
}

var _ CoSigner = (*HTTPCoSigner)(nil)

// NewHTTPCoSigner returns a co-signer with the given per-request timeout.
func NewHTTPCoSigner(timeout time.Duration) *HTTPCoSigner {
	return &HTTPCoSigner{client: &http.Client{Timeout: timeout}}
}

// CoSign implements CoSigner.
func (h *HTTPCoSigner) CoSign(ctx context.Context, endpoint string, req CoSignRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("cosign: marshal request: %w", err)
	}

	url := strings.TrimRight(endpoint, "/") + SignStatePath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("cosign: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("cosign: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("cosign: worker returned %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}
