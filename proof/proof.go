// Package proof encodes and decodes the payment proof strings exchanged in
// the X-Payment header. It is the only place proof strings are parsed;
// everything else works with the typed Proof variants.
//
// Grammar (pipe-delimited, first token is the method tag):
//
//	onchain:        0x<64 hex>
//	session:        yellow|<session_id>|<version>
//	chunked:        yellow_chunked|<session_id>|<version>
//	session+chain:  yellow_full|yellow|<session_id>|<version>|<tx_hash>
//	chunked+chain:  yellow_chunked_full|<session_id>|<version>|<tx_hash>
//	legacy:         session:<session_id>:version:<N>   (decode only)
package proof

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	agentpay "github.com/agentpay-labs/agentpay-go"
)

// Decode failure classes. The worker reports a specific 402 reason per
// class, so these are distinct sentinels rather than one generic error.
var (
	// ErrEmpty indicates an empty proof string.
	ErrEmpty = errors.New("proof: empty proof string")

	// ErrUnknownFormat indicates a proof matching no known grammar.
	ErrUnknownFormat = errors.New("proof: unknown proof format")

	// ErrMissingSessionID indicates a session proof without a session id.
	ErrMissingSessionID = errors.New("proof: missing session id")

	// ErrBadVersion indicates a non-integer or non-positive version.
	ErrBadVersion = errors.New("proof: version is not a positive integer")

	// ErrBadTxHash indicates a malformed transaction hash segment.
	ErrBadTxHash = errors.New("proof: malformed transaction hash")
)

// txHashRe matches a 32-byte transaction hash in 0x-prefixed hex.
var txHashRe = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// Proof is one payment proof variant. The set of implementations is closed:
// OnChain, Session, SessionFull, Chunked, ChunkedFull.
type Proof interface {
	// Method returns the payment method tag this proof satisfies.
	Method() agentpay.PaymentMethod

	isProof()
}

// OnChain proves a single settled transfer by its transaction hash.
type OnChain struct {
	TxHash string
}

// Session proves a signed-state session handshake. The worker must still
// countersign; the proof alone is not sufficient evidence of payment.
type Session struct {
	SessionID string
	Version   int
}

// SessionFull is a Session plus an on-chain channel settlement.
type SessionFull struct {
	SessionID string
	Version   int
	TxHash    string
}

// Chunked proves a fully co-signed chunked session; every chunk, including
// the final one, already carries the worker's countersignature.
type Chunked struct {
	SessionID string
	Version   int
}

// ChunkedFull is a Chunked plus an on-chain channel settlement.
type ChunkedFull struct {
	SessionID string
	Version   int
	TxHash    string
}

func (OnChain) Method() agentpay.PaymentMethod     { return agentpay.MethodOnChain }
func (Session) Method() agentpay.PaymentMethod     { return agentpay.MethodSession }
func (SessionFull) Method() agentpay.PaymentMethod { return agentpay.MethodSessionFull }
func (Chunked) Method() agentpay.PaymentMethod     { return agentpay.MethodChunked }
func (ChunkedFull) Method() agentpay.PaymentMethod { return agentpay.MethodChunkedFull }

func (OnChain) isProof()     {}
func (Session) isProof()     {}
func (SessionFull) isProof() {}
func (Chunked) isProof()     {}
func (ChunkedFull) isProof() {}

// SessionID returns the session id embedded in p, or "" for on-chain proofs.
func SessionID(p Proof) string {
	switch v := p.(type) {
	case Session:
		return v.SessionID
	case SessionFull:
		return v.SessionID
	case Chunked:
		return v.SessionID
	case ChunkedFull:
		return v.SessionID
	}
	return ""
}

// TxHash returns the settlement tx hash embedded in p, or "" for proofs
// without an on-chain leg.
func TxHash(p Proof) string {
	switch v := p.(type) {
	case OnChain:
		return v.TxHash
	case SessionFull:
		return v.TxHash
	case ChunkedFull:
		return v.TxHash
	}
	return ""
}

// Encode renders p in the wire grammar. Encode is the strict inverse of
// Decode for every variant and never produces the legacy colon form.
func Encode(p Proof) string {
	switch v := p.(type) {
	case OnChain:
		return v.TxHash
	case Session:
		return fmt.Sprintf("yellow|%s|%d", v.SessionID, v.Version)
	case Chunked:
		return fmt.Sprintf("yellow_chunked|%s|%d", v.SessionID, v.Version)
	case SessionFull:
		return fmt.Sprintf("yellow_full|yellow|%s|%d|%s", v.SessionID, v.Version, v.TxHash)
	case ChunkedFull:
		return fmt.Sprintf("yellow_chunked_full|%s|%d|%s", v.SessionID, v.Version, v.TxHash)
	}
	return ""
}

// Decode parses a wire proof string into its typed variant. Session ids are
// normalized to carry a 0x prefix. Errors wrap agentpay.ErrMalformedProof
// plus one of the classification sentinels above.
func Decode(s string) (Proof, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: %w", agentpay.ErrMalformedProof, ErrEmpty)
	}

	switch {
	case strings.HasPrefix(s, "yellow_chunked_full|"):
		parts := strings.Split(s, "|")
		if len(parts) < 4 {
			return nil, fmt.Errorf("%w: chunked_full needs 4 segments, got %d: %w",
				agentpay.ErrMalformedProof, len(parts), ErrUnknownFormat)
		}
		sid, ver, err := sessionParts(parts[1], parts[2])
		if err != nil {
			return nil, err
		}
		tx, err := txHash(parts[3])
		if err != nil {
			return nil, err
		}
		return ChunkedFull{SessionID: sid, Version: ver, TxHash: tx}, nil

	case strings.HasPrefix(s, "yellow_full|"):
		// yellow_full|yellow|<sid>|<version>|<tx>
		parts := strings.Split(s, "|")
		if len(parts) < 5 {
			return nil, fmt.Errorf("%w: session_full needs 5 segments, got %d: %w",
				agentpay.ErrMalformedProof, len(parts), ErrUnknownFormat)
		}
		sid, ver, err := sessionParts(parts[2], parts[3])
		if err != nil {
			return nil, err
		}
		tx, err := txHash(parts[4])
		if err != nil {
			return nil, err
		}
		return SessionFull{SessionID: sid, Version: ver, TxHash: tx}, nil

	case strings.HasPrefix(s, "yellow_chunked|"):
		parts := strings.Split(s, "|")
		if len(parts) < 3 {
			return nil, fmt.Errorf("%w: chunked needs 3 segments, got %d: %w",
				agentpay.ErrMalformedProof, len(parts), ErrUnknownFormat)
		}
		sid, ver, err := sessionParts(parts[1], parts[2])
		if err != nil {
			return nil, err
		}
		return Chunked{SessionID: sid, Version: ver}, nil

	case strings.HasPrefix(s, "yellow|"):
		parts := strings.Split(s, "|")
		if len(parts) < 3 {
			return nil, fmt.Errorf("%w: session needs 3 segments, got %d: %w",
				agentpay.ErrMalformedProof, len(parts), ErrUnknownFormat)
		}
		sid, ver, err := sessionParts(parts[1], parts[2])
		if err != nil {
			return nil, err
		}
		return Session{SessionID: sid, Version: ver}, nil

	case strings.HasPrefix(s, "session:"):
		// Legacy colon form: session:<sid>:version:<N>. Accepted on
		// decode only.
		parts := strings.Split(s, ":")
		if len(parts) < 4 || parts[2] != "version" {
			return nil, fmt.Errorf("%w: legacy form needs session:<id>:version:<n>: %w",
				agentpay.ErrMalformedProof, ErrUnknownFormat)
		}
		sid, ver, err := sessionParts(parts[1], parts[3])
		if err != nil {
			return nil, err
		}
		return Session{SessionID: sid, Version: ver}, nil

	case strings.HasPrefix(s, "0x"):
		tx, err := txHash(s)
		if err != nil {
			return nil, err
		}
		return OnChain{TxHash: tx}, nil
	}

	return nil, fmt.Errorf("%w: %w", agentpay.ErrMalformedProof, ErrUnknownFormat)
}

// Sniff guesses the payment method from a raw proof string without fully
// decoding it. Used by the worker when the submission did not advertise an
// explicit method. Returns "" when nothing matches.
func Sniff(s string) agentpay.PaymentMethod {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "yellow_chunked_full|"):
		return agentpay.MethodChunkedFull
	case strings.HasPrefix(s, "yellow_full|"):
		return agentpay.MethodSessionFull
	case strings.HasPrefix(s, "yellow_chunked|"):
		return agentpay.MethodChunked
	case strings.HasPrefix(s, "yellow|"), strings.HasPrefix(s, "session:"):
		return agentpay.MethodSession
	case txHashRe.MatchString(s):
		return agentpay.MethodChannel
	}
	return ""
}

// sessionParts validates and normalizes a (session id, version) pair.
func sessionParts(sid, version string) (string, int, error) {
	sid = strings.TrimSpace(sid)
	if sid == "" {
		return "", 0, fmt.Errorf("%w: %w", agentpay.ErrMalformedProof, ErrMissingSessionID)
	}
	if !strings.HasPrefix(sid, "0x") {
		sid = "0x" + sid
	}
	ver, err := strconv.Atoi(strings.TrimSpace(version))
	if err != nil || ver < 1 {
		return "", 0, fmt.Errorf("%w: %q: %w", agentpay.ErrMalformedProof, version, ErrBadVersion)
	}
	return sid, ver, nil
}

// txHash validates a 32-byte hex transaction hash.
func txHash(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !txHashRe.MatchString(s) {
		return "", fmt.Errorf("%w: %q: %w", agentpay.ErrMalformedProof, s, ErrBadTxHash)
	}
	return s, nil
}
