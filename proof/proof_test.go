package proof

import (
	"errors"
	"strings"
	"testing"

	agentpay "github.com/agentpay-labs/agentpay-go"
)

const (
	testSession = "0x5f7a3b2c1d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0c1d2e3f4a5b6c7d8e9f0a"
	testTx      = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		p    Proof
	}{
		{"onchain", OnChain{TxHash: testTx}},
		{"session", Session{SessionID: testSession, Version: 1}},
		{"chunked", Chunked{SessionID: testSession, Version: 10}},
		{"session_full", SessionFull{SessionID: testSession, Version: 1, TxHash: testTx}},
		{"chunked_full", ChunkedFull{SessionID: testSession, Version: 10, TxHash: testTx}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := Encode(tt.p)
			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode(%q) error = %v", encoded, err)
			}
			if decoded != tt.p {
				t.Errorf("Decode(Encode(p)) = %#v; want %#v", decoded, tt.p)
			}
		})
	}
}

func TestEncodeWireFormat(t *testing.T) {
	tests := []struct {
		name string
		p    Proof
		want string
	}{
		{"session", Session{SessionID: "0xabc", Version: 3}, "yellow|0xabc|3"},
		{"chunked", Chunked{SessionID: "0xabc", Version: 10}, "yellow_chunked|0xabc|10"},
		{
			"session_full",
			SessionFull{SessionID: "0xabc", Version: 2, TxHash: testTx},
			"yellow_full|yellow|0xabc|2|" + testTx,
		},
		{
			"chunked_full",
			ChunkedFull{SessionID: "0xabc", Version: 10, TxHash: testTx},
			"yellow_chunked_full|0xabc|10|" + testTx,
		},
		{"onchain", OnChain{TxHash: testTx}, testTx},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Encode(tt.p); got != tt.want {
				t.Errorf("Encode() = %q; want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeLegacyColonForm(t *testing.T) {
	p, err := Decode("session:" + testSession + ":version:3")
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	session, ok := p.(Session)
	if !ok {
		t.Fatalf("Decode() = %T; want Session", p)
	}
	if session.SessionID != testSession {
		t.Errorf("SessionID = %q; want %q", session.SessionID, testSession)
	}
	if session.Version != 3 {
		t.Errorf("Version = %d; want 3", session.Version)
	}

	// Encode never produces the legacy form.
	if got := Encode(session); strings.HasPrefix(got, "session:") {
		t.Errorf("Encode() produced legacy form: %q", got)
	}
}

func TestDecodeNormalizesSessionID(t *testing.T) {
	bare := strings.TrimPrefix(testSession, "0x")
	p, err := Decode("yellow|" + bare + "|1")
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got := SessionID(p); got != testSession {
		t.Errorf("SessionID = %q; want 0x-prefixed %q", got, testSession)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"empty", "", ErrEmpty},
		{"whitespace", "   ", ErrEmpty},
		{"garbage", "not-a-proof", ErrUnknownFormat},
		{"short tx hash", "0x1234", ErrBadTxHash},
		{"non-hex tx hash", "0x" + strings.Repeat("zz", 32), ErrBadTxHash},
		{"session missing id", "yellow||3", ErrMissingSessionID},
		{"session bad version", "yellow|0xabc|three", ErrBadVersion},
		{"session zero version", "yellow|0xabc|0", ErrBadVersion},
		{"session too few segments", "yellow|0xabc", ErrUnknownFormat},
		{"chunked bad version", "yellow_chunked|0xabc|x", ErrBadVersion},
		{"session_full missing tx", "yellow_full|yellow|0xabc|1", ErrUnknownFormat},
		{"session_full bad tx", "yellow_full|yellow|0xabc|1|0xnope", ErrBadTxHash},
		{"chunked_full missing segments", "yellow_chunked_full|0xabc", ErrUnknownFormat},
		{"chunked_full bad tx", "yellow_chunked_full|0xabc|10|0x12", ErrBadTxHash},
		{"legacy missing version keyword", "session:0xabc:3", ErrUnknownFormat},
		{"legacy bad version", "session:0xabc:version:x", ErrBadVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.input)
			if err == nil {
				t.Fatalf("Decode(%q) expected error", tt.input)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Decode(%q) error = %v; want %v", tt.input, err, tt.want)
			}
			if !errors.Is(err, agentpay.ErrMalformedProof) {
				t.Errorf("Decode(%q) error does not wrap ErrMalformedProof", tt.input)
			}
		})
	}
}

func TestSniff(t *testing.T) {
	tests := []struct {
		input string
		want  agentpay.PaymentMethod
	}{
		{testTx, agentpay.MethodChannel},
		{"yellow|0xabc|1", agentpay.MethodSession},
		{"session:0xabc:version:2", agentpay.MethodSession},
		{"yellow_chunked|0xabc|10", agentpay.MethodChunked},
		{"yellow_full|yellow|0xabc|1|" + testTx, agentpay.MethodSessionFull},
		{"yellow_chunked_full|0xabc|10|" + testTx, agentpay.MethodChunkedFull},
		{"0x1234", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := Sniff(tt.input); got != tt.want {
			t.Errorf("Sniff(%q) = %q; want %q", tt.input, got, tt.want)
		}
	}
}

func TestAccessors(t *testing.T) {
	full := ChunkedFull{SessionID: testSession, Version: 10, TxHash: testTx}
	if got := SessionID(full); got != testSession {
		t.Errorf("SessionID = %q; want %q", got, testSession)
	}
	if got := TxHash(full); got != testTx {
		t.Errorf("TxHash = %q; want %q", got, testTx)
	}
	if got := TxHash(Chunked{SessionID: testSession, Version: 1}); got != "" {
		t.Errorf("TxHash(Chunked) = %q; want empty", got)
	}
	if got := SessionID(OnChain{TxHash: testTx}); got != "" {
		t.Errorf("SessionID(OnChain) = %q; want empty", got)
	}
}
