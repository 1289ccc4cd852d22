package agentpay

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want Amount
	}{
		{"0", 0},
		{"0.05", 50000},
		{"1", 1000000},
		{"1.5", 1500000},
		{"0.000001", 1},
		{"1000000", 1000000000000},
		{" 2.25 ", 2250000},
	}
	for _, tt := range tests {
		got, err := ParseAmount(tt.in)
		if err != nil {
			t.Errorf("ParseAmount(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAmount(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseAmountRejects(t *testing.T) {
	for _, in := range []string{"", "abc", "-1", "0.0000001", "1e100000"} {
		if _, err := ParseAmount(in); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("ParseAmount(%q) err = %v, want ErrInvalidAmount", in, err)
		}
	}
}

func TestAmountUnitsAndDecimal(t *testing.T) {
	a, err := ParseAmount("1.5")
	if err != nil {
		t.Fatal(err)
	}
	if a.Units().Cmp(big.NewInt(1500000)) != 0 {
		t.Errorf("Units() = %s", a.Units())
	}
	if got := a.Decimal(); got != "1.500000" {
		t.Errorf("Decimal() = %q", got)
	}
}

func TestAmountJSONRoundTrip(t *testing.T) {
	// Amounts appear on the wire as bare decimal numbers.
	bill := Bill{Amount: 50000, Recipient: "0xabc"}
	data, err := json.Marshal(bill)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Bill
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Amount != bill.Amount {
		t.Errorf("round trip %d -> %d", bill.Amount, decoded.Amount)
	}

	// Quoted decimal strings are accepted too.
	var fromString Bill
	if err := json.Unmarshal([]byte(`{"amount":"0.050000"}`), &fromString); err != nil {
		t.Fatal(err)
	}
	if fromString.Amount != 50000 {
		t.Errorf("amount from quoted string = %d", fromString.Amount)
	}
}

func TestBillMethodDefaultsToOnChain(t *testing.T) {
	if got := (Bill{}).Method(); got != MethodOnChain {
		t.Errorf("Method() = %s", got)
	}
	b := Bill{PaymentMethod: MethodChunked}
	if got := b.Method(); got != MethodChunked {
		t.Errorf("Method() = %s", got)
	}
}

func TestPaymentMethodValid(t *testing.T) {
	for _, m := range []PaymentMethod{
		MethodOnChain, MethodChannel, MethodSession, MethodSessionFull, MethodChunked, MethodChunkedFull,
	} {
		if !m.Valid() {
			t.Errorf("%s should be valid", m)
		}
	}
	for _, m := range []PaymentMethod{"", "carrier_pigeon", "YELLOW"} {
		if m.Valid() {
			t.Errorf("%q should be invalid", m)
		}
	}
}

func TestJobWireFormat(t *testing.T) {
	job := Job{
		JobID:     "j-1",
		Requester: "0xabc",
		TaskType:  "summarize",
		InputData: map[string]any{"text": "hi"},
	}
	data, err := json.Marshal(job)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	json.Unmarshal(data, &raw)
	for _, key := range []string{"job_id", "requester", "task_type", "input_data"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing wire key %q in %s", key, data)
		}
	}
}

func TestJobResultWireFormat(t *testing.T) {
	result := JobResult{
		Status:        StatusCompleted,
		SessionID:     "0xsid",
		PaymentTxHash: "0xtx",
	}
	data, err := json.Marshal(result)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	json.Unmarshal(data, &raw)
	if raw["yellow_session_id"] != "0xsid" || raw["payment_tx_hash"] != "0xtx" {
		t.Errorf("wire form = %s", data)
	}
	if !result.Completed() {
		t.Error("Completed() = false")
	}
	var nilResult *JobResult
	if nilResult.Completed() {
		t.Error("nil result reported completed")
	}
}
