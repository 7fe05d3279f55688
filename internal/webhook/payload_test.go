package webhook

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestDecode(t *testing.T) {
	matcher := NewTokenMatcher("INV")
	cases := []struct {
		name   string
		body   string
		kind   Kind
		source string
		token  string
		amount int64
	}{
		{
			name:   "sepay with code",
			body:   `{"id": 92704, "transferType": "in", "transferAmount": 100000, "content": "CT DEN:0123 thanh toan", "code": "INV0123456789abcdef"}`,
			kind:   KindPayment,
			source: "sepay",
			token:  "INV0123456789abcdef",
			amount: 100000,
		},
		{
			name:   "sepay token in upper-cased content",
			body:   `{"id": "92705", "transferType": "in", "transferAmount": "250000.00", "content": "NAP TIEN INV0123456789ABCDEF", "code": null}`,
			kind:   KindPayment,
			source: "sepay",
			token:  "INV0123456789abcdef",
			amount: 250000,
		},
		{
			name: "sepay outbound",
			body: `{"id": 1, "transferType": "out", "transferAmount": 100000, "content": "INV0123456789abcdef"}`,
			kind: KindUnrecognized,
		},
		{
			name:   "legacy success",
			body:   `{"amount": "500000", "content": "INVaaaaaaaaaaaaaaaa", "status": "SUCCESS"}`,
			kind:   KindPayment,
			source: "legacy",
			token:  "INVaaaaaaaaaaaaaaaa",
			amount: 500000,
		},
		{
			name: "legacy failed",
			body: `{"amount": 500000, "content": "INVaaaaaaaaaaaaaaaa", "status": "FAILED"}`,
			kind: KindUnrecognized,
		},
		{
			name:   "sandbox",
			body:   `{"description": "pay INVbbbbbbbbbbbbbbbb now", "amount": 42}`,
			kind:   KindPayment,
			source: "sandbox",
			token:  "INVbbbbbbbbbbbbbbbb",
			amount: 42,
		},
		{name: "not json", body: `transferType=in`, kind: KindUnrecognized},
		{name: "array", body: `[1,2,3]`, kind: KindUnrecognized},
		{name: "unknown shape", body: `{"foo": "bar"}`, kind: KindUnrecognized},
		{name: "no token", body: `{"description": "hello", "amount": 10}`, kind: KindUnrecognized},
		{name: "bad amount", body: `{"description": "INVbbbbbbbbbbbbbbbb", "amount": "ten"}`, kind: KindUnrecognized},
		{name: "negative amount", body: `{"description": "INVbbbbbbbbbbbbbbbb", "amount": -5}`, kind: KindUnrecognized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := Decode([]byte(tc.body), matcher)
			if n.Kind != tc.kind {
				t.Fatalf("expected kind %v, got %v (%s)", tc.kind, n.Kind, n.Reason)
			}
			if tc.kind != KindPayment {
				if n.Reason == "" {
					t.Fatalf("expected a reason for unrecognized payload")
				}
				return
			}
			if n.Source != tc.source || n.Token != tc.token {
				t.Fatalf("unexpected notification %+v", n)
			}
			if !n.Amount.Equal(decimal.NewFromInt(tc.amount)) {
				t.Fatalf("expected amount %d, got %s", tc.amount, n.Amount)
			}
		})
	}
}
