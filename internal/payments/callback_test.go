package payments

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

func callbackHash(username, password string) string {
	sum := sha256.Sum256([]byte(username + ":" + password))
	return hex.EncodeToString(sum[:])
}

func TestVerifyCallback(t *testing.T) {
	valid := callbackHash("merchant", "s3cret")

	cases := []struct {
		name   string
		header string
		want   bool
	}{
		{name: "exact", header: valid, want: true},
		{name: "uppercase", header: strings.ToUpper(valid), want: true},
		{name: "prefixed", header: "SHA256 " + valid, want: true},
		{name: "wrong password", header: callbackHash("merchant", "other"), want: false},
		{name: "empty", header: "", want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := VerifyCallback(tc.header, "merchant", "s3cret"); got != tc.want {
				t.Fatalf("VerifyCallback(%q) = %v, want %v", tc.header, got, tc.want)
			}
		})
	}
}

func TestVerifyCallbackRequiresCredentials(t *testing.T) {
	if VerifyCallback(callbackHash("", ""), "", "") {
		t.Fatalf("expected verification to fail without configured credentials")
	}
}

func TestParseCallback(t *testing.T) {
	body := []byte(`{"event":"checkout.order.completed","payload":{"orderId":"OMO1","merchantOrderId":"ord_1","state":"COMPLETED","amount":1000}}`)
	cb, err := ParseCallback(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cb.Event != "checkout.order.completed" || cb.MerchantOrderID != "ord_1" || cb.State != StateCompleted || cb.Amount != 1000 {
		t.Fatalf("unexpected callback %+v", cb)
	}
}

func TestParseCallbackRejectsMissingOrder(t *testing.T) {
	if _, err := ParseCallback([]byte(`{"event":"checkout.order.failed","payload":{}}`)); !errors.Is(err, ErrInvalidCallbackPayload) {
		t.Fatalf("expected ErrInvalidCallbackPayload, got %v", err)
	}
	if _, err := ParseCallback([]byte(`not json`)); !errors.Is(err, ErrInvalidCallbackPayload) {
		t.Fatalf("expected ErrInvalidCallbackPayload, got %v", err)
	}
}
