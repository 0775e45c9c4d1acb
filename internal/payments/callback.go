package payments

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidCallbackAuth indicates the Authorization header did not match the configured credentials.
	ErrInvalidCallbackAuth = errors.New("payments: invalid callback authorization")
	// ErrInvalidCallbackPayload indicates the callback body could not be understood.
	ErrInvalidCallbackPayload = errors.New("payments: invalid callback payload")
)

// VerifyCallback reports whether authorization equals hex(SHA256(username:password)). The
// comparison runs in constant time.
func VerifyCallback(authorization, username, password string) bool {
	if username == "" || password == "" {
		return false
	}
	got := strings.ToLower(strings.TrimSpace(authorization))
	got = strings.TrimPrefix(got, "sha256 ")
	sum := sha256.Sum256([]byte(username + ":" + password))
	want := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// Callback is the subset of a PhonePe webhook the service acts on.
type Callback struct {
	Event           string
	MerchantOrderID string
	OrderID         string
	State           string
	Amount          int64
}

type callbackEnvelope struct {
	Event   string `json:"event"`
	Type    string `json:"type"`
	Payload struct {
		OrderID         string `json:"orderId"`
		MerchantOrderID string `json:"merchantOrderId"`
		OriginalOrderID string `json:"originalMerchantOrderId"`
		State           string `json:"state"`
		Amount          int64  `json:"amount"`
	} `json:"payload"`
}

// ParseCallback decodes a webhook body. The callback's state is informational only: callers
// should confirm it with CheckPaymentStatus before acting.
func ParseCallback(body []byte) (Callback, error) {
	var env callbackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Callback{}, fmt.Errorf("%w: %v", ErrInvalidCallbackPayload, err)
	}
	cb := Callback{
		Event:           firstNonEmpty(env.Event, env.Type),
		MerchantOrderID: firstNonEmpty(env.Payload.MerchantOrderID, env.Payload.OriginalOrderID),
		OrderID:         env.Payload.OrderID,
		State:           env.Payload.State,
		Amount:          env.Payload.Amount,
	}
	if cb.MerchantOrderID == "" {
		return Callback{}, fmt.Errorf("%w: merchantOrderId missing", ErrInvalidCallbackPayload)
	}
	return cb, nil
}
