package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/drbackfit/storefront/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "trace-1"})
	rec := httptest.NewRecorder()

	WriteError(ctx, rec, NewError("order_invalid_state", "order cannot be cancelled in\nshipped status", http.StatusConflict).
		WithDetails(map[string]any{"orderId": "o1"}))

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, false, body["success"])
	require.Equal(t, "order cannot be cancelled in shipped status", body["error"])
	require.Equal(t, "order_invalid_state", body["code"])
	require.EqualValues(t, http.StatusConflict, body["status"])
	require.Equal(t, "o1", body["orderId"])
	require.Equal(t, "trace-1", body["traceId"])
}

func TestNewErrorDefaultsStatus(t *testing.T) {
	require.Equal(t, http.StatusInternalServerError, NewError("x", "y", 0).Status)
}
