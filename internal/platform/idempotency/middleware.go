package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/drbackfit/storefront/internal/platform/auth"
	"github.com/drbackfit/storefront/internal/platform/httpx"
	"github.com/drbackfit/storefront/internal/platform/requestctx"
)

const (
	// HeaderName carries the client-chosen key, typically one UUID per checkout attempt.
	HeaderName = "Idempotency-Key"
	// ReplayHeaderName is set on responses served from the store.
	ReplayHeaderName = "Idempotent-Replayed"

	maxKeyLength  = 255
	maxBodyReplay = 1 << 20
)

type middlewareConfig struct {
	ttl      time.Duration
	required bool
}

// MiddlewareOption customises Middleware.
type MiddlewareOption func(*middlewareConfig)

// WithTTL sets how long completed responses stay replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithRequiredKey rejects requests that carry no key.
func WithRequiredKey() MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.required = true
	}
}

// Middleware replays the stored response when a client retries a request with the same key.
// Keys are scoped to the authenticated user, so it must run after authentication. Requests
// without a key pass through unless WithRequiredKey is set. 5xx responses are not stored so
// the client can retry them.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	cfg := middlewareConfig{ttl: DefaultTTL}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := strings.TrimSpace(r.Header.Get(HeaderName))
			if key == "" {
				if cfg.required {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "missing "+HeaderName+" header", http.StatusBadRequest))
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLength {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_idempotency_key", HeaderName+" is too long", http.StatusBadRequest))
				return
			}

			body, err := readAndReplayBody(r)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
				return
			}

			requester := requesterID(ctx)
			scoped := requester + "|" + key
			fingerprint := requestFingerprint(r, body, requester)
			logger := requestctx.Logger(ctx).With(zap.String("idempotencyKey", key))

			reservation, err := store.Reserve(ctx, scoped, fingerprint, cfg.ttl)
			if err != nil {
				if errors.Is(err, ErrFingerprintMismatch) {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict))
					return
				}
				logger.Error("idempotency reserve failed", zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "unable to process idempotency key", http.StatusServiceUnavailable))
				return
			}

			switch reservation.State {
			case ReservationStateCompleted:
				writeStoredResponse(w, reservation.Record)
				return
			case ReservationStatePending:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "another request is processing this idempotency key", http.StatusConflict))
				return
			}

			recorder := newResponseRecorder()
			next.ServeHTTP(recorder, r)

			// The request is finished either way; detach so a client disconnect does not skip persistence.
			storeCtx := context.WithoutCancel(ctx)
			if recorder.Status() >= http.StatusInternalServerError {
				if err := store.Release(storeCtx, scoped); err != nil {
					logger.Warn("idempotency release failed", zap.Error(err))
				}
			} else if err := store.Complete(storeCtx, scoped, fingerprint, recorder.Response(), cfg.ttl); err != nil {
				logger.Error("idempotency save failed", zap.Error(err))
				if err := store.Release(storeCtx, scoped); err != nil {
					logger.Warn("idempotency release failed", zap.Error(err))
				}
			}

			if err := recorder.writeTo(w); err != nil {
				logger.Warn("idempotency response flush failed", zap.Error(err))
			}
		})
	}
}

func readAndReplayBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyReplay+1))
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()
	if len(data) > maxBodyReplay {
		return nil, errors.New("request body too large")
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func requestFingerprint(r *http.Request, body []byte, requester string) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(r.Method))
	b.WriteString("|")
	b.WriteString(r.URL.Path)
	b.WriteString("|")
	b.WriteString(r.URL.RawQuery)
	b.WriteString("|")
	b.WriteString(requester)
	b.WriteString("|")
	if len(body) > 0 {
		b.WriteString(sha256Hex(body))
	}
	return sha256Hex([]byte(b.String()))
}

func requesterID(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil && identity.UID != "" {
		return identity.UID
	}
	return "anonymous"
}

func writeStoredResponse(w http.ResponseWriter, record Record) {
	for name, values := range record.ResponseHeaders {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.Header().Set(ReplayHeaderName, "true")

	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

type responseRecorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{header: make(http.Header)}
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(data)
}

func (r *responseRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *responseRecorder) Response() Response {
	return Response{
		Status:  r.Status(),
		Headers: r.header.Clone(),
		Body:    r.body.Bytes(),
	}
}

func (r *responseRecorder) writeTo(w http.ResponseWriter) error {
	dst := w.Header()
	for name, values := range r.header {
		dst[name] = append([]string(nil), values...)
	}
	w.WriteHeader(r.Status())
	if r.body.Len() == 0 {
		return nil
	}
	_, err := w.Write(r.body.Bytes())
	return err
}
