package firestore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWrapErrorClassifiesCodes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		err         error
		notFound    bool
		conflict    bool
		unavailable bool
		missingIdx  bool
	}{
		{name: "not found", err: status.Error(codes.NotFound, "no doc"), notFound: true},
		{name: "aborted", err: status.Error(codes.Aborted, "contention"), conflict: true},
		{name: "precondition", err: status.Error(codes.FailedPrecondition, "update time mismatch"), conflict: true},
		{name: "missing index", err: status.Error(codes.FailedPrecondition, "The query requires an index."), missingIdx: true},
		{name: "unavailable", err: status.Error(codes.Unavailable, "down"), unavailable: true},
		{name: "exhausted", err: status.Error(codes.ResourceExhausted, "quota"), unavailable: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			wrapped := WrapError("orders.get", tc.err)
			var fsErr *Error
			require.ErrorAs(t, wrapped, &fsErr)
			require.Equal(t, tc.notFound, fsErr.IsNotFound())
			require.Equal(t, tc.conflict, fsErr.IsConflict())
			require.Equal(t, tc.unavailable, fsErr.IsUnavailable())
			require.Equal(t, tc.missingIdx, IsMissingIndex(wrapped))
			require.Contains(t, wrapped.Error(), "orders.get")
		})
	}
}

func TestWrapErrorPassesThroughContextErrors(t *testing.T) {
	t.Parallel()

	require.Nil(t, WrapError("op", nil))
	require.ErrorIs(t, WrapError("op", context.Canceled), context.Canceled)
	require.ErrorIs(t, WrapError("op", status.Error(codes.DeadlineExceeded, "slow")), context.DeadlineExceeded)
}

func TestWrapErrorKeepsExistingError(t *testing.T) {
	t.Parallel()

	first := WrapError("", status.Error(codes.NotFound, "gone"))
	second := WrapError("orders.find", first)

	var fsErr *Error
	require.True(t, errors.As(second, &fsErr))
	require.Equal(t, codes.NotFound, fsErr.Code())
	require.Contains(t, second.Error(), "orders.find")
	require.True(t, IsNotFound(second))
}
