package pagination

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	require.NoError(t, err)
	require.Equal(t, DefaultPageSize, params.PageSize)
	require.Empty(t, params.PageToken)
	require.True(t, params.Cursor.IsZero())
	require.False(t, params.Ascending)
}

func TestParsePageSize(t *testing.T) {
	opts := Options{DefaultPageSize: 25, MaxPageSize: 40}

	params, err := Parse(url.Values{"pageSize": {"30"}}, opts)
	require.NoError(t, err)
	require.Equal(t, 30, params.PageSize)

	params, err = Parse(url.Values{"pageSize": {"400"}}, opts)
	require.NoError(t, err)
	require.Equal(t, 40, params.PageSize)

	for _, raw := range []string{"0", "-1", "ten"} {
		_, err := Parse(url.Values{"pageSize": {raw}}, opts)
		require.ErrorIs(t, err, ErrInvalidPageSize, raw)
	}
}

func TestParseOrder(t *testing.T) {
	params, err := Parse(url.Values{"order": {"ASC"}}, Options{})
	require.NoError(t, err)
	require.True(t, params.Ascending)

	_, err = Parse(url.Values{"order": {"sideways"}}, Options{})
	require.ErrorIs(t, err, ErrInvalidOrder)
}

func TestTokenRoundTrip(t *testing.T) {
	cursor := Cursor{AfterCreatedAt: time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC), AfterID: "01JNB"}
	token, err := EncodeToken(cursor)
	require.NoError(t, err)

	params, err := Parse(url.Values{"pageToken": {token}}, Options{})
	require.NoError(t, err)
	require.True(t, cursor.AfterCreatedAt.Equal(params.Cursor.AfterCreatedAt))
	require.Equal(t, "01JNB", params.Cursor.AfterID)

	empty, err := EncodeToken(Cursor{})
	require.NoError(t, err)
	require.Empty(t, empty)

	_, err = DecodeToken("%%%")
	require.ErrorIs(t, err, ErrInvalidPageToken)
}

func TestOffsetPage(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	page, next := OffsetPage(items, 2, Cursor{})
	require.Equal(t, []int{1, 2}, page)
	require.NotEmpty(t, next)

	cursor, err := DecodeToken(next)
	require.NoError(t, err)
	page, next = OffsetPage(items, 2, cursor)
	require.Equal(t, []int{3, 4}, page)

	cursor, _ = DecodeToken(next)
	page, next = OffsetPage(items, 2, cursor)
	require.Equal(t, []int{5}, page)
	require.Empty(t, next)

	page, next = OffsetPage(items, 2, Cursor{Offset: 10})
	require.Empty(t, page)
	require.Empty(t, next)
}
