package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/stretchr/testify/require"
)

type stubTokenVerifier struct {
	verifyFn func(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

func (s stubTokenVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	return s.verifyFn(ctx, idToken)
}

func tokenVerifier(token *firebaseauth.Token) stubTokenVerifier {
	return stubTokenVerifier{verifyFn: func(_ context.Context, idToken string) (*firebaseauth.Token, error) {
		if idToken != "good" {
			return nil, errors.New("bad token")
		}
		return token, nil
	}}
}

func serve(t *testing.T, mw func(http.Handler) http.Handler, header string) (*httptest.ResponseRecorder, *Identity) {
	t.Helper()
	var seen *Identity
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, seen
}

func TestRequireFirebaseAuthAttachesIdentity(t *testing.T) {
	authn := NewAuthenticator(tokenVerifier(&firebaseauth.Token{
		UID: "uid-1",
		Claims: map[string]any{
			"email": "asha@example.com",
			"name":  "Asha Rao",
		},
	}))

	rec, identity := serve(t, authn.RequireFirebaseAuth(), "Bearer good")

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, identity)
	require.Equal(t, "uid-1", identity.UID)
	require.Equal(t, "asha@example.com", identity.Email)
	require.Equal(t, "Asha Rao", identity.Name)
	require.Equal(t, []string{RoleUser}, identity.Roles)
	require.False(t, identity.IsOperator())
	require.Equal(t, "asha@example.com", identity.Actor())
}

func TestRequireFirebaseAuthRejectsMissingOrInvalidToken(t *testing.T) {
	authn := NewAuthenticator(tokenVerifier(&firebaseauth.Token{UID: "uid-1"}))

	for _, header := range []string{"", "Basic abc", "Bearer ", "Bearer nope"} {
		rec, identity := serve(t, authn.RequireFirebaseAuth(), header)
		require.Equal(t, http.StatusUnauthorized, rec.Code, header)
		require.Nil(t, identity)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, false, body["success"])
	}
}

func TestRequireFirebaseAuthEnforcesRoles(t *testing.T) {
	customer := NewAuthenticator(tokenVerifier(&firebaseauth.Token{UID: "uid-1"}))
	rec, _ := serve(t, customer.RequireFirebaseAuth(RoleAdmin, RoleStaff), "Bearer good")
	require.Equal(t, http.StatusForbidden, rec.Code)

	staff := NewAuthenticator(tokenVerifier(&firebaseauth.Token{
		UID:    "uid-2",
		Claims: map[string]any{"role": []any{"Staff", "staff"}},
	}))
	rec, identity := serve(t, staff.RequireFirebaseAuth(RoleAdmin, RoleStaff), "Bearer good")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, []string{RoleStaff}, identity.Roles)
	require.True(t, identity.IsOperator())
}

func TestRolesFromClaims(t *testing.T) {
	require.Equal(t, []string{"admin"}, rolesFromClaims(" Admin "))
	require.Equal(t, []string{"admin"}, rolesFromClaims(map[string]any{"admin": true, "staff": false}))
	require.Equal(t, []string{"staff", "admin"}, rolesFromClaims([]string{"staff", "admin", "STAFF"}))
	require.Empty(t, rolesFromClaims(42))
}
