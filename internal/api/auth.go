package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kalambet/rxdesk/internal/auth"
	"github.com/kalambet/rxdesk/internal/screens"
	"github.com/kalambet/rxdesk/internal/storage"
)

// JWTAuth rejects requests without a valid session token and stores the
// token's user in the request context. Browsers cannot set headers on
// websocket upgrades, so the access_token query parameter is accepted too.
func JWTAuth(iss *auth.Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, ok := auth.BearerToken(r.Header.Get("Authorization"))
			if !ok {
				tok = r.URL.Query().Get("access_token")
			}
			if tok == "" {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			u, err := iss.Parse(tok)
			if err != nil {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), u)))
		})
	}
}

// RequireScreen lets a request through only when its user may open screen.
func RequireScreen(res *screens.Resolver, screen string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, _ := auth.FromContext(r.Context())
			if !res.HasScreenPermission(screen, u) {
				httpError(w, http.StatusForbidden, "permission_error", "screen %s is not accessible", screen)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string    `json:"token"`
	User  auth.User `json:"user"`
}

func handleLogin(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Username == "" || req.Password == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "username and password are required")
			return
		}

		emp, err := deps.Store.GetEmployeeByUsername(r.Context(), req.Username)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load employee: %v", err)
			return
		}
		if err != nil || !auth.CheckPassword(emp.PasswordHash, req.Password) {
			httpError(w, http.StatusUnauthorized, "authentication_error", "invalid username or password")
			return
		}

		u := auth.User{ID: emp.ID, Name: emp.Name, Role: emp.Role, Permissions: emp.Permissions}
		tok, err := deps.Issuer.Issue(u)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to issue token: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, loginResponse{Token: tok, User: u})
	}
}

func handleMe(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.FromContext(r.Context())
	writeJSON(w, http.StatusOK, u)
}
