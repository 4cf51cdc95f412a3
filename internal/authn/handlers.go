package authn

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/nexusiam/controlplane/internal/data"
	"github.com/nexusiam/controlplane/internal/httpx"
	"github.com/nexusiam/controlplane/internal/middleware"
)

// Handlers adapts Service to the HTTP surface described in spec §6.
type Handlers struct {
	svc *Service
}

func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userResponse struct {
	ID            string   `json:"id"`
	Username      string   `json:"username"`
	Email         string   `json:"email"`
	Roles         []string `json:"roles"`
	PrimaryRole   string   `json:"primary_role"`
	IsActive      bool     `json:"is_active"`
	EmailVerified bool     `json:"email_verified"`
	MFAEnabled    bool     `json:"mfa_enabled"`
}

func toUserResponse(u *data.User) userResponse {
	return userResponse{
		ID: u.ID.String(), Username: u.Username, Email: u.Email, Roles: u.Roles,
		PrimaryRole: u.PrimaryRole, IsActive: u.IsActive, EmailVerified: u.EmailVerified,
		MFAEnabled: u.MFAEnabled,
	}
}

type loginResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	User         userResponse `json:"user"`
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	return r.RemoteAddr
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "malformed request body")
		return
	}

	u, err := h.svc.Authenticate(r.Context(), req.Username, req.Password, clientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrInvalidPassword):
			httpx.WriteError(w, r, http.StatusUnauthorized, "invalid_password")
		case errors.Is(err, ErrAccountLocked):
			httpx.WriteError(w, r, http.StatusLocked, "account_locked")
		case errors.Is(err, ErrAccountInactive):
			httpx.WriteError(w, r, http.StatusUnauthorized, "account_inactive")
		default:
			httpx.WriteInternalError(w, r, err)
		}
		return
	}

	issued, err := h.svc.IssueTokens(r.Context(), u)
	if err != nil {
		httpx.WriteInternalError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, loginResponse{
		AccessToken: issued.AccessToken, RefreshToken: issued.RefreshToken,
		TokenType: "Bearer", ExpiresIn: issued.ExpiresIn, User: toUserResponse(u),
	})
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.GetAuthContext(r.Context())
	if !ok {
		httpx.WriteError(w, r, http.StatusUnauthorized, "missing auth context")
		return
	}
	if err := h.svc.EndSession(r.Context(), ac.SessionID); err != nil {
		httpx.WriteInternalError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "malformed request body")
		return
	}
	issued, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		httpx.WriteError(w, r, http.StatusUnauthorized, "invalid or expired refresh token")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, loginResponse{
		AccessToken: issued.AccessToken, RefreshToken: issued.RefreshToken,
		TokenType: "Bearer", ExpiresIn: issued.ExpiresIn,
	})
}

func (h *Handlers) ValidateToken(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	tokenString := authHeader
	if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
		tokenString = authHeader[7:]
	}
	result, err := h.svc.Validate(r.Context(), tokenString)
	if err != nil {
		httpx.WriteInternalError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (h *Handlers) GetMe(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.GetAuthContext(r.Context())
	if !ok {
		httpx.WriteError(w, r, http.StatusUnauthorized, "missing auth context")
		return
	}
	id, err := uuid.Parse(ac.UserID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid subject")
		return
	}
	u, err := h.svc.GetUserByID(r.Context(), id)
	if errors.Is(err, ErrUserNotFound) {
		httpx.WriteError(w, r, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		httpx.WriteInternalError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toUserResponse(u))
}

type updateMeRequest struct {
	Email    string         `json:"email"`
	Metadata map[string]any `json:"metadata"`
}

func (h *Handlers) UpdateMe(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.GetAuthContext(r.Context())
	if !ok {
		httpx.WriteError(w, r, http.StatusUnauthorized, "missing auth context")
		return
	}
	id, err := uuid.Parse(ac.UserID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid subject")
		return
	}
	var req updateMeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "malformed request body")
		return
	}
	u, err := h.svc.Users.GetByID(r.Context(), id)
	if err != nil {
		httpx.WriteInternalError(w, r, err)
		return
	}
	if req.Email != "" {
		u.Email = req.Email
	}
	if req.Metadata != nil {
		u.Metadata = req.Metadata
	}
	if err := h.svc.Users.Update(r.Context(), u); err != nil {
		httpx.WriteInternalError(w, r, err)
		return
	}
	h.svc.cache.invalidate(u)
	httpx.WriteJSON(w, http.StatusOK, toUserResponse(u))
}

type changePasswordRequest struct {
	NewPassword string `json:"new_password"`
}

func (h *Handlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.GetAuthContext(r.Context())
	if !ok {
		httpx.WriteError(w, r, http.StatusUnauthorized, "missing auth context")
		return
	}
	id, err := uuid.Parse(ac.UserID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid subject")
		return
	}
	var req changePasswordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := h.svc.ChangePassword(r.Context(), id, req.NewPassword); err != nil {
		httpx.WriteInternalError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.GetAuthContext(r.Context())
	if !ok {
		httpx.WriteError(w, r, http.StatusUnauthorized, "missing auth context")
		return
	}
	sessions, err := h.svc.Sessions.ListForUser(r.Context(), ac.UserID)
	if err != nil {
		httpx.WriteInternalError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sessions)
}

func (h *Handlers) EndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if err := h.svc.EndSession(r.Context(), sessionID); err != nil {
		httpx.WriteInternalError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) EndAllSessions(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.GetAuthContext(r.Context())
	if !ok {
		httpx.WriteError(w, r, http.StatusUnauthorized, "missing auth context")
		return
	}
	id, err := uuid.Parse(ac.UserID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid subject")
		return
	}
	if err := h.svc.EndAllUserSessions(r.Context(), id); err != nil {
		httpx.WriteInternalError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC()})
}

// Metrics is wired to the service's own metrics.Registry Handler() directly
// in cmd/authn/main.go; no handler method is needed here.
