package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mohamedyehyamoubarik5566/basira-app/internal/service"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/session"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// signalsFromRequest assembles the client fingerprint signals from the
// request headers.
func signalsFromRequest(r *http.Request) session.Signals {
	return session.Signals{
		UserAgent:        r.UserAgent(),
		Language:         r.Header.Get("X-Client-Language"),
		Platform:         r.Header.Get("X-Client-Platform"),
		ScreenResolution: r.Header.Get("X-Client-Screen"),
		ColorDepth:       r.Header.Get("X-Client-Color-Depth"),
		TimezoneOffset:   r.Header.Get("X-Client-Timezone"),
		CanvasHash:       r.Header.Get("X-Client-Canvas"),
	}
}

type sessionContextKey struct{}

// sessionFromContext returns the session injected by RequireSession.
func sessionFromContext(ctx context.Context) (*session.Record, bool) {
	rec, ok := ctx.Value(sessionContextKey{}).(*session.Record)
	return rec, ok
}

// AuthHandler handles login, logout and session introspection.
type AuthHandler struct {
	authService *service.AuthService
	logger      *zap.Logger
}

func NewAuthHandler(authService *service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger,
	}
}

func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
		r.Get("/session", h.Session)
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	CompanyID string `json:"company_id"`
	CSRFToken string `json:"csrf_token"`
	ExpiresAt int64  `json:"expires_at"`
}

func toSessionResponse(rec *session.Record) sessionResponse {
	return sessionResponse{
		SessionID: rec.ID,
		UserID:    rec.UserID,
		Role:      rec.Role,
		CompanyID: rec.CompanyID,
		CSRFToken: rec.CSRFToken,
		ExpiresAt: rec.ExpiresAt,
	}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(err, "invalid request body"))
		return
	}

	rec, err := h.authService.Login(req.Username, req.Password, signalsFromRequest(r))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAccountLocked):
			writeJSON(w, http.StatusTooManyRequests, errorResponse(err, "account locked"))
		case errors.Is(err, service.ErrDemoExpired):
			writeJSON(w, http.StatusForbidden, errorResponse(err, "demo account exhausted"))
		default:
			writeJSON(w, http.StatusUnauthorized, errorResponse(service.ErrInvalidCredentials, "login failed"))
		}
		return
	}

	writeJSON(w, http.StatusOK, successResponse(toSessionResponse(rec), "login successful"))
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.authService.Logout()
	writeJSON(w, http.StatusOK, successResponse(nil, "logged out"))
}

func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	rec, err := h.authService.Current(signalsFromRequest(r))
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse(err, "no active session"))
		return
	}
	writeJSON(w, http.StatusOK, successResponse(toSessionResponse(rec), ""))
}

// RequireSession validates the session and CSRF token for mutating
// requests, then injects the session record into the request context.
func (h *AuthHandler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec, err := h.authService.Current(signalsFromRequest(r))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse(err, "authentication required"))
			return
		}

		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			if r.Header.Get("X-CSRF-Token") != rec.CSRFToken {
				writeJSON(w, http.StatusForbidden, errorResponse(errors.New("csrf token mismatch"), "request rejected"))
				return
			}
		}

		ctx := context.WithValue(r.Context(), sessionContextKey{}, rec)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
