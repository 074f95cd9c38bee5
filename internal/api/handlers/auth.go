// auth.go — регистрация и вход пользователей (только при локальном выпуске токенов).
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/filevault/internal/api/errors"
	"github.com/bigkaa/filevault/internal/service"
)

// maxCredentialsBody — максимальный размер тела запроса с учётными данными.
const maxCredentialsBody = 64 << 10

// Authenticator — регистрация и вход с выпуском токена.
type Authenticator interface {
	Register(ctx context.Context, username, password string) (service.IssuedToken, error)
	Login(ctx context.Context, username, password string) (service.IssuedToken, error)
}

// AuthHandler — обработчик /auth/*.
type AuthHandler struct {
	auth Authenticator
}

// NewAuthHandler создаёт обработчик /auth/*.
func NewAuthHandler(auth Authenticator) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Register обрабатывает POST /auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	tok, err := h.auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: tok.Token, ExpiresAt: tok.ExpiresAt})
}

// Login обрабатывает POST /auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	tok, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: tok.Token, ExpiresAt: tok.ExpiresAt})
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, bool) {
	var req credentialsRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCredentialsBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: ожидается {\"username\", \"password\"}")
		return credentialsRequest{}, false
	}
	return req, true
}
