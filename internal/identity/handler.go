package identity

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bissquit/authkeeper/internal/pkg/ctxlog"
	"github.com/bissquit/authkeeper/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var signupErrors = []httputil.ErrorMapping{
	{Error: ErrUserExists, Status: http.StatusBadRequest, Message: "User already exists."},
}

var loginErrors = []httputil.ErrorMapping{
	{Error: ErrInvalidCredentials, Status: http.StatusBadRequest, Message: "Authentication failed."},
}

var refreshErrors = []httputil.ErrorMapping{
	{Error: ErrRefreshTokenNotFound, Status: http.StatusForbidden, Message: "Refresh token is not in database!"},
	{Error: ErrRefreshTokenExpired, Status: http.StatusForbidden},
}

// CookieSettings contains settings for authentication cookies.
type CookieSettings struct {
	AccessName  string
	RefreshName string
	MaxAge      int // seconds
	Secure      bool
	Domain      string
}

// Handler handles HTTP requests for the session endpoints.
type Handler struct {
	service   *Service
	validator *validator.Validate
	cookies   CookieSettings
}

// NewHandler creates a new identity handler.
func NewHandler(service *Service, cookies CookieSettings) *Handler {
	return &Handler{
		service:   service,
		validator: httputil.NewValidator(),
		cookies:   cookies,
	}
}

// RegisterRoutes registers the /auth routes. credentialMiddleware wraps the
// signup and login endpoints only.
func (h *Handler) RegisterRoutes(r chi.Router, credentialMiddleware ...func(http.Handler) http.Handler) {
	r.Route("/auth", func(r chi.Router) {
		r.With(credentialMiddleware...).Post("/signup", h.Signup)
		r.With(credentialMiddleware...).Post("/login", h.Login)
		r.Post("/refreshToken", h.RefreshToken)
		r.Post("/logout", h.Logout)
	})
}

// SignupRequest represents signup request body.
type SignupRequest struct {
	Login    string `json:"login" validate:"required,max=64"`
	Email    string `json:"email" validate:"required,max=254,email"`
	Password string `json:"password" validate:"required,max=72,maxbytes=72"`
}

// LoginRequest represents login request body.
type LoginRequest struct {
	Login    string `json:"login" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Signup handles POST /auth/signup.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if !h.decode(w, r, &req) {
		return
	}

	_, err := h.service.Signup(r.Context(), SignupInput(req))
	if errors.Is(err, ErrInvalidLogin) {
		httputil.FieldErrors(w, map[string]string{"login": "must be a valid username"})
		return
	}
	if err != nil {
		httputil.HandleError(r.Context(), w, err, signupErrors)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// Login handles POST /auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	session, err := h.service.Login(r.Context(), LoginInput(req))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, loginErrors)
		return
	}

	http.SetCookie(w, h.cookie(h.cookies.AccessName, session.AccessToken))
	http.SetCookie(w, h.cookie(h.cookies.RefreshName, session.RefreshToken.Token))
	httputil.Text(w, http.StatusOK, "User logged in successfully!")
}

// RefreshToken handles POST /auth/refreshToken.
// Reads the refresh token cookie and sets a new access token cookie.
func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(h.cookies.RefreshName)
	if err != nil || cookie.Value == "" {
		httputil.Error(w, http.StatusBadRequest, "Refresh Token is empty!")
		return
	}

	access, err := h.service.RefreshAccessToken(r.Context(), cookie.Value)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, refreshErrors)
		return
	}

	http.SetCookie(w, h.cookie(h.cookies.AccessName, access))
	httputil.Text(w, http.StatusOK, "Token is refreshed successfully!")
}

// Logout handles POST /auth/logout.
// Cookies are cleared even when the refresh token cannot be deleted.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	err := h.service.Logout(r.Context(), httputil.PrincipalFromContext(r.Context()))

	http.SetCookie(w, h.clearCookie(h.cookies.AccessName))
	http.SetCookie(w, h.clearCookie(h.cookies.RefreshName))

	if err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}
	httputil.Text(w, http.StatusOK, "You've been signed out!")
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		ctxlog.FromContext(r.Context()).Debug("invalid request body", "error", err)
		httputil.Error(w, http.StatusBadRequest, "Invalid request body.")
		return false
	}
	if err := h.validator.Struct(v); err != nil {
		httputil.ValidationError(w, err)
		return false
	}
	return true
}

func (h *Handler) cookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   h.cookies.Domain,
		MaxAge:   h.cookies.MaxAge,
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// clearCookie overwrites the cookie with an empty value and no Max-Age.
func (h *Handler) clearCookie(name string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   h.cookies.Domain,
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
