package roles

import (
	"encoding/json"
	"net/http"

	"github.com/bissquit/authkeeper/internal/authz"
	"github.com/bissquit/authkeeper/internal/domain"
	"github.com/bissquit/authkeeper/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrUserNotFound, Status: http.StatusNotFound, Message: "User not found."},
	{Error: ErrRoleNotFound, Status: http.StatusNotFound},
	{Error: authz.ErrAccessDenied, Status: http.StatusForbidden, Message: "Access denied."},
}

// Handler handles HTTP requests for role management.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new roles handler.
func NewHandler(service *Service) *Handler {
	v := httputil.NewValidator()
	// Registration only fails for an empty tag or nil func.
	_ = v.RegisterValidation("role", func(fl validator.FieldLevel) bool {
		return domain.RoleName(fl.Field().String()).Valid()
	})

	return &Handler{
		service:   service,
		validator: v,
	}
}

// RegisterRoutes registers routes available to any authenticated user.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/user-roles/{login}", h.GetUserRoles)
}

// RegisterAdminRoutes registers routes that require the ADMIN role.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Put("/roles/save", h.SaveRoles)
}

// SaveRolesRequest represents request body for replacing a user's roles.
type SaveRolesRequest struct {
	Login string            `json:"login" validate:"required"`
	Roles []domain.RoleName `json:"roles" validate:"required,dive,role"`
}

// SaveRoles handles PUT /roles/save.
func (h *Handler) SaveRoles(w http.ResponseWriter, r *http.Request) {
	var req SaveRolesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	if err := h.service.SaveRoles(r.Context(), req.Login, req.Roles); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Text(w, http.StatusOK, "Roles saved for user "+req.Login)
}

// GetUserRoles handles GET /user-roles/{login}.
func (h *Handler) GetUserRoles(w http.ResponseWriter, r *http.Request) {
	login := chi.URLParam(r, "login")

	roles, err := h.service.GetRolesForUser(r.Context(), login, httputil.PrincipalFromContext(r.Context()))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.JSON(w, http.StatusOK, roles)
}
