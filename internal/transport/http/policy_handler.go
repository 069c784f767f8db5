package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	apierrors "policyhub/internal/errors"
	"policyhub/internal/middleware"
	api "policyhub/pkg/contracts/api/v1"
)

// PolicyHandler serves the current policy of one application.
type PolicyHandler struct {
	service      LicenseService
	validate     *validator.Validate
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewPolicyHandler creates a new policy handler
func NewPolicyHandler(service LicenseService, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *PolicyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if errorHandler == nil {
		errorHandler = apierrors.NewErrorHandler(logger, false)
	}
	return &PolicyHandler{
		service:      service,
		validate:     middleware.NewValidator(),
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "policy")),
	}
}

// Routes returns a chi router for policy endpoints
func (h *PolicyHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{applicationID}", h.GetSecurityPolicy)
	return r
}

// GetSecurityPolicy handles GET /api/policies/{applicationID}. Unknown
// applications and a missing license both yield an empty list.
func (h *PolicyHandler) GetSecurityPolicy(w http.ResponseWriter, r *http.Request) {
	req := api.PolicyRequest{ApplicationID: chi.URLParam(r, "applicationID")}
	if err := middleware.ValidateStruct(h.validate, req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	appID := uuid.MustParse(req.ApplicationID)
	render.JSON(w, r, api.PolicyResponse{
		ApplicationID: appID.String(),
		Policies:      h.service.GetSecurityPolicy(r.Context(), appID),
	})
}
