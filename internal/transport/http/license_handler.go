package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "policyhub/internal/errors"
	"policyhub/internal/middleware"
	api "policyhub/pkg/contracts/api/v1"
)

// LicenseHandlerOptions configures a LicenseHandler.
type LicenseHandlerOptions struct {
	// MaxBytes caps the uploaded license size.
	MaxBytes int64
	// AdminKeys guards uploads when non-empty.
	AdminKeys    map[string]string
	ErrorHandler *apierrors.ErrorHandler
	Logger       *slog.Logger
}

// LicenseHandler accepts encrypted license uploads.
type LicenseHandler struct {
	service      LicenseService
	maxBytes     int64
	adminKeys    map[string]string
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(service LicenseService, opts LicenseHandlerOptions) *LicenseHandler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	errorHandler := opts.ErrorHandler
	if errorHandler == nil {
		errorHandler = apierrors.NewErrorHandler(logger, false)
	}
	return &LicenseHandler{
		service:      service,
		maxBytes:     opts.MaxBytes,
		adminKeys:    opts.AdminKeys,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "license")),
	}
}

// Routes returns a chi router for license endpoints
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/status", h.GetStatus)

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(h.logger, h.adminKeys))
		r.Use(middleware.ContentTypeValidator("application/octet-stream", "text/plain"))
		r.Post("/", h.Upload)
	})

	return r
}

// Upload handles POST /api/license. The body is the encrypted license file.
// An accepted license answers 200, a rejected one 422; both carry
// {"accepted": bool}.
func (h *LicenseHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body := r.Body
	if h.maxBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}
	blob, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.errorHandler.HandleError(w, r, apierrors.NewWithDetails(
				http.StatusRequestEntityTooLarge,
				apierrors.ErrPayloadTooLarge.ErrorCode,
				apierrors.ErrPayloadTooLarge.Message,
				map[string]int64{"max_size": tooLarge.Limit},
			))
			return
		}
		h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if len(blob) == 0 {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation("body", "license file is empty"))
		return
	}

	accepted, err := h.service.LoadLicenseFile(ctx, blob)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "license upload processed",
		slog.Bool("accepted", accepted),
		slog.Int("bytes", len(blob)),
		slog.String("client", middleware.APIClient(ctx)))

	if !accepted {
		render.Status(r, http.StatusUnprocessableEntity)
	}
	render.JSON(w, r, api.LoadLicenseResponse{Accepted: accepted})
}

// GetStatus handles GET /api/license/status
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, policyStatus(h.service.Status()))
}
