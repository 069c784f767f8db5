package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apierrors "policyhub/internal/errors"
	"policyhub/internal/license"
	"policyhub/internal/shared/testutil"
	api "policyhub/pkg/contracts/api/v1"
)

var appWeb = uuid.MustParse("a8e9274d-5d4f-4a8b-9c1e-2f7b3d6e8a10")

// MockLicenseService implements LicenseService for testing
type MockLicenseService struct {
	mock.Mock
}

func (m *MockLicenseService) LoadLicenseFile(ctx context.Context, blob []byte) (bool, error) {
	args := m.Called(ctx, blob)
	return args.Bool(0), args.Error(1)
}

func (m *MockLicenseService) GetSecurityPolicy(ctx context.Context, appID uuid.UUID) []string {
	args := m.Called(ctx, appID)
	return args.Get(0).([]string)
}

func (m *MockLicenseService) Status() license.Status {
	return m.Called().Get(0).(license.Status)
}

func newRouter(t *testing.T, svc LicenseService, opts LicenseHandlerOptions) *chi.Mux {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	opts.Logger = logger
	errorHandler := apierrors.NewErrorHandler(logger, false)
	opts.ErrorHandler = errorHandler

	health := NewHealthHandler(svc, CounterFunc(func() int { return 3 }), CounterFunc(func() int { return 2 }))

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Mount("/license", NewLicenseHandler(svc, opts).Routes())
		r.Mount("/policies", NewPolicyHandler(svc, errorHandler, logger).Routes())
		r.Get("/health", health.HealthCheck)
		r.Get("/health/live", health.LivenessCheck)
	})
	return r
}

func upload(r http.Handler, body []byte, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/license", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/octet-stream")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestLicenseHandler_Upload(t *testing.T) {
	tests := []struct {
		name     string
		accepted bool
		err      error
		status   int
	}{
		{"accepted", true, nil, http.StatusOK},
		{"rejected", false, nil, http.StatusUnprocessableEntity},
		{"storage failure", false, apierrors.NewStorageError("persist license", errors.New("disk full")), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockLicenseService)
			svc.On("LoadLicenseFile", mock.Anything, []byte("sealed")).Return(tt.accepted, tt.err).Once()

			rec := upload(newRouter(t, svc, LicenseHandlerOptions{}), []byte("sealed"), nil)

			assert.Equal(t, tt.status, rec.Code)
			if tt.err == nil {
				assert.Equal(t, tt.accepted, decode[api.LoadLicenseResponse](t, rec).Accepted)
			} else {
				body := decode[map[string]interface{}](t, rec)
				assert.Equal(t, apierrors.TypeLicenseStorage, body["type"])
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestLicenseHandler_UploadLimits(t *testing.T) {
	svc := new(MockLicenseService)
	r := newRouter(t, svc, LicenseHandlerOptions{MaxBytes: 8})

	t.Run("too large", func(t *testing.T) {
		rec := upload(r, bytes.Repeat([]byte("x"), 9), nil)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("empty", func(t *testing.T) {
		rec := upload(r, nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wrong content type", func(t *testing.T) {
		rec := upload(r, []byte("sealed"), map[string]string{"Content-Type": "application/json"})
		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	})

	svc.AssertNotCalled(t, "LoadLicenseFile", mock.Anything, mock.Anything)
}

func TestLicenseHandler_UploadRequiresAdminKey(t *testing.T) {
	svc := new(MockLicenseService)
	svc.On("LoadLicenseFile", mock.Anything, mock.Anything).Return(true, nil).Once()
	r := newRouter(t, svc, LicenseHandlerOptions{AdminKeys: map[string]string{"s3cret": "ops"}})

	rec := upload(r, []byte("sealed"), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = upload(r, []byte("sealed"), map[string]string{"X-API-Key": "s3cret"})
	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
}

func TestLicenseHandler_GetStatus(t *testing.T) {
	updated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := new(MockLicenseService)
	svc.On("Status").Return(license.Status{Loaded: true, Fragments: 3, UpdatedAt: updated})

	rec := httptest.NewRecorder()
	newRouter(t, svc, LicenseHandlerOptions{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/license/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[api.PolicyStatus](t, rec)
	assert.True(t, st.Loaded)
	assert.Equal(t, 3, st.Fragments)
	require.NotNil(t, st.UpdatedAt)
	assert.True(t, updated.Equal(*st.UpdatedAt))
}

func TestPolicyHandler_GetSecurityPolicy(t *testing.T) {
	svc := new(MockLicenseService)
	svc.On("GetSecurityPolicy", mock.Anything, appWeb).Return([]string{`<WebClient mode="strict"/>`})
	r := newRouter(t, svc, LicenseHandlerOptions{})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/policies/"+appWeb.String(), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[api.PolicyResponse](t, rec)
	assert.Equal(t, appWeb.String(), resp.ApplicationID)
	assert.Equal(t, []string{`<WebClient mode="strict"/>`}, resp.Policies)
}

func TestPolicyHandler_EmptyPolicyIsList(t *testing.T) {
	other := uuid.MustParse("5b0b3a4e-2f6d-4d8e-9a61-0c1f2b7e9d10")
	svc := new(MockLicenseService)
	svc.On("GetSecurityPolicy", mock.Anything, other).Return([]string{})

	rec := httptest.NewRecorder()
	newRouter(t, svc, LicenseHandlerOptions{}).ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/api/policies/"+other.String(), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"policies":[]`)
}

func TestPolicyHandler_InvalidApplicationID(t *testing.T) {
	svc := new(MockLicenseService)
	rec := httptest.NewRecorder()
	newRouter(t, svc, LicenseHandlerOptions{}).ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/api/policies/not-a-uuid", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "application_id"))
	svc.AssertNotCalled(t, "GetSecurityPolicy", mock.Anything, mock.Anything)
}

func TestHealthHandler(t *testing.T) {
	svc := new(MockLicenseService)
	svc.On("Status").Return(license.Status{})
	r := newRouter(t, svc, LicenseHandlerOptions{})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[api.HealthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.False(t, resp.Policy.Loaded)
	assert.Nil(t, resp.Policy.UpdatedAt)
	assert.Equal(t, 3, resp.Connections)
	assert.Equal(t, 2, resp.Subscribers)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
