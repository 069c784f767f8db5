package infrastructure

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyhub/internal/config"
)

func TestInitializeOTel(t *testing.T) {
	cfg := config.TelemetryConfig{
		ServiceName:   "policyhub-test",
		Environment:   "test",
		EnableMetrics: true,
		EnableTracing: true,
		TraceExporter: "none",
		SampleRatio:   1,
	}

	providers, err := InitializeOTel(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, providers)

	assert.Nil(t, providers.TracerProvider)
	require.NotNil(t, providers.MeterProvider)
	require.NotNil(t, providers.PrometheusHTTP)

	counter, err := Meter().Int64Counter("otel_test_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	rec := httptest.NewRecorder()
	providers.PrometheusHTTP.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "otel_test")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, providers.Shutdown(ctx))
}

func TestInitializeOTel_UnsupportedExporter(t *testing.T) {
	_, err := InitializeOTel(config.TelemetryConfig{
		EnableTracing: true,
		TraceExporter: "jaeger",
	}, nil)
	assert.Error(t, err)
}

func TestRecordError_NoSpan(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordError(context.Background(), errors.New("boom"))
	})
}
