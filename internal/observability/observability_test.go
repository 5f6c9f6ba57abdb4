package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/access-gate/internal/config"
)

func TestMetricsCountDecisions(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.RecordDecision("no_session")
	m.RecordDecision("no_session")
	m.RecordDecision("authenticated")
	m.RecordResolverError("get_session")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.decisions.WithLabelValues("no_session")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("authenticated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resolverErrors.WithLabelValues("get_session")))
}

func TestNilMetricsAreNoops(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordDecision("x")
		m.RecordResolverError("x")
		m.RecordError("/", "GET", "X")
		m.RecordRequest("/", "GET", 200, 0)
	})
}

func TestMetricsHandlerExposesRegistry(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.RecordError("/auth/v1/token", "POST", "INVALID_CREDENTIALS")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `http_errors_total{code="INVALID_CREDENTIALS",method="POST",route="/auth/v1/token"} 1`)
}

func TestRequestLogger(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	m := NewMetrics()

	app := fiber.New()
	app.Use(RequestLogger(zap.New(core), m))
	app.Get("/ok", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/missing", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNotFound) })

	_, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/ok", nil))
	require.NoError(t, err)
	_, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/missing", nil))
	require.NoError(t, err)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, int64(200), entries[0].ContextMap()["status"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "/missing", entries[1].ContextMap()["path"])

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestCount.WithLabelValues("/ok", "GET", "200")))
}

func TestNewLoggerLevels(t *testing.T) {
	t.Parallel()

	logger, err := NewLogger(config.LoggerConfig{Level: "WARN"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	logger, err = NewLogger(config.LoggerConfig{Level: strings.Repeat("?", 3)})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}
