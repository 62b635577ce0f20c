package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/fontedit/pkg/backends"
	"github.com/developer-mesh/fontedit/pkg/glyph"
	"github.com/developer-mesh/fontedit/pkg/observability"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockFont struct {
	mock.Mock
}

func (m *mockFont) GetGlyph(ctx context.Context, name string) (map[string]any, error) {
	args := m.Called(ctx, name)
	g, _ := args.Get(0).(map[string]any)
	return g, args.Error(1)
}

func (m *mockFont) GetGlyphMap(ctx context.Context) (map[string][]int, error) {
	args := m.Called(ctx)
	glyphMap, _ := args.Get(0).(map[string][]int)
	return glyphMap, args.Error(1)
}

func (m *mockFont) GetGlobalAxes(ctx context.Context) ([]map[string]any, error) {
	args := m.Called(ctx)
	axes, _ := args.Get(0).([]map[string]any)
	return axes, args.Error(1)
}

func (m *mockFont) GetUnitsPerEm(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func newTestFont(t *testing.T) *backends.MemoryBackend {
	t.Helper()
	b := backends.NewMemoryBackend(1000)
	require.NoError(t, b.PutGlyph(context.Background(), "A", glyph.New("A", map[string]any{"xAdvance": 500.0}), []int{65}))
	return b
}

func newTestServer(t *testing.T, font FontService, cfg Config) (*Server, *observability.PrometheusMetricsClient) {
	t.Helper()
	metrics := observability.NewPrometheusMetricsClient("fontedit_api_test", "", nil)
	s, err := NewServer(font, cfg, nil, metrics, metrics.Handler())
	require.NoError(t, err)
	return s, metrics
}

func get(s *Server, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	t.Run("Healthy backend", func(t *testing.T) {
		s, _ := newTestServer(t, newTestFont(t), DefaultConfig())
		w := get(s, "/health")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"status":"healthy"`)
	})

	t.Run("Broken backend", func(t *testing.T) {
		font := &mockFont{}
		font.On("GetUnitsPerEm", mock.Anything).Return(0, errors.New("database is locked"))

		s, _ := newTestServer(t, font, DefaultConfig())
		w := get(s, "/health")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "database is locked")
		font.AssertExpectations(t)
	})
}

func TestFontRoutes(t *testing.T) {
	s, _ := newTestServer(t, newTestFont(t), DefaultConfig())

	t.Run("Glyph map", func(t *testing.T) {
		w := get(s, "/api/v1/glyph-map")
		require.Equal(t, http.StatusOK, w.Code)
		var glyphMap map[string][]int
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &glyphMap))
		assert.Equal(t, map[string][]int{"A": {65}}, glyphMap)
	})

	t.Run("Glyph document", func(t *testing.T) {
		w := get(s, "/api/v1/glyphs/A")
		require.Equal(t, http.StatusOK, w.Code)
		var g map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &g))
		assert.Equal(t, "A", g["name"])
	})

	t.Run("Missing glyph", func(t *testing.T) {
		w := get(s, "/api/v1/glyphs/nope")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Backend errors become 500s", func(t *testing.T) {
		font := &mockFont{}
		font.On("GetGlyphMap", mock.Anything).Return(nil, errors.New("connection reset"))

		broken, _ := newTestServer(t, font, DefaultConfig())
		w := get(broken, "/api/v1/glyph-map")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), "connection reset")
		font.AssertExpectations(t)
	})

	t.Run("Font info", func(t *testing.T) {
		w := get(s, "/api/v1/font")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"unitsPerEm":1000`)
	})

	t.Run("Metrics include served requests", func(t *testing.T) {
		w := get(s, "/metrics")
		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, strings.Contains(w.Body.String(), "fontedit_api_test_http_request_duration_seconds"))
	})
}

func TestRateLimiter(t *testing.T) {
	t.Run("Limits each client", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.RateLimit = RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, Burst: 2}
		s, _ := newTestServer(t, newTestFont(t), cfg)

		assert.Equal(t, http.StatusOK, get(s, "/api/v1/glyph-map").Code)
		assert.Equal(t, http.StatusOK, get(s, "/api/v1/glyph-map").Code)
		w := get(s, "/api/v1/glyph-map")
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Contains(t, w.Body.String(), "RATE_LIMIT_EXCEEDED")

		assert.Equal(t, http.StatusOK, get(s, "/health").Code)
	})
}
