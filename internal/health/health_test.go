package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func serve(fn http.HandlerFunc, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	fn(rec, httptest.NewRequest(http.MethodGet, path+"?full=1", nil))
	return rec
}

func TestHealthChecker_Live(t *testing.T) {
	hc := NewHealthChecker(pingerFunc(func(context.Context) error { return errors.New("down") }), Options{}, nil)

	// 存活检查不依赖邮箱服务
	rec := serve(hc.LiveEndpoint, "/live")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "goroutine-threshold")
}

func TestHealthChecker_Ready(t *testing.T) {
	tests := []struct {
		name     string
		ping     error
		degraded int
		total    int
		want     int
	}{
		{"healthy", nil, 0, 2, http.StatusOK},
		{"no viewers", nil, 0, 0, http.StatusOK},
		{"some degraded", nil, 1, 2, http.StatusOK},
		{"all degraded", nil, 2, 2, http.StatusServiceUnavailable},
		{"provider down", errors.New("connection refused"), 0, 1, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker(
				pingerFunc(func(context.Context) error { return tt.ping }),
				Options{Degraded: func() (int, int) { return tt.degraded, tt.total }},
				nil,
			)
			rec := serve(hc.ReadyEndpoint, "/ready")
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestHealthChecker_HandlerRoutes(t *testing.T) {
	hc := NewHealthChecker(nil, Options{}, nil)

	for _, path := range []string{"/live", "/ready"} {
		rec := httptest.NewRecorder()
		hc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
