package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"golang.org/x/time/rate"

	"moviestream/searchservice/internal/metrics"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestRateLimitMiddleware(t *testing.T) {
	limits := routeLimits{api: rate.NewLimiter(1, 1), live: rate.NewLimiter(1, 1)}
	handler := rateLimitMiddleware(limits, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/movies/upcoming", nil))
	if first.Code != http.StatusNoContent {
		t.Fatalf("first status = %d, want 204", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/movies/upcoming", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", second.Code)
	}
	if second.Header().Get("Retry-After") != "1" {
		t.Fatal("missing Retry-After header")
	}

	for _, path := range []string{"/health", "/metrics"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("%s status = %d, must bypass the limiter", path, rec.Code)
		}
	}
}

func TestRateLimitMiddlewareLimitsLiveSessionsSeparately(t *testing.T) {
	limits := routeLimits{api: rate.NewLimiter(1, 1), live: rate.NewLimiter(1, 2)}
	handler := rateLimitMiddleware(limits, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	serve := func(path string) int {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}

	// Exhaust the REST bucket; upgrades still have their own budget.
	serve("/movies/search")
	if got := serve("/movies/search"); got != http.StatusTooManyRequests {
		t.Fatalf("rest status = %d, want 429", got)
	}
	rejectedBefore := counterValue(t, metrics.WSUpgradesRejectedTotal)
	for i := 0; i < 2; i++ {
		if got := serve("/ws/movies"); got != http.StatusNoContent {
			t.Fatalf("upgrade %d status = %d, want 204", i, got)
		}
	}
	if got := serve("/ws/movies"); got != http.StatusTooManyRequests {
		t.Fatalf("upgrade over burst status = %d, want 429", got)
	}
	if got := counterValue(t, metrics.WSUpgradesRejectedTotal) - rejectedBefore; got != 1 {
		t.Fatalf("rejected upgrades counted = %v, want 1", got)
	}
}

func TestLoggingMiddlewareAddsHandlerAnnotations(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	handler := loggingMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		annotateRequest(r.Context(), slog.Int("queryLength", 4))
		annotateRequest(r.Context(), slog.Int("results", 2))
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/movies/search?q=dune", nil))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["route"] != "/movies/search" {
		t.Fatalf("route = %v", line["route"])
	}
	if line["queryLength"] != float64(4) || line["results"] != float64(2) {
		t.Fatalf("annotations missing from %v", line)
	}
	if strings.Contains(buf.String(), "dune") {
		t.Fatalf("raw query leaked into log: %s", buf.String())
	}
}

func TestAnnotateRequestOutsideLoggingIsNoop(t *testing.T) {
	annotateRequest(context.Background(), slog.String("sessionId", "x"))
}

func TestSearchRequestLogCarriesQueryLength(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	server, _ := newTestServer(t, newFakeUpstream(), WithLogger(logger))

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/movies/search?q=dune", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var found bool
	for _, raw := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var line map[string]any
		if json.Unmarshal(raw, &line) != nil || line["msg"] != "http request" {
			continue
		}
		found = true
		if line["queryLength"] != float64(4) || line["results"] != float64(1) {
			t.Fatalf("request log = %v, want queryLength 4 and results 1", line)
		}
	}
	if !found {
		t.Fatalf("no request log line in %s", buf.String())
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	handler := recoveryMiddleware(logger, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/movies/search?q=x", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestNormalizeRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{path: "/health", want: "/health"},
		{path: "/metrics", want: "/metrics"},
		{path: "/movies/upcoming", want: "/movies/upcoming"},
		{path: "/movies/search", want: "/movies/search"},
		{path: "/movies/poster", want: "/movies/poster"},
		{path: "/ws/movies", want: "/ws/movies"},
		{path: "/movies/12345", want: "/movies"},
		{path: "/wp-admin", want: "/other"},
	}
	for _, tt := range tests {
		if got := normalizeRoute(tt.path); got != tt.want {
			t.Errorf("normalizeRoute(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestPickRequestLogLevel(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		status int
		want   slog.Level
	}{
		{name: "server error", path: "/movies/search", status: 502, want: slog.LevelError},
		{name: "client error", path: "/movies/search", status: 400, want: slog.LevelWarn},
		{name: "health", path: "/health", status: 200, want: slog.LevelDebug},
		{name: "ok", path: "/movies/upcoming", status: 200, want: slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pickRequestLogLevel(tt.path, tt.status); got != tt.want {
				t.Fatalf("level = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:5123"
	if got := clientIP(req); got != "10.0.0.9" {
		t.Fatalf("remote addr ip = %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientIP(req); got != "203.0.113.7" {
		t.Fatalf("forwarded ip = %q", got)
	}
}
