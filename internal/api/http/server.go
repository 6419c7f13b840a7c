package apihttp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"moviestream/searchservice/internal/domain"
	"moviestream/searchservice/internal/search"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// MovieService is what the HTTP layer needs from the search package.
type MovieService interface {
	NewSession() *search.Session
	Upcoming(ctx context.Context) []domain.Movie
	Search(ctx context.Context, query string) []domain.Movie
	SessionIDs() []string
}

type Server struct {
	movies MovieService
	hub    *wsHub
	logger *slog.Logger

	rateLimit     float64
	rateBurst     int
	liveRateLimit float64
	liveRateBurst int

	posterBaseURL string
	posterClient  *http.Client
	userAgent     string
}

const maxQueryLength = 500

const (
	defaultRateLimit     = 50
	defaultRateBurst     = 100
	defaultLiveRateLimit = 5
	defaultLiveRateBurst = 10
)

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		if rps > 0 {
			s.rateLimit = rps
		}
		if burst > 0 {
			s.rateBurst = burst
		}
	}
}

// WithLiveSessionRateLimit limits WebSocket upgrades separately from the REST
// endpoints; an upgrade opens a session that lives until the client leaves.
func WithLiveSessionRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		if rps > 0 {
			s.liveRateLimit = rps
		}
		if burst > 0 {
			s.liveRateBurst = burst
		}
	}
}

// WithPosterSource overrides where poster images are fetched from.
func WithPosterSource(baseURL string, client *http.Client) ServerOption {
	return func(s *Server) {
		if strings.TrimSpace(baseURL) != "" {
			s.posterBaseURL = baseURL
		}
		if client != nil {
			s.posterClient = client
		}
	}
}

func WithUserAgent(userAgent string) ServerOption {
	return func(s *Server) {
		if strings.TrimSpace(userAgent) != "" {
			s.userAgent = userAgent
		}
	}
}

func NewServer(movies MovieService, options ...ServerOption) *Server {
	server := &Server{
		movies:        movies,
		logger:        slog.Default(),
		rateLimit:     defaultRateLimit,
		rateBurst:     defaultRateBurst,
		liveRateLimit: defaultLiveRateLimit,
		liveRateBurst: defaultLiveRateBurst,
		posterBaseURL: domain.PosterBaseURL,
		userAgent:     "moviestream-search/1.0",
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	if server.posterClient == nil {
		server.posterClient = newPosterClient(server.posterBaseURL)
	}
	server.hub = newWSHub(server.logger)
	go server.hub.run()
	return server
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/movies/upcoming", s.handleUpcoming)
	mux.HandleFunc("/movies/search", s.handleSearch)
	mux.HandleFunc("/movies/poster", s.handlePoster)
	mux.HandleFunc("/ws/movies", s.handleLiveSession)
	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "movie-search",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health" && p != "/ws/movies"
		}),
	)
	limits := routeLimits{
		api:  rate.NewLimiter(rate.Limit(s.rateLimit), s.rateBurst),
		live: rate.NewLimiter(rate.Limit(s.liveRateLimit), s.liveRateBurst),
	}
	return recoveryMiddleware(s.logger, rateLimitMiddleware(limits, metricsMiddleware(traced)))
}

// Close disconnects every live session client.
func (s *Server) Close() {
	s.hub.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"status":      "ok",
		"timestamp":   time.Now().UTC(),
		"liveClients": s.hub.clientCount(),
	}
	if s.movies != nil {
		payload["sessions"] = len(s.movies.SessionIDs())
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/movies/upcoming" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.movies == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "movie service is not configured")
		return
	}
	movies := s.movies.Upcoming(r.Context())
	annotateRequest(r.Context(), slog.Int("results", len(movies)))
	writeJSON(w, http.StatusOK, map[string]any{"items": toMovieViews(movies)})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/movies/search" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.movies == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "movie service is not configured")
		return
	}

	query := r.URL.Query().Get("q")
	annotateRequest(r.Context(), slog.Int("queryLength", utf8.RuneCountInString(query)))
	if strings.TrimSpace(query) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "query is required")
		return
	}
	if len(query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long (max 500 characters)")
		return
	}

	movies := s.movies.Search(r.Context(), query)
	annotateRequest(r.Context(), slog.Int("results", len(movies)))
	writeJSON(w, http.StatusOK, map[string]any{
		"query": query,
		"items": toMovieViews(movies),
	})
}

// movieView is the wire form of a movie: the domain fields plus the derived
// poster URL.
type movieView struct {
	domain.Movie
	PosterURL string `json:"posterUrl,omitempty"`
}

func toMovieViews(movies []domain.Movie) []movieView {
	views := make([]movieView, 0, len(movies))
	for _, movie := range movies {
		views = append(views, movieView{Movie: movie, PosterURL: movie.PosterURL()})
	}
	return views
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
