package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/redis/go-redis/v9"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"

	"moviestream/searchservice/internal/domain"
	"moviestream/searchservice/internal/metrics"
)

const (
	defaultBaseURL    = "https://api.themoviedb.org/3"
	redisCacheKey     = "msearch:tmdb:"
	defaultCacheTTL   = 10 * time.Minute
	maxResponseBytes  = 2 << 20
	maxErrorBodyBytes = 1024
	// MaxQueryLength bounds the raw query size accepted by FetchSearch.
	MaxQueryLength = 500
)

type Client struct {
	apiKey    string
	baseURL   string
	language  string
	userAgent string
	http      *http.Client
	redis     *redis.Client
	cacheTTL  time.Duration
	limiter   *rate.Limiter
}

type Config struct {
	APIKey    string
	BaseURL   string
	Language  string
	UserAgent string
	Client    *http.Client
	Redis     *redis.Client
	CacheTTL  time.Duration
	// RateLimit is the outbound request budget per second; zero disables throttling.
	RateLimit float64
	RateBurst int
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &Client{
		apiKey:    strings.TrimSpace(cfg.APIKey),
		baseURL:   strings.TrimRight(baseURL, "/"),
		language:  NormalizeLanguage(cfg.Language),
		userAgent: strings.TrimSpace(cfg.UserAgent),
		http:      httpClient,
		redis:     cfg.Redis,
		cacheTTL:  cacheTTL,
		limiter:   limiter,
	}
}

// NormalizeLanguage returns the canonical BCP 47 form of raw, or "" if raw is
// empty or not a valid tag.
func NormalizeLanguage(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}
	tag, err := language.Parse(value)
	if err != nil {
		return ""
	}
	return tag.String()
}

func (c *Client) enabled() bool {
	return c.apiKey != ""
}

func (c *Client) FetchUpcoming(ctx context.Context) (domain.MovieResponse, error) {
	return c.fetch(ctx, "/movie/upcoming", "upcoming:"+c.language, nil)
}

func (c *Client) FetchSearch(ctx context.Context, query string) (domain.MovieResponse, error) {
	normalized, err := NormalizeQuery(query)
	if err != nil {
		return domain.MovieResponse{}, err
	}
	cacheKey := fmt.Sprintf("search:%s:%s", c.language, strings.ToLower(strings.TrimSpace(normalized)))
	return c.fetch(ctx, "/search/movie", cacheKey, url.Values{"query": {normalized}})
}

// NormalizeQuery validates raw as UTF-8 text within MaxQueryLength and
// returns its NFC form.
func NormalizeQuery(raw string) (string, error) {
	if !utf8.ValidString(raw) {
		return "", invalidQueryError("query is not valid UTF-8")
	}
	if len(raw) > MaxQueryLength {
		return "", invalidQueryError(fmt.Sprintf("query longer than %d bytes", MaxQueryLength))
	}
	return norm.NFC.String(raw), nil
}

func (c *Client) fetch(ctx context.Context, path, cacheKey string, params url.Values) (domain.MovieResponse, error) {
	if !c.enabled() {
		return domain.MovieResponse{}, networkError(errMissingAPIKey)
	}
	if cached, ok := c.cacheGet(ctx, cacheKey); ok {
		return cached, nil
	}

	reqURL := c.buildURL(path, params)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return domain.MovieResponse{}, networkError(err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return domain.MovieResponse{}, networkError(err)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.MovieResponse{}, networkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		var detail error
		if message := strings.TrimSpace(string(body)); message != "" {
			detail = errors.New(message)
		}
		return domain.MovieResponse{}, &FetchError{Kind: KindHTTPStatus, StatusCode: resp.StatusCode, Err: detail}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.MovieResponse{}, networkError(err)
	}

	response, err := Decode(body)
	if err != nil {
		return domain.MovieResponse{}, decodeError(err)
	}

	c.cacheSet(ctx, cacheKey, response)
	return response, nil
}

// buildURL percent-encodes params with %20 for spaces; api_key is always first.
func (c *Client) buildURL(path string, params url.Values) string {
	var b strings.Builder
	b.WriteString(c.baseURL)
	b.WriteString(path)
	b.WriteString("?api_key=")
	b.WriteString(url.QueryEscape(c.apiKey))
	if c.language != "" {
		b.WriteString("&language=")
		b.WriteString(url.QueryEscape(c.language))
	}
	if len(params) > 0 {
		b.WriteByte('&')
		b.WriteString(strings.ReplaceAll(params.Encode(), "+", "%20"))
	}
	return b.String()
}

func (c *Client) cacheGet(ctx context.Context, key string) (domain.MovieResponse, bool) {
	if c.redis == nil {
		return domain.MovieResponse{}, false
	}
	data, err := c.redis.Get(ctx, redisCacheKey+key).Bytes()
	if err != nil {
		metrics.CacheMissesTotal.Inc()
		return domain.MovieResponse{}, false
	}
	var cached domain.MovieResponse
	if json.Unmarshal(data, &cached) != nil || cached.Results == nil {
		metrics.CacheMissesTotal.Inc()
		return domain.MovieResponse{}, false
	}
	metrics.CacheHitsTotal.Inc()
	return cached, true
}

func (c *Client) cacheSet(ctx context.Context, key string, response domain.MovieResponse) {
	if c.redis == nil {
		return
	}
	if data, err := json.Marshal(response); err == nil {
		_ = c.redis.Set(ctx, redisCacheKey+key, data, c.cacheTTL).Err()
	}
}
