package apihttp

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

const maxPosterBytes = int64(5 * 1024 * 1024) // 5MB

var (
	errMissingPosterPath = errors.New("missing path")
	errInvalidPosterPath = errors.New("invalid poster path")
)

var posterExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// handlePoster streams a poster image from the TMDB CDN. Only a bare file
// name such as "/abc123.jpg" is accepted, so the upstream host is fixed.
func (s *Server) handlePoster(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/movies/poster" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	name, err := validatePosterPath(r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	annotateRequest(r.Context(), slog.String("poster", name))

	target := strings.TrimRight(s.posterBaseURL, "/") + "/" + url.PathEscape(name)
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid poster path")
		return
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")

	resp, err := s.posterClient.Do(req)
	if err != nil {
		writeError(w, http.StatusBadGateway, "upstream_error", "failed to fetch poster")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		writeError(w, http.StatusNotFound, "not_found", "poster not found")
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Upstream bodies are never forwarded.
		writeError(w, http.StatusBadGateway, "upstream_error", fmt.Sprintf("upstream returned HTTP %d", resp.StatusCode))
		return
	}
	if resp.ContentLength > maxPosterBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "invalid_request", "image too large")
		return
	}

	limited := io.LimitReader(resp.Body, maxPosterBytes)
	head := make([]byte, 512)
	n, readErr := io.ReadFull(limited, head)
	if readErr != nil && !errors.Is(readErr, io.ErrUnexpectedEOF) && !errors.Is(readErr, io.EOF) {
		writeError(w, http.StatusBadGateway, "upstream_error", "failed to read image")
		return
	}
	head = head[:n]

	contentType := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = http.DetectContentType(head)
	}
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		writeError(w, http.StatusBadGateway, "upstream_error", "not an image")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)

	_, _ = w.Write(head)
	_, _ = io.Copy(w, limited)
}

// validatePosterPath accepts a TMDB poster path with or without its leading
// slash and returns the bare file name.
func validatePosterPath(raw string) (string, error) {
	name := strings.TrimPrefix(strings.TrimSpace(raw), "/")
	if name == "" {
		return "", errMissingPosterPath
	}
	if len(name) > 128 || strings.Contains(name, "..") {
		return "", errInvalidPosterPath
	}
	for _, r := range name {
		if !isPosterNameRune(r) {
			return "", errInvalidPosterPath
		}
	}
	if !posterExtensions[strings.ToLower(path.Ext(name))] {
		return "", errInvalidPosterPath
	}
	return name, nil
}

func isPosterNameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.' || r == '-' || r == '_':
		return true
	default:
		return false
	}
}

func newPosterClient(baseURL string) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	dialer := &net.Dialer{Timeout: 8 * time.Second, KeepAlive: 30 * time.Second}
	transport.DialContext = dialer.DialContext

	allowedHost := ""
	if parsed, err := url.Parse(baseURL); err == nil {
		allowedHost = strings.ToLower(parsed.Hostname())
	}

	return &http.Client{
		Timeout:   12 * time.Second,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return errors.New("stopped after 3 redirects")
			}
			if req.URL == nil || strings.ToLower(req.URL.Hostname()) != allowedHost {
				return errors.New("redirect to foreign host")
			}
			return nil
		},
	}
}
