package search

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"moviestream/searchservice/internal/domain"
	"moviestream/searchservice/internal/metrics"
)

// Service creates search sessions and owns the fetcher they share.
type Service struct {
	fetcher       *sharedFetcher
	maxConcurrent int
	debounce      time.Duration
	clock         Clock
	logger        *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

type ServiceOption func(*Service)

func WithServiceDebounce(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.debounce = d
		}
	}
}

func WithServiceClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMaxConcurrentFetches(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxConcurrent = n
		}
	}
}

func NewService(upstream Fetcher, opts ...ServiceOption) *Service {
	svc := &Service{
		maxConcurrent: defaultMaxConcurrentFetches,
		debounce:      DefaultDebounce,
		clock:         systemClock{},
		logger:        slog.Default(),
		sessions:      make(map[string]*Session),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	svc.fetcher = newSharedFetcher(upstream, svc.maxConcurrent)
	return svc
}

// NewSession opens a session registered with the service. It returns nil
// once the service has been closed.
func (s *Service) NewSession() *Session {
	session := NewSession(s.fetcher,
		WithDebounce(s.debounce),
		WithClock(s.clock),
		WithSessionLogger(s.logger),
		withCloseHook(s.forget),
	)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		session.Close()
		return nil
	}
	s.sessions[session.ID()] = session
	s.mu.Unlock()

	metrics.SessionsActive.Inc()
	s.logger.Debug("search session opened", slog.String("sessionId", session.ID()))
	return session
}

// SessionIDs lists the open sessions in sorted order.
func (s *Service) SessionIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Upcoming is a one-shot read of the upcoming list through the shared fetcher.
// Errors are absorbed into an empty list, the same as in a session.
func (s *Service) Upcoming(ctx context.Context) []domain.Movie {
	response, err := s.fetcher.FetchUpcoming(ctx)
	if err != nil {
		s.logger.Warn("upcoming fetch failed", slog.String("error", err.Error()))
		return []domain.Movie{}
	}
	return nonNil(response.Results)
}

// Search is a one-shot, undebounced search. Errors are absorbed into an
// empty list.
func (s *Service) Search(ctx context.Context, query string) []domain.Movie {
	if query == "" {
		return []domain.Movie{}
	}
	response, err := s.fetcher.FetchSearch(ctx, query)
	if err != nil {
		s.logger.Warn("search fetch failed",
			slog.Int("queryLength", utf8.RuneCountInString(query)),
			slog.String("error", err.Error()),
		)
		return []domain.Movie{}
	}
	return nonNil(response.Results)
}

// Close closes every open session. Sessions requested afterwards are refused.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
}

func (s *Service) forget(session *Session) {
	s.mu.Lock()
	_, ok := s.sessions[session.ID()]
	delete(s.sessions, session.ID())
	s.mu.Unlock()
	if ok {
		metrics.SessionsActive.Dec()
	}
}
