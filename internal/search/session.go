package search

import (
	"context"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"moviestream/searchservice/internal/domain"
	"moviestream/searchservice/internal/metrics"
)

const DefaultDebounce = 300 * time.Millisecond

// Fetcher is the remote movie source a session reads from.
type Fetcher interface {
	FetchUpcoming(ctx context.Context) (domain.MovieResponse, error)
	FetchSearch(ctx context.Context, query string) (domain.MovieResponse, error)
}

// State is a published snapshot of a session. Slices are owned by the
// snapshot and must be treated as read-only by listeners.
type State struct {
	Query          string         `json:"query"`
	Upcoming       []domain.Movie `json:"upcoming"`
	UpcomingLoaded bool           `json:"upcomingLoaded"`
	SearchResults  []domain.Movie `json:"searchResults"`
}

// EffectiveMovies is the list a view shows: search results while a query is
// set, the upcoming list otherwise.
func (s State) EffectiveMovies() []domain.Movie {
	if s.Query == "" {
		return s.Upcoming
	}
	return s.SearchResults
}

func (s State) clone() State {
	return State{
		Query:          s.Query,
		Upcoming:       domain.CloneMovies(s.Upcoming),
		UpcomingLoaded: s.UpcomingLoaded,
		SearchResults:  domain.CloneMovies(s.SearchResults),
	}
}

// Session owns the query -> debounce -> fetch -> switch-to-latest pipeline for
// one view. All state transitions happen under mu. Each issued search carries
// a generation number, and completions from an older generation are dropped.
type Session struct {
	id       string
	fetcher  Fetcher
	clock    Clock
	debounce time.Duration
	logger   *slog.Logger
	onClose  func(*Session)

	ctx    context.Context
	cancel context.CancelFunc
	pub    *publisher[State]

	mu             sync.Mutex
	state          State
	closed         bool
	loadStarted    bool
	debounceTimer  Timer
	debounceSeq    uint64
	generation     uint64
	cancelInFlight context.CancelFunc
}

var _ Observable[State] = (*Session)(nil)

type SessionOption func(*Session)

func WithDebounce(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.debounce = d
		}
	}
}

func WithClock(clock Clock) SessionOption {
	return func(s *Session) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func withCloseHook(hook func(*Session)) SessionOption {
	return func(s *Session) {
		s.onClose = hook
	}
}

func NewSession(fetcher Fetcher, opts ...SessionOption) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:       uuid.NewString(),
		fetcher:  fetcher,
		clock:    systemClock{},
		debounce: DefaultDebounce,
		logger:   slog.Default(),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = s.logger.With(slog.String("sessionId", s.id))
	s.state = State{Upcoming: []domain.Movie{}, SearchResults: []domain.Movie{}}
	s.pub = newPublisher(s.state.clone())
	return s
}

func (s *Session) ID() string {
	return s.id
}

// Current returns a copy of the last fully resolved state.
func (s *Session) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

func (s *Session) OnChange(listener func(State)) func() {
	return s.pub.OnChange(listener)
}

func (s *Session) Query() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Query
}

// Movies returns the effective movie list for the current query.
func (s *Session) Movies() []domain.Movie {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.CloneMovies(s.state.EffectiveMovies())
}

// LoadUpcoming fetches the upcoming list once per session. Failures are
// absorbed: the list becomes empty and the error is only logged.
func (s *Session) LoadUpcoming(ctx context.Context) {
	s.mu.Lock()
	if s.closed || s.loadStarted {
		s.mu.Unlock()
		return
	}
	s.loadStarted = true
	s.mu.Unlock()

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	response, err := s.fetcher.FetchUpcoming(fetchCtx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	movies := response.Results
	if err != nil {
		s.logger.Warn("upcoming fetch failed", slog.String("error", err.Error()))
		movies = nil
	}
	s.state.Upcoming = nonNil(movies)
	s.state.UpcomingLoaded = true
	s.publishLocked()
}

// SetQuery records the new query immediately and (re)starts the debounce
// window. A search is issued only once the window elapses without another
// SetQuery.
func (s *Session) SetQuery(query string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.state.Query = query
	s.publishLocked()

	if s.debounceTimer != nil && s.debounceTimer.Stop() {
		metrics.DebounceResetsTotal.Inc()
	}
	s.debounceSeq++
	seq := s.debounceSeq
	s.debounceTimer = s.clock.AfterFunc(s.debounce, func() {
		s.debounceElapsed(seq)
	})
}

// Close tears the session down. Pending and in-flight searches are cancelled
// and no further state changes are published.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
		s.debounceTimer = nil
	}
	if s.cancelInFlight != nil {
		s.cancelInFlight()
		s.cancelInFlight = nil
	}
	s.mu.Unlock()

	s.cancel()
	s.pub.close()
	if s.onClose != nil {
		s.onClose(s)
	}
	s.logger.Debug("search session closed")
}

func (s *Session) debounceElapsed(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// A timer that fired while being replaced is stale.
	if s.closed || seq != s.debounceSeq {
		return
	}
	s.debounceTimer = nil
	s.issueSearchLocked(s.state.Query)
}

func (s *Session) issueSearchLocked(query string) {
	s.generation++
	generation := s.generation
	if s.cancelInFlight != nil {
		s.cancelInFlight()
		s.cancelInFlight = nil
	}

	metrics.SearchesIssuedTotal.Inc()
	ctx, cancel := context.WithCancel(s.ctx)
	s.cancelInFlight = cancel
	go s.runSearch(ctx, cancel, generation, query)
}

func (s *Session) runSearch(ctx context.Context, cancel context.CancelFunc, generation uint64, query string) {
	defer cancel()
	response, err := s.fetcher.FetchSearch(ctx, query)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || generation != s.generation {
		metrics.StaleResultsDroppedTotal.Inc()
		s.logger.Debug("stale search result dropped",
			slog.Uint64("generation", generation),
			slog.Uint64("latest", s.generation),
		)
		return
	}
	s.cancelInFlight = nil

	movies := response.Results
	if err != nil {
		s.logger.Warn("search fetch failed",
			slog.Int("queryLength", utf8.RuneCountInString(query)),
			slog.String("error", err.Error()),
		)
		movies = nil
	}
	s.state.SearchResults = nonNil(movies)
	s.publishLocked()
}

func (s *Session) publishLocked() {
	s.pub.publish(s.state.clone())
}

func nonNil(movies []domain.Movie) []domain.Movie {
	if movies == nil {
		return []domain.Movie{}
	}
	return domain.CloneMovies(movies)
}
