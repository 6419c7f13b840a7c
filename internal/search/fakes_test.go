package search

import (
	"context"
	"sync"
	"testing"
	"time"

	"moviestream/searchservice/internal/domain"
)

// ---------------------------------------------------------------------------
// manual clock
// ---------------------------------------------------------------------------

type manualClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
	fired  int
}

type manualTimer struct {
	clock   *manualClock
	at      time.Duration
	f       func()
	stopped bool
	done    bool
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	timer := &manualTimer{clock: c, at: c.now + d, f: f}
	c.timers = append(c.timers, timer)
	return timer
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.done {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward and runs due timers in order on the calling
// goroutine.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	for {
		var next *manualTimer
		for _, timer := range c.timers {
			if timer.stopped || timer.done || timer.at > target {
				continue
			}
			if next == nil || timer.at < next.at {
				next = timer
			}
		}
		if next == nil {
			break
		}
		next.done = true
		c.now = next.at
		c.fired++
		c.mu.Unlock()
		next.f()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

func (c *manualClock) Fired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired
}

// ---------------------------------------------------------------------------
// scripted fetcher
// ---------------------------------------------------------------------------

type fetchResult struct {
	movies []domain.Movie
	err    error
}

type searchCall struct {
	ctx   context.Context
	query string
	reply chan fetchResult
}

func (c *searchCall) respond(movies []domain.Movie, err error) {
	c.reply <- fetchResult{movies: movies, err: err}
}

// scriptedFetcher hands every search to the test through calls and blocks
// until the test replies. It ignores cancellation so that late completions
// can be simulated.
type scriptedFetcher struct {
	calls    chan *searchCall
	upcoming func(ctx context.Context) ([]domain.Movie, error)

	mu            sync.Mutex
	searchCount   int
	upcomingCount int
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{calls: make(chan *searchCall, 16)}
}

func (f *scriptedFetcher) FetchUpcoming(ctx context.Context) (domain.MovieResponse, error) {
	f.mu.Lock()
	f.upcomingCount++
	fn := f.upcoming
	f.mu.Unlock()
	if fn == nil {
		return domain.MovieResponse{Results: []domain.Movie{}}, nil
	}
	movies, err := fn(ctx)
	return domain.MovieResponse{Results: movies}, err
}

func (f *scriptedFetcher) FetchSearch(ctx context.Context, query string) (domain.MovieResponse, error) {
	f.mu.Lock()
	f.searchCount++
	f.mu.Unlock()
	call := &searchCall{ctx: ctx, query: query, reply: make(chan fetchResult, 1)}
	f.calls <- call
	result := <-call.reply
	return domain.MovieResponse{Results: result.movies}, result.err
}

func (f *scriptedFetcher) Searches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searchCount
}

func (f *scriptedFetcher) UpcomingCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upcomingCount
}

func nextCall(t *testing.T, f *scriptedFetcher) *searchCall {
	t.Helper()
	select {
	case call := <-f.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for search call")
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func movie(id int, title string) domain.Movie {
	return domain.Movie{ID: id, Title: title, Overview: title + " overview"}
}

func titles(movies []domain.Movie) []string {
	out := make([]string, 0, len(movies))
	for _, m := range movies {
		out = append(out, m.Title)
	}
	return out
}
