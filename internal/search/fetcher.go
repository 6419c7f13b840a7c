package search

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"moviestream/searchservice/internal/domain"
	"moviestream/searchservice/internal/metrics"
	"moviestream/searchservice/internal/providers/tmdb"
	"moviestream/searchservice/internal/telemetry"
)

const (
	defaultMaxConcurrentFetches = 8
	sharedFetchTimeout          = 30 * time.Second
)

const (
	endpointUpcoming = "upcoming"
	endpointSearch   = "search"
)

// sharedFetcher sits between sessions and the TMDB client. Concurrent
// upcoming fetches share one outbound call; searches stay per caller so that
// cancelling a superseded search cancels its request. The number of outbound
// calls in flight is bounded.
type sharedFetcher struct {
	upstream Fetcher
	group    singleflight.Group
	sem      *semaphore.Weighted
	tracer   trace.Tracer
}

func newSharedFetcher(upstream Fetcher, maxConcurrent int) *sharedFetcher {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrentFetches
	}
	return &sharedFetcher{
		upstream: upstream,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		tracer:   telemetry.Tracer(),
	}
}

func (f *sharedFetcher) FetchUpcoming(ctx context.Context) (domain.MovieResponse, error) {
	ctx, span := f.tracer.Start(ctx, "tmdb.upcoming", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	// The shared call outlives any single caller, so it runs on a detached
	// context; each caller can still stop waiting through its own ctx.
	ch := f.group.DoChan(endpointUpcoming, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedFetchTimeout)
		defer cancel()
		return f.call(runCtx, endpointUpcoming, f.upstream.FetchUpcoming)
	})

	select {
	case <-ctx.Done():
		finishSpan(span, domain.MovieResponse{}, ctx.Err())
		return domain.MovieResponse{}, ctx.Err()
	case result := <-ch:
		span.SetAttributes(attribute.Bool("movies.shared", result.Shared))
		if result.Err != nil {
			finishSpan(span, domain.MovieResponse{}, result.Err)
			return domain.MovieResponse{}, result.Err
		}
		response := domain.MovieResponse{Results: domain.CloneMovies(result.Val.(domain.MovieResponse).Results)}
		finishSpan(span, response, nil)
		return response, nil
	}
}

func (f *sharedFetcher) FetchSearch(ctx context.Context, query string) (domain.MovieResponse, error) {
	ctx, span := f.tracer.Start(ctx, "tmdb.search",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int("movies.query_length", len(query))),
	)
	defer span.End()

	response, err := f.call(ctx, endpointSearch, func(runCtx context.Context) (domain.MovieResponse, error) {
		return f.upstream.FetchSearch(runCtx, query)
	})
	finishSpan(span, response, err)
	return response, err
}

func (f *sharedFetcher) call(
	ctx context.Context,
	endpoint string,
	fetch func(context.Context) (domain.MovieResponse, error),
) (domain.MovieResponse, error) {
	if err := f.sem.Acquire(ctx, 1); err != nil {
		metrics.TMDBRequestsTotal.WithLabelValues(endpoint, "cancelled").Inc()
		return domain.MovieResponse{}, err
	}
	defer f.sem.Release(1)

	startedAt := time.Now()
	response, err := fetch(ctx)
	metrics.TMDBRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startedAt).Seconds())
	metrics.TMDBRequestsTotal.WithLabelValues(endpoint, fetchStatus(err)).Inc()
	return response, err
}

// fetchStatus labels a fetch outcome. TMDB failures carry their kind so the
// request counter separates network trouble from bad payloads.
func fetchStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	if kind := tmdb.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}

func finishSpan(span trace.Span, response domain.MovieResponse, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, fetchStatus(err))
		return
	}
	span.SetAttributes(attribute.Int("movies.results", len(response.Results)))
}
