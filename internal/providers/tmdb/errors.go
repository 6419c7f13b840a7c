package tmdb

import (
	"errors"
	"fmt"
)

// ErrMalformed is wrapped by every decode failure.
var ErrMalformed = errors.New("malformed tmdb response")

var errMissingAPIKey = errors.New("api key is not configured")

type FetchErrorKind string

const (
	KindNetwork      FetchErrorKind = "network"
	KindDecode       FetchErrorKind = "decode"
	KindHTTPStatus   FetchErrorKind = "http_status"
	KindInvalidQuery FetchErrorKind = "invalid_query"
)

// FetchError is returned by every failing Client fetch.
type FetchError struct {
	Kind       FetchErrorKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.Kind == KindHTTPStatus && e.Err != nil:
		return fmt.Sprintf("tmdb HTTP %d: %v", e.StatusCode, e.Err)
	case e.Kind == KindHTTPStatus:
		return fmt.Sprintf("tmdb HTTP %d", e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("tmdb %s: %v", e.Kind, e.Err)
	default:
		return "tmdb " + string(e.Kind)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// KindOf reports the FetchError kind carried by err, or "" if err is not one.
func KindOf(err error) FetchErrorKind {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Kind
	}
	return ""
}

func networkError(err error) error {
	return &FetchError{Kind: KindNetwork, Err: err}
}

func decodeError(err error) error {
	return &FetchError{Kind: KindDecode, Err: err}
}

func invalidQueryError(reason string) error {
	return &FetchError{Kind: KindInvalidQuery, Err: errors.New(reason)}
}
