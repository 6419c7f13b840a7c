package domain

import "strings"

// PosterBaseURL is the image CDN prefix for w400 posters.
const PosterBaseURL = "https://image.tmdb.org/t/p/w400/"

type Movie struct {
	ID         int    `json:"id"`
	Title      string `json:"title"`
	Overview   string `json:"overview"`
	PosterPath string `json:"posterPath,omitempty"`
}

// PosterURL returns the absolute poster location, or "" when the movie has no poster.
func (m Movie) PosterURL() string {
	return PosterURLFor(m.PosterPath)
}

func PosterURLFor(posterPath string) string {
	path := strings.TrimLeft(strings.TrimSpace(posterPath), "/")
	if path == "" {
		return ""
	}
	return PosterBaseURL + path
}

type MovieResponse struct {
	Results []Movie `json:"results"`
}

// CloneMovies copies movies. A nil slice stays nil and an empty one stays
// empty, so "no results" and "not loaded" remain distinguishable.
func CloneMovies(movies []Movie) []Movie {
	if movies == nil {
		return nil
	}
	out := make([]Movie, len(movies))
	copy(out, movies)
	return out
}
