package tmdb

import (
	"encoding/json"
	"fmt"

	"moviestream/searchservice/internal/domain"
)

type wireMovie struct {
	ID         *int    `json:"id"`
	Title      *string `json:"title"`
	Overview   *string `json:"overview"`
	PosterPath *string `json:"poster_path"`
}

type wireResponse struct {
	Results *[]wireMovie `json:"results"`
}

// Decode maps a TMDB list payload onto domain movies. A null or missing
// poster_path is absent; any other missing field is ErrMalformed.
func Decode(body []byte) (domain.MovieResponse, error) {
	var payload wireResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.MovieResponse{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if payload.Results == nil {
		return domain.MovieResponse{}, fmt.Errorf("%w: missing results", ErrMalformed)
	}

	movies := make([]domain.Movie, 0, len(*payload.Results))
	for i, item := range *payload.Results {
		switch {
		case item.ID == nil:
			return domain.MovieResponse{}, fmt.Errorf("%w: results[%d]: missing id", ErrMalformed, i)
		case item.Title == nil:
			return domain.MovieResponse{}, fmt.Errorf("%w: results[%d]: missing title", ErrMalformed, i)
		case item.Overview == nil:
			return domain.MovieResponse{}, fmt.Errorf("%w: results[%d]: missing overview", ErrMalformed, i)
		}
		movie := domain.Movie{
			ID:       *item.ID,
			Title:    *item.Title,
			Overview: *item.Overview,
		}
		if item.PosterPath != nil {
			movie.PosterPath = *item.PosterPath
		}
		movies = append(movies, movie)
	}
	return domain.MovieResponse{Results: movies}, nil
}
