package tmdb

import (
	"encoding/json"
	"errors"
	"testing"

	"moviestream/searchservice/internal/domain"
)

func TestDecodeMapsSnakeCaseFields(t *testing.T) {
	body := []byte(`{"page":1,"results":[
		{"id":11,"title":"Dune","overview":"Spice.","poster_path":"/dune.jpg","vote_average":8.1},
		{"id":12,"title":"Heat","overview":"","poster_path":null},
		{"id":13,"title":"Ran","overview":"War."}
	]}`)

	resp, err := Decode(body)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("expected 3 movies, got %d", len(resp.Results))
	}
	first := resp.Results[0]
	if first.ID != 11 || first.Title != "Dune" || first.Overview != "Spice." || first.PosterPath != "/dune.jpg" {
		t.Fatalf("unexpected first movie: %+v", first)
	}
	if first.PosterURL() != "https://image.tmdb.org/t/p/w400/dune.jpg" {
		t.Fatalf("unexpected poster url %q", first.PosterURL())
	}
	for _, movie := range resp.Results[1:] {
		if movie.PosterPath != "" || movie.PosterURL() != "" {
			t.Fatalf("expected absent poster for %+v", movie)
		}
	}
}

func TestDecodeEmptyResults(t *testing.T) {
	resp, err := Decode([]byte(`{"results":[]}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("expected empty non-nil results, got %#v", resp.Results)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":         `<html>`,
		"missing results":  `{"page":1}`,
		"null results":     `{"results":null}`,
		"missing id":       `{"results":[{"title":"A","overview":"B"}]}`,
		"missing title":    `{"results":[{"id":1,"overview":"B"}]}`,
		"null title":       `{"results":[{"id":1,"title":null,"overview":"B"}]}`,
		"missing overview": `{"results":[{"id":1,"title":"A"}]}`,
		"string id":        `{"results":[{"id":"1","title":"A","overview":"B"}]}`,
		"float id":         `{"results":[{"id":1.5,"title":"A","overview":"B"}]}`,
		"numeric poster":   `{"results":[{"id":1,"title":"A","overview":"B","poster_path":7}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(body))
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestDecodeReencodePreservesIdentity(t *testing.T) {
	body := []byte(`{"results":[
		{"id":1,"title":"Amélie","overview":"Paris.","poster_path":"/a.jpg"},
		{"id":2,"title":"Oldboy","overview":"Hallway.","poster_path":null}
	]}`)
	first, err := Decode(body)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	encoded, err := json.Marshal(first)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var second domain.MovieResponse
	if err := json.Unmarshal(encoded, &second); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(second.Results) != len(first.Results) {
		t.Fatalf("length changed: %d -> %d", len(first.Results), len(second.Results))
	}
	for i := range first.Results {
		a, b := first.Results[i], second.Results[i]
		if a.ID != b.ID || a.Title != b.Title || a.Overview != b.Overview || a.PosterURL() != b.PosterURL() {
			t.Fatalf("movie %d changed: %+v -> %+v", i, a, b)
		}
	}
	if second.Results[1].PosterURL() != "" {
		t.Fatalf("expected absent poster url after round trip")
	}
}
