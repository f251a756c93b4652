// Package types holds the data model shared by every aggregator component:
// content references, the per-backend result shapes, the assembled output
// Stream, and the durable cache record/key shapes.
package types

import "fmt"

// ContentKind distinguishes a movie request from a series episode request.
type ContentKind string

const (
	KindMovie   ContentKind = "movie"
	KindEpisode ContentKind = "series"
)

// ContentRef identifies the release being searched for: a movie or a
// specific episode of a series, plus optional metadata used by the
// ranker and by title/episode matching.
type ContentRef struct {
	Kind   ContentKind
	ImdbID string

	// Only meaningful when Kind == KindEpisode.
	Season  int
	Episode int

	// Optional enrichment, filled in by pkg/metadata when absent.
	CanonicalTitle string
	AltTitles      []string
	ReleaseYear    int
	TmdbID         string
}

// ReleaseKey groups cache rows belonging to the same release, per
// spec.md's "Release key" glossary entry: "{type}:{imdbId}[:S:E]".
func (c ContentRef) ReleaseKey() string {
	if c.Kind == KindEpisode {
		return fmt.Sprintf("%s:%s:%d:%d", c.Kind, c.ImdbID, c.Season, c.Episode)
	}
	return fmt.Sprintf("%s:%s", c.Kind, c.ImdbID)
}

func (c ContentRef) String() string {
	return c.ReleaseKey()
}
