// Package ranker filters and sorts aggregated results against the
// caller's request: year/title match for movies, episode match for
// series, language/resolution/size whitelists, and the final
// presentation sort. No direct teacher analogue exists — the teacher
// returns provider results largely as-is — so the regex-based matching
// here follows the teacher's own regexp conventions
// (pkg/imdb2torrent/client.go's magnet2InfoHashRegex,
// pkg/imdb2torrent/ibit.go) generalized from info-hash extraction to
// episode-number extraction.
package ranker

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/deflix-tv/streamlink-aggregator/pkg/types"
)

// resolutionRank orders known resolutions from best to worst; anything
// absent sorts last.
var resolutionRank = map[string]int{
	"2160p": 4,
	"1080p": 3,
	"720p":  2,
	"480p":  1,
}

func rankOf(resolution string) int {
	return resolutionRank[resolution]
}

// Request carries the caller-facing filter parameters.
type Request struct {
	Ref types.ContentRef

	Languages   []string // empty means "no language filter"
	Resolutions []string // empty means "no resolution filter"
	MinBytes    int64    // 0 means no lower bound
	MaxBytes    int64    // 0 means no upper bound
}

// FilterTorrents applies every filter in spec order and returns the
// survivors; it never mutates its input.
func FilterTorrents(req Request, torrents []types.Torrent) []types.Torrent {
	out := make([]types.Torrent, 0, len(torrents))
	for _, t := range torrents {
		if !yearMatches(req.Ref, t.Title) {
			continue
		}
		if req.Ref.Kind == types.KindMovie && !titleMatches(req.Ref, t.Title) {
			continue
		}
		if req.Ref.Kind == types.KindEpisode && !episodeMatches(req.Ref, t) {
			continue
		}
		if !languageMatches(req.Languages, t.Languages) {
			continue
		}
		if !resolutionMatches(req.Resolutions, t.Resolution) {
			continue
		}
		if !sizeMatches(req.MinBytes, req.MaxBytes, t.SizeBytes) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// FilterHttpStreams applies the same size/resolution/language/year/
// title/episode rules as FilterTorrents, over the HttpStream shape:
// HTTP-hoster results are "released results" too (spec.md §4.10 step 4),
// so they're bound by the same post-filter pass rather than passed
// through untouched. HttpStream carries no parsed season/episode, so the
// episode check falls straight to the title-regex match.
func FilterHttpStreams(req Request, streams []types.HttpStream) []types.HttpStream {
	out := make([]types.HttpStream, 0, len(streams))
	for _, s := range streams {
		if !yearMatches(req.Ref, s.DisplayTitle) {
			continue
		}
		if req.Ref.Kind == types.KindMovie && !titleMatches(req.Ref, s.DisplayTitle) {
			continue
		}
		if req.Ref.Kind == types.KindEpisode && !episodeMatchesTitle(req.Ref, s.DisplayTitle) {
			continue
		}
		if !languageMatches(req.Languages, s.Languages) {
			continue
		}
		if !resolutionMatches(req.Resolutions, s.Resolution) {
			continue
		}
		if !sizeMatches(req.MinBytes, req.MaxBytes, s.SizeBytes) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func yearMatches(ref types.ContentRef, title string) bool {
	if ref.Kind != types.KindMovie || ref.ReleaseYear == 0 {
		return true
	}
	year := extractYear(title)
	if year == 0 {
		return true
	}
	diff := year - ref.ReleaseYear
	if diff < 0 {
		diff = -diff
	}
	return diff <= 1
}

var yearRe = regexp.MustCompile(`\b(19|20)\d{2}\b`)

func extractYear(title string) int {
	m := yearRe.FindString(title)
	if m == "" {
		return 0
	}
	year := 0
	fmt.Sscanf(m, "%d", &year)
	return year
}

// titleMatches requires at least half the canonical title's words to
// appear as substrings of the normalized result title.
func titleMatches(ref types.ContentRef, resultTitle string) bool {
	if ref.CanonicalTitle == "" {
		return true
	}
	words := strings.Fields(strings.ToLower(ref.CanonicalTitle))
	if len(words) == 0 {
		return true
	}
	normalized := strings.ToLower(resultTitle)
	needed := (len(words) + 1) / 2
	matched := 0
	for _, w := range words {
		if strings.Contains(normalized, w) {
			matched++
		}
	}
	return matched >= needed
}

// episodeRe recognizes S01E02, 1x02, and "Episode 2" style markers.
var episodeRe = regexp.MustCompile(`(?i)s(\d{1,2})e(\d{1,3})|(\d{1,2})x(\d{1,3})|episode[ .]?(\d{1,3})`)

// episodeMatches requires an exact (season, episode) match pinned from
// the title; results that can't be pinned to an episode are rejected
// rather than assumed to be a season pack.
func episodeMatches(ref types.ContentRef, t types.Torrent) bool {
	if t.Season != 0 || t.Episode != 0 {
		return t.Season == ref.Season && t.Episode == ref.Episode
	}
	return episodeMatchesTitle(ref, t.Title)
}

// episodeMatchesTitle is the title-regex-only half of episodeMatches,
// used directly by results that carry no parsed season/episode fields
// at all (HttpStream).
func episodeMatchesTitle(ref types.ContentRef, title string) bool {
	m := episodeRe.FindStringSubmatch(title)
	if m == nil {
		return false
	}
	var season, episode int
	switch {
	case m[1] != "":
		fmt.Sscanf(m[1], "%d", &season)
		fmt.Sscanf(m[2], "%d", &episode)
	case m[3] != "":
		fmt.Sscanf(m[3], "%d", &season)
		fmt.Sscanf(m[4], "%d", &episode)
	case m[5] != "":
		// Bare "Episode N" carries no season marker; assume the
		// requested season since a cross-season collision within one
		// release's result set is vanishingly rare.
		season = ref.Season
		fmt.Sscanf(m[5], "%d", &episode)
	default:
		return false
	}
	return season == ref.Season && episode == ref.Episode
}

func languageMatches(selected, resultLanguages []string) bool {
	if len(selected) == 0 {
		return true
	}
	want := map[string]bool{}
	for _, l := range selected {
		want[strings.ToLower(l)] = true
	}
	for _, l := range resultLanguages {
		if want[strings.ToLower(l)] {
			return true
		}
	}
	return false
}

func resolutionMatches(selected []string, resolution string) bool {
	if len(selected) == 0 {
		return true
	}
	for _, r := range selected {
		if strings.EqualFold(r, resolution) {
			return true
		}
	}
	return false
}

func sizeMatches(minBytes, maxBytes, size int64) bool {
	if minBytes > 0 && size < minBytes {
		return false
	}
	if maxBytes > 0 && size > maxBytes {
		return false
	}
	return true
}
