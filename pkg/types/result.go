package types

import (
	"net/url"
	"strconv"
	"strings"
)

// Torrent is a result from a torrent-indexer provider.
// InfoHash is always stored/compared lowercase.
type Torrent struct {
	InfoHash  string // 40-hex, lowercase, unique within a result set
	Title     string
	SizeBytes int64
	Seeders   int
	Tracker   string
	Languages []string
	Provider  string

	// Optional parsed fields.
	Season          int
	Episode         int
	Resolution      string
	Codec           string
	QualityCategory string
}

// MagnetURI derives a magnet link from the info hash and title. Trackers
// are optional suffixes, appended when known.
func (t Torrent) MagnetURI(trackers ...string) string {
	var b strings.Builder
	b.WriteString("magnet:?xt=urn:btih:")
	b.WriteString(t.InfoHash)
	b.WriteString("&dn=")
	b.WriteString(url.QueryEscape(t.Title))
	for _, tr := range trackers {
		if tr == "" {
			continue
		}
		b.WriteString("&tr=")
		b.WriteString(url.QueryEscape(tr))
	}
	return b.String()
}

// HttpStream is a result from an HTTP file-hoster provider. Unlike
// Torrent it carries no infoHash; de-duplication uses the tuple
// (ProviderLabel, normalized title, size, resolution).
type HttpStream struct {
	ProviderLabel string
	DisplayTitle  string
	SizeBytes     int64 // 0 means unknown
	Resolution    string
	OpaqueURL     string // may require a second-stage Resolve

	// Languages is optional, populated only when the provider can detect
	// them from the hoster's own listing; empty means "none detected",
	// which a selected-language filter treats like any other unmatched
	// result.
	Languages []string
}

func (h HttpStream) DedupeKey() string {
	return strings.Join([]string{
		strings.ToLower(h.ProviderLabel),
		normalizeTitle(h.DisplayTitle),
		strconv.FormatInt(h.SizeBytes, 10),
		strings.ToLower(h.Resolution),
	}, "|")
}

// PersonalFile is a file already present in the user's own debrid or
// home-media storage. Never cached in ByteStore; always sorts ahead of
// non-personal results and shadows duplicates sharing its hash.
type PersonalFile struct {
	Provider  string
	FileName  string
	URL       string
	Hash      string // lowercase infoHash when derivable, else empty
	SizeBytes int64
}

// Stream is the presentation-ready, assembled output item.
type Stream struct {
	Name       string
	Title      string
	URL        string
	BingeGroup string
	Resolution string
	SizeBytes  int64
	IsPersonal bool
	Hash       string // lowercase infoHash, when known

	// Set for synthetic informational items (rate-limited, challenge
	// failure, …) that are not real playable streams.
	Informational bool
	RetryAfterSec int
}

func normalizeTitle(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	prevSpace := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevSpace = false
		default:
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
