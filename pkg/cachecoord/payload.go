package cachecoord

import (
	"bytes"
	"encoding/gob"
	"strings"

	"github.com/deflix-tv/streamlink-aggregator/pkg/provider"
	"github.com/deflix-tv/streamlink-aggregator/pkg/types"
)

// payload is the gob-encoded shape persisted in a CacheRecord's Data
// field: the non-personal portion of a provider.SearchResult.
type payload struct {
	Torrents    []types.Torrent
	HttpStreams []types.HttpStream
}

func encodePayload(p payload) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodePayload(b []byte) (payload, error) {
	var p payload
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&p); err != nil {
		return payload{}, err
	}
	return p, nil
}

// mergePreferFirst unions two payloads by hash/dedupe key, with entries
// from `preferred` winning over `fallback` on collision.
func mergePreferFirst(preferred, fallback payload) payload {
	torrents := map[string]types.Torrent{}
	for _, t := range fallback.Torrents {
		torrents[strings.ToLower(t.InfoHash)] = t
	}
	for _, t := range preferred.Torrents {
		torrents[strings.ToLower(t.InfoHash)] = t
	}
	streams := map[string]types.HttpStream{}
	for _, s := range fallback.HttpStreams {
		streams[s.DedupeKey()] = s
	}
	for _, s := range preferred.HttpStreams {
		streams[s.DedupeKey()] = s
	}

	out := payload{
		Torrents:    make([]types.Torrent, 0, len(torrents)),
		HttpStreams: make([]types.HttpStream, 0, len(streams)),
	}
	for _, t := range torrents {
		out.Torrents = append(out.Torrents, t)
	}
	for _, s := range streams {
		out.HttpStreams = append(out.HttpStreams, s)
	}
	return out
}

func payloadFromSearchResult(r provider.SearchResult) payload {
	return payload{Torrents: r.Torrents, HttpStreams: r.HttpStreams}
}

func (p payload) size() int {
	return len(p.Torrents) + len(p.HttpStreams)
}

func (p payload) empty() bool {
	return p.size() == 0
}

// withoutHash returns p with any torrent matching hash removed.
func withoutHash(p payload, hash string) payload {
	hash = strings.ToLower(hash)
	out := payload{Torrents: make([]types.Torrent, 0, len(p.Torrents)), HttpStreams: p.HttpStreams}
	for _, t := range p.Torrents {
		if strings.ToLower(t.InfoHash) != hash {
			out.Torrents = append(out.Torrents, t)
		}
	}
	return out
}
