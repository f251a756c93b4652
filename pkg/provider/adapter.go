// Package provider defines the uniform capability surface every backend
// (torrent indexer, debrid service, HTTP hoster, personal cloud, Usenet
// indexer) implements, and collects the result/config shapes shared
// across adapters. Concrete adapters live in sibling packages
// (pkg/provider/torrentindex, pkg/provider/debrid,
// pkg/provider/personalcloud, …), each grounded on the teacher's
// equivalent single-purpose client.
package provider

import (
	"context"

	"github.com/deflix-tv/streamlink-aggregator/pkg/types"
)

// UserConfig carries the caller-selected options for one provider: API
// credentials, which languages/resolutions they asked for, and anything
// else a specific adapter needs (in Extra). Adapters read the fields they
// care about and ignore the rest.
type UserConfig struct {
	APIKey    string
	Languages []string

	// Resolutions/MinBytes/MaxBytes are the output filters spec.md
	// §4.12/§6 name as part of userCfg: the resolution whitelist and
	// size bounds the Ranker/Filter applies to this provider's results
	// (0 for either bound means "no bound").
	Resolutions []string
	MinBytes    int64
	MaxBytes    int64

	Extra map[string]string
}

// SearchResult is what Search returns: any mix of torrents, HTTP streams,
// and the caller's own already-available personal files.
type SearchResult struct {
	Torrents      []types.Torrent
	HttpStreams   []types.HttpStream
	PersonalFiles []types.PersonalFile
}

// Adapter is the uniform capability set. ProbeCached and Resolve are
// optional: a provider that doesn't support them returns ErrUnsupported.
type Adapter interface {
	// Name identifies the provider for logging, caching, and ranking.
	Name() string

	// Search must honor ctx cancellation/deadline, returning whatever it
	// has collected so far rather than blocking past it. It must never
	// return an error to the caller for a backend-side failure: log the
	// cause and return an empty SearchResult instead.
	Search(ctx context.Context, ref types.ContentRef, cfg UserConfig) SearchResult

	// ProbeCached asks a debrid-class backend which of the given info
	// hashes are instantly available. Returns ErrUnsupported for
	// providers without this capability.
	ProbeCached(ctx context.Context, cfg UserConfig, infoHashes []string) (map[string]bool, error)

	// Resolve turns an opaque provider-specific reference into a final
	// playable URL. Returns ErrUnsupported for providers that never need
	// a second resolve stage (e.g. a provider whose Search results are
	// already final URLs).
	Resolve(ctx context.Context, cfg UserConfig, opaqueRef string) (string, error)
}

// ErrUnsupported is returned by the optional Adapter methods when a
// provider doesn't implement that capability.
type unsupportedError struct{ op string }

func (e *unsupportedError) Error() string { return "provider: " + e.op + " not supported" }

func ErrUnsupported(op string) error { return &unsupportedError{op: op} }
