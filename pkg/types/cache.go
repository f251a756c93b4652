package types

import "time"

// CacheRecord is the durable ByteStore row shape. Primary key is
// (Service, Hash); ReleaseKey is a secondary field used for
// countsByRelease scans.
type CacheRecord struct {
	Service string // provider/debrid service name, e.g. "realdebrid"
	Hash    string // lowercase infoHash or provider-specific identity hash

	FileName  string
	SizeBytes int64
	Data      []byte // gob-encoded payload; shape is provider-specific

	ReleaseKey string // ContentRef.ReleaseKey(), for prefix scans
	Category   string // "movie" | "series"
	Resolution string

	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// Key returns the ByteStore row key for this record.
func (r CacheRecord) Key() string {
	return r.Service + "|" + r.Hash
}

// Expired reports whether now is past ExpiresAt. A zero ExpiresAt never
// expires.
func (r CacheRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// ResolveKey identifies a single resolve attempt for deduping and for
// memcache's success/failure lookup: the same provider, API key, and
// content can race multiple times concurrently and must collapse to one
// in-flight resolve.
type ResolveKey struct {
	Provider   string
	APIKeyTail string // last few characters only, never the full key
	ContentKey string // infoHash when known, else the raw opaque ref
}

func (k ResolveKey) String() string {
	return k.Provider + "|" + k.APIKeyTail + "|" + k.ContentKey
}
