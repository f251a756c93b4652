// Package dedupe implements the process-wide RequestDeduper: concurrent
// callers asking for the same (provider, content, languages, identity)
// tuple join a single in-flight computation instead of each starting
// their own. Built on golang.org/x/sync/singleflight, which already
// provides exactly the "join existing future, remove on settle"
// semantics the teacher hand-rolls with a per-key sync.Mutex map
// (redirectLock/redirectLockMapLock in cmd/deflix-stremio/handlers.go);
// singleflight is the ecosystem-idiomatic form of that same pattern.
package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/deflix-tv/streamlink-aggregator/pkg/types"
)

// Deduper coalesces concurrent identical requests.
type Deduper struct {
	group singleflight.Group
}

func New() *Deduper {
	return &Deduper{}
}

// Do runs fn for the given request key, or joins an already-running call
// for the same key. shared reports whether the caller joined rather than
// originated the call.
func (d *Deduper) Do(key string, fn func() (interface{}, error)) (v interface{}, err error, shared bool) {
	return d.group.Do(key, fn)
}

// RequestKey derives the deterministic requestKey for a search call: a
// hash over (provider, contentRef, normalized languages, identity hash)
// so two sessions of the same user coalesce but different users never
// do.
func RequestKey(providerName string, ref types.ContentRef, languages []string, identityHash string) string {
	norm := make([]string, len(languages))
	copy(norm, languages)
	for i, l := range norm {
		norm[i] = strings.ToLower(strings.TrimSpace(l))
	}
	sort.Strings(norm)

	h := sha256.New()
	h.Write([]byte(providerName))
	h.Write([]byte{0})
	h.Write([]byte(ref.ReleaseKey()))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(norm, ",")))
	h.Write([]byte{0})
	h.Write([]byte(identityHash))
	return hex.EncodeToString(h.Sum(nil))
}

// IdentityHash derives a stable, non-reversible token from a caller's
// API key (its tail only, per the "stable tokens (API-key suffixes)"
// identity rule) so the hash never carries the full credential.
func IdentityHash(apiKeyTail string) string {
	sum := sha256.Sum256([]byte(apiKeyTail))
	return hex.EncodeToString(sum[:8])
}
