// Package memcache holds the three process-local, restart-lost TTL maps
// described for the aggregator: the in-flight shared-future map, the
// resolve success/failure caches, and the challenge-cookie session
// cache. None of these are a correctness requirement; they only improve
// consistency and hit rate, per the teacher's redirectLock/creationCache
// split (cmd/deflix-stremio/handlers.go, cache.go).
package memcache

import "golang.org/x/sync/singleflight"

// InFlight coalesces concurrent callers sharing a key into one execution:
// a caller whose key is already running joins the in-progress future
// instead of starting a new one, and the entry is removed the moment the
// future settles (success or failure).
type InFlight struct {
	group singleflight.Group
}

func NewInFlight() *InFlight {
	return &InFlight{}
}

// Do runs fn for key, or joins an already-running call for the same key.
// shared reports whether the caller joined rather than originated the
// call.
func (f *InFlight) Do(key string, fn func() (interface{}, error)) (v interface{}, err error, shared bool) {
	return f.group.Do(key, fn)
}

// DoChan is Do's channel-based form: the underlying fn keeps running to
// settle for every joiner even if one particular caller's wait is
// abandoned. Callers that need their own wait to be cancellable (without
// canceling the shared computation for other joiners) select on the
// returned channel against their own context.
func (f *InFlight) DoChan(key string, fn func() (interface{}, error)) <-chan singleflight.Result {
	return f.group.DoChan(key, fn)
}
