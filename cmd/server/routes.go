package main

import "github.com/gorilla/mux"

// routes registers the HTTP surface described in spec.md §6, path-shaped
// after the teacher's root main.go router
// (`/{apitoken}/stream/{type}/{id}.json`), generalized to carry an
// opaque, base64url-encoded userCfg segment instead of a bare API token,
// since this aggregator's UserConfig is richer than a single key.
func (a *app) routes(r *mux.Router) {
	r.HandleFunc("/{userCfg}/stream/{type}/{id}.json", a.streamHandler).Methods("GET")
	r.HandleFunc("/{userCfg}/resolve/{provider}/{ref}", a.resolveHandler).Methods("GET", "HEAD")
	r.HandleFunc("/status", a.statusHandler).Methods("GET")
}
