package resolver

import (
	"context"
	"fmt"
	"time"
)

// NZBFile is one file in a submitted NZB job's result listing.
type NZBFile struct {
	Name  string
	Bytes int64
	URL   string
}

// NZBBackend is the Usenet-indexer-class collaborator: submit an NZB
// descriptor, poll until the backend finishes assembling it, and list
// the resulting files.
type NZBBackend interface {
	Submit(ctx context.Context, apiKey, nzbRef string) (jobID string, err error)
	Status(ctx context.Context, apiKey, jobID string) (done bool, files []NZBFile, err error)
}

const (
	nzbPollInterval = 2 * time.Second
	nzbPollAttempts = 60 // bounded wall-clock, ~2 minutes
)

// resolveNZB submits the NZB descriptor, waits for completion within a
// bounded wall-clock, and returns the URL of the largest video file (the
// first listed file when none is a video).
func (r *Resolver) resolveNZB(ctx context.Context, req Request) (string, error) {
	backend, ok := r.nzbBackends[req.Provider]
	if !ok {
		return "", fmt.Errorf("resolver: no NZB backend registered for provider %q", req.Provider)
	}

	jobID, err := backend.Submit(ctx, req.APIKey, req.OpaqueRef)
	if err != nil {
		return "", fmt.Errorf("submit nzb: %w", err)
	}

	var files []NZBFile
	for attempt := 0; attempt < nzbPollAttempts; attempt++ {
		done, fs, err := backend.Status(ctx, req.APIKey, jobID)
		if err != nil {
			return "", fmt.Errorf("poll nzb status: %w", err)
		}
		if done {
			files = fs
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(nzbPollInterval):
		}
	}
	if len(files) == 0 {
		return "", fmt.Errorf("resolver: nzb job produced no files")
	}

	best := files[0]
	foundVideo := false
	for _, f := range files {
		if isVideoFile(f.Name) && (!foundVideo || f.Bytes > best.Bytes) {
			best, foundVideo = f, true
		}
	}
	if best.URL == "" {
		return "", fmt.Errorf("resolver: nzb job's largest file had no URL")
	}
	return best.URL, nil
}
