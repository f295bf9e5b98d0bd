// Package fetcher defines the Fetcher capability consumed by the worker
// pool (§6) and provides two reference implementations: an HTTP streaming
// media fetcher (grounded on fetchers/http.py) and a deterministic fetcher
// useful for tests and environments without a real browser integration
// (grounded on fetchers/null.py). Full headless-browser HTML fetching
// remains out of scope.
package fetcher

import (
	"context"

	"sitesync/internal/model"
)

// FetchResult is what a successful fetch reports back to the worker.
type FetchResult struct {
	AssetsCreated         int
	RawPayloadPath        string
	NormalizedPayloadPath string
	Checksum              string
	AssetType             string
	MetadataJSON          string
	// FinalURL is metadata.url: the URL the fetch actually landed on after
	// redirects, used by auth-redirect detection (§4.6).
	FinalURL string
}

// Fetcher is the capability interface the worker pool drives. Implementations
// return *errtypes.TransientFetchError for retryable failures and
// *errtypes.FetchError for permanent ones.
type Fetcher interface {
	Fetch(ctx context.Context, task model.Task) (FetchResult, error)
}
