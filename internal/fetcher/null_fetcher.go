// Grounded on fetchers/null.py: a deterministic fetcher for tests and for
// environments without a real headless-browser integration. It simulates
// success or failure based on the task's attempt_count against a configured
// threshold, so callers can exercise the Retry Policy without a network.
package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"sitesync/internal/errtypes"
	"sitesync/internal/model"
)

// NullFetcher always succeeds unless FailUntilAttempt is positive, in which
// case attempts strictly before that threshold fail with the configured
// error (transient by default).
type NullFetcher struct {
	FailUntilAttempt int
	FailPermanently  bool
	RawPayload       string
}

func (f *NullFetcher) Fetch(ctx context.Context, task model.Task) (FetchResult, error) {
	attempt := task.AttemptCount + 1
	if f.FailUntilAttempt > 0 && attempt < f.FailUntilAttempt {
		err := fmt.Errorf("null fetcher: simulated failure on attempt %d", attempt)
		if f.FailPermanently {
			return FetchResult{}, errtypes.NewPermanent(err)
		}
		return FetchResult{}, errtypes.NewTransient(err)
	}

	payload := f.RawPayload
	if payload == "" {
		payload = "<html><body>ok</body></html>"
	}
	sum := sha256.Sum256([]byte(payload))
	return FetchResult{
		AssetsCreated: 1,
		Checksum:      hex.EncodeToString(sum[:]),
		AssetType:     "page",
		FinalURL:      task.URL,
	}, nil
}
