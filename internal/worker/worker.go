// Package worker implements the Worker Pool (§4.5): consumes tasks from the
// Dispatcher's channel, drives the correct fetcher under the Retry Policy,
// persists success or failure through the Store, and triggers auth-redirect
// detection and link discovery on successful page fetches.
package worker

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"time"

	"sitesync/internal/dispatcher"
	"sitesync/internal/errtypes"
	"sitesync/internal/fetcher"
	"sitesync/internal/linkdiscoverer"
	"sitesync/internal/metrics"
	"sitesync/internal/model"
	"sitesync/internal/plugin"
	"sitesync/internal/retrypolicy"
	"sitesync/internal/store"
	"sitesync/internal/urlfilter"
)

// taskStore is the subset of *store.Store a Worker depends on.
type taskStore interface {
	CompleteTask(taskID int64, leaseOwner string) (bool, error)
	FailTask(taskID int64, errMsg string, backoffSeconds, maxRetries int) error
	MarkTaskError(taskID int64, errMsg string) error
	ReleaseTask(taskID int64, reason string) error
	RecordAsset(runID int64, sourceURL, assetKey, assetType, checksum, rawPath, normalizedPath, metadataJSON string) (int, error)
	EnqueueSeedTasks(runID int64, seeds []store.SeedURL, taskType model.TaskType) (int, error)
}

// Hooks lets a caller observe terminal task outcomes, e.g. for the run
// metadata artifact or progress reporting. Both are optional.
type Hooks struct {
	OnSuccess func(task model.Task, result fetcher.FetchResult)
	OnFailure func(task model.Task, err error)
}

// Worker consumes WorkItems until it receives a sentinel or ctx is done.
type Worker struct {
	ID           string
	RunID        int64
	Store        taskStore
	PageFetcher  fetcher.Fetcher
	MediaFetcher fetcher.Fetcher
	Plugins      *plugin.Registry
	Filter       *urlfilter.Filter
	Retry        retrypolicy.Config
	FetchTimeout time.Duration
	Metrics      *metrics.Metrics
	Hooks        Hooks
}

// Run drains in until a sentinel arrives or ctx is cancelled. On
// cancellation it releases whatever task it holds and returns.
func (w *Worker) Run(ctx context.Context, in <-chan dispatcher.WorkItem) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case item, ok := <-in:
			if !ok || item.Sentinel {
				return nil
			}
			w.process(ctx, item.Task)
		}
	}
}

func (w *Worker) process(ctx context.Context, task model.Task) {
	select {
	case <-ctx.Done():
		w.Store.ReleaseTask(task.ID, "stopped")
		return
	default:
	}

	if w.Metrics != nil {
		w.Metrics.ActiveWorkers.Inc()
		defer w.Metrics.ActiveWorkers.Dec()
	}

	f := w.PageFetcher
	if task.TaskType == model.TaskTypeMedia {
		f = w.MediaFetcher
	}

	attempt := 0
	var result fetcher.FetchResult
	err := retrypolicy.Run(ctx, w.Retry, func(attemptCtx context.Context) error {
		attempt++
		if attempt > 1 && w.Metrics != nil {
			w.Metrics.RetryTotal.WithLabelValues(string(task.TaskType)).Inc()
		}

		callCtx := attemptCtx
		if w.FetchTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(attemptCtx, w.FetchTimeout)
			defer cancel()
		}
		start := time.Now()
		r, fetchErr := f.Fetch(callCtx, task)
		if w.Metrics != nil {
			w.Metrics.FetchDuration.WithLabelValues(string(task.TaskType), outcomeLabel(fetchErr)).Observe(time.Since(start).Seconds())
		}
		if fetchErr != nil {
			return fetchErr
		}
		result = r
		return nil
	})

	switch {
	case err == nil:
		w.onSuccess(task, result)
	case ctx.Err() != nil:
		w.Store.ReleaseTask(task.ID, "stopped")
	case retrypolicy.IsRetryExhausted(err):
		w.Store.MarkTaskError(task.ID, err.Error())
		w.countTerminal("error")
		if w.Hooks.OnFailure != nil {
			w.Hooks.OnFailure(task, err)
		}
	case errtypes.IsPermanent(err):
		// Permanent errors skip the queue's retry path entirely: maxRetries=0
		// forces FailTask's attempt_count+1 >= maxRetries check to land on
		// error immediately, matching the "no further retries by the queue"
		// taxonomy (spec §7), not the unclassified-failure backoff path.
		w.Store.FailTask(task.ID, err.Error(), backoffSecondsFor(w.Retry), 0)
		w.countTerminal("error")
		if w.Hooks.OnFailure != nil {
			w.Hooks.OnFailure(task, err)
		}
	default:
		w.Store.FailTask(task.ID, err.Error(), backoffSecondsFor(w.Retry), w.Retry.MaxRetries)
		if w.Hooks.OnFailure != nil {
			w.Hooks.OnFailure(task, err)
		}
	}
}

// outcomeLabel classifies a fetch attempt's error for the fetch_duration
// histogram's "outcome" label.
func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errtypes.IsTransient(err):
		return "transient"
	default:
		return "permanent"
	}
}

// countTerminal increments tasks_total for a status this worker can observe
// with certainty as terminal: finished, error via mark_task_error on retry
// exhaustion, and error via fail_task with maxRetries=0 on a permanent
// failure. The unclassified-failure fail_task call may return the task to
// pending, so its outcome is not counted here.
func (w *Worker) countTerminal(status string) {
	if w.Metrics == nil {
		return
	}
	w.Metrics.TasksTotal.WithLabelValues(status).Inc()
}

func backoffSecondsFor(cfg retrypolicy.Config) int {
	if cfg.BackoffMin <= 0 {
		return 1
	}
	return int(cfg.BackoffMin / time.Second)
}

func (w *Worker) onSuccess(task model.Task, result fetcher.FetchResult) {
	applied, err := w.Store.CompleteTask(task.ID, task.LeaseOwner)
	if err != nil || !applied {
		return
	}
	w.countTerminal("finished")
	if w.Hooks.OnSuccess != nil {
		w.Hooks.OnSuccess(task, result)
	}

	assetType := result.AssetType
	if assetType == "" {
		assetType = "page"
	}
	w.recordAssets(task, assetType, result)

	if task.TaskType != model.TaskTypePage {
		return
	}

	finalURL := result.FinalURL
	if finalURL == "" {
		finalURL = task.URL
	}
	redirect := linkdiscoverer.DetectAuthRedirect(finalURL)
	if redirect.Detected {
		for _, pattern := range redirect.DenyPatterns {
			w.Filter.AddRuntimeDeny(redirect.Host, pattern)
		}
		return
	}

	if task.Depth <= 1 {
		return
	}

	base, err := url.Parse(finalURL)
	if err != nil {
		return
	}

	pages, media, err := discover(result, base, task, w.Filter)
	if err != nil {
		return
	}
	w.enqueue(pages, model.TaskTypePage)
	w.enqueue(media, model.TaskTypeMedia)
}

// recordAssets runs the plugin registry's normalization and persists every
// AssetRecord it returns as its own asset row (§4.5 point 3, §6): a plugin
// may fan a single fetch out into several logical assets, each with its own
// identifier, checksum, and normalized path. When no plugin matches,
// plugin.Registry.Normalize already falls back to one default record
// carrying the fetcher's own asset_type and checksum.
func (w *Worker) recordAssets(task model.Task, assetType string, result fetcher.FetchResult) {
	records, err := w.normalize(assetType, task.URL, result)
	if err != nil {
		return
	}
	for _, rec := range records {
		identifier := rec.Identifier
		if identifier == "" {
			identifier = task.URL
		}
		recordType := rec.AssetType
		if recordType == "" {
			recordType = assetType
		}
		w.Store.RecordAsset(w.RunID, task.URL, identifier, recordType, rec.Checksum, result.RawPayloadPath, rec.NormalizedPath, metadataJSONFor(rec, result))
	}
}

func (w *Worker) normalize(assetType, sourceURL string, result fetcher.FetchResult) ([]plugin.AssetRecord, error) {
	if w.Plugins != nil {
		return w.Plugins.Normalize(assetType, sourceURL, result.RawPayloadPath, result.Checksum, result.MetadataJSON, "")
	}
	return []plugin.AssetRecord{{Identifier: sourceURL, AssetType: assetType, Checksum: result.Checksum}}, nil
}

// metadataJSONFor prefers a plugin's own structured metadata over the raw
// fetcher metadata when the plugin supplied any.
func metadataJSONFor(rec plugin.AssetRecord, result fetcher.FetchResult) string {
	if len(rec.Metadata) == 0 {
		return result.MetadataJSON
	}
	data, err := json.Marshal(rec.Metadata)
	if err != nil {
		return result.MetadataJSON
	}
	return string(data)
}

// discover reads the raw payload and runs the Link Discoverer. Substituted
// in a seam so tests can override it without real HTML.
var discover = func(result fetcher.FetchResult, base *url.URL, task model.Task, filter *urlfilter.Filter) ([]linkdiscoverer.Candidate, []linkdiscoverer.Candidate, error) {
	if result.RawPayloadPath == "" {
		return nil, nil, nil
	}
	f, err := os.Open(result.RawPayloadPath)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return linkdiscoverer.Discover(f, base, task.URL, task.Depth, filter)
}

func (w *Worker) enqueue(candidates []linkdiscoverer.Candidate, taskType model.TaskType) {
	if len(candidates) == 0 {
		return
	}
	seeds := make([]store.SeedURL, 0, len(candidates))
	for _, c := range candidates {
		seeds = append(seeds, store.SeedURL{URL: c.URL, Depth: c.Depth})
	}
	w.Store.EnqueueSeedTasks(w.RunID, seeds, taskType)
}
