// Package dispatcher implements the Task Dispatcher (§4.4): the producer
// that bridges the Store's queue to the in-memory worker channel, applying
// the URL Filter and scheme validity to every acquired task before handing
// it to a worker.
package dispatcher

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"sitesync/internal/metrics"
	"sitesync/internal/model"
	"sitesync/internal/urlfilter"
)

// WorkItem is what the Dispatcher sends workers: either a task to run, or a
// sentinel signaling queue drain (exactly one sentinel per worker, once).
type WorkItem struct {
	Task     model.Task
	Sentinel bool
}

// Dispatcher pulls leased tasks from the store and forwards admissible ones
// to the worker channel.
type Dispatcher struct {
	Store   taskStore
	Filter  *urlfilter.Filter
	Metrics *metrics.Metrics

	RunID          int64
	WorkerCount    int
	PagesPerAgent  int
	LeaseSeconds   int
	MaxRetries     int
	BackoffSeconds int
	PollInterval   time.Duration
}

// taskStore is the subset of *store.Store the Dispatcher depends on, kept
// as an interface so tests can fake it without a real bbolt file.
type taskStore interface {
	AcquireTasks(runID int64, limit int, leaseOwner string, leaseSeconds, maxRetries, backoffSeconds int) ([]model.Task, error)
	ActiveTaskCount(runID int64) (int, error)
	MarkTaskError(taskID int64, errMsg string) error
}

// Channel builds the bounded channel the Dispatcher and Worker Pool share,
// sized max(1, pages_per_agent * worker_count * 2) (§4.4).
func Channel(pagesPerAgent, workerCount int) chan WorkItem {
	capacity := pagesPerAgent * workerCount * 2
	if capacity < 1 {
		capacity = 1
	}
	return make(chan WorkItem, capacity)
}

// Run drives the producer loop until the queue drains or ctx is cancelled,
// emitting exactly one sentinel per worker before returning.
func (d *Dispatcher) Run(ctx context.Context, out chan<- WorkItem) error {
	leaseOwner := "dispatcher-" + uuid.NewString()
	pollInterval := d.PollInterval
	if pollInterval <= 0 {
		pollInterval = 200 * time.Millisecond
	}

	defer func() {
		for i := 0; i < d.WorkerCount; i++ {
			out <- WorkItem{Sentinel: true}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		d.reportQueueDepth(out)

		if d.nearFull(out) {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pollInterval):
			}
			continue
		}

		batch, err := d.Store.AcquireTasks(d.RunID, d.PagesPerAgent, leaseOwner, d.LeaseSeconds, d.MaxRetries, d.BackoffSeconds)
		if err != nil {
			return fmt.Errorf("dispatcher: acquire tasks: %w", err)
		}

		if len(batch) == 0 {
			active, err := d.Store.ActiveTaskCount(d.RunID)
			if err != nil {
				return fmt.Errorf("dispatcher: active task count: %w", err)
			}
			if active == 0 {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pollInterval):
			}
			continue
		}

		for _, task := range batch {
			if d.admit(task) {
				select {
				case out <- WorkItem{Task: task}:
					d.reportQueueDepth(out)
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

func (d *Dispatcher) nearFull(out chan<- WorkItem) bool {
	return len(out) >= cap(out)-d.PagesPerAgent
}

// reportQueueDepth publishes the channel's current buffered length to the
// queue_depth gauge (§4.4). Metrics is optional; callers that don't wire one
// (tests, dry runs) skip instrumentation entirely.
func (d *Dispatcher) reportQueueDepth(out chan<- WorkItem) {
	if d.Metrics == nil {
		return
	}
	d.Metrics.QueueDepth.Set(float64(len(out)))
}

// admit applies scheme validity to every task and the URL Filter to page
// tasks only — media tasks bypass the filter since CDNs are commonly on
// other hosts (§4.4 point 5). Rejected tasks are marked error immediately.
func (d *Dispatcher) admit(task model.Task) bool {
	u, err := url.Parse(task.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		d.Store.MarkTaskError(task.ID, "invalid url scheme or host")
		return false
	}

	if task.TaskType == model.TaskTypeMedia {
		return true
	}

	if !d.Filter.PathAllowed(u.Hostname(), pathOrRoot(u.Path)) {
		d.Store.MarkTaskError(task.ID, "denied by url filter")
		return false
	}
	return true
}

func pathOrRoot(p string) string {
	if p == "" {
		return "/"
	}
	return p
}
