// Package orchestrator implements the Orchestrator (§4.7): starts or
// resumes a run, resolves effective depth and parallelism, enqueues seed
// URLs, and marks the run running. It does not drive the worker pool
// itself — wiring the Dispatcher and Workers together is the caller's
// responsibility (cmd/sitesyncd).
package orchestrator

import (
	"fmt"

	"sitesync/internal/config"
	"sitesync/internal/model"
	"sitesync/internal/store"
)

// runStore is the subset of *store.Store the Orchestrator depends on.
type runStore interface {
	StartRun(source, label string) (model.Run, error)
	ResumeRun(source string) (model.Run, error)
	MarkRunStatus(runID int64, status model.RunStatus) error
	EnqueueSeedTasks(runID int64, seeds []store.SeedURL, taskType model.TaskType) (int, error)
}

// Overrides carries CLI-supplied values that take precedence over source
// and crawler-default settings (§4.7's override > source > default chain).
type Overrides struct {
	Depth          *int
	ParallelAgents *int
	PagesPerAgent  *int
}

// Summary is returned to the caller once a run is ready to drive.
type Summary struct {
	Run            model.Run
	QueuedCount    int
	SeedCount      int
	Depth          int
	ParallelAgents int
	PagesPerAgent  int
	Resumed        bool
}

// Orchestrator starts or resumes runs for a loaded configuration.
type Orchestrator struct {
	Store   runStore
	Crawler config.CrawlerConfig
}

// Run starts a fresh run for source, or resumes the most recent non-terminal
// one, enqueues the source's seed URLs (a no-op on resume if they are
// already present), marks the run running, and returns a summary.
func (o *Orchestrator) Run(source config.SourceConfig, resume bool, overrides Overrides) (Summary, error) {
	run, resumed, err := o.startOrResume(source.Name, resume)
	if err != nil {
		return Summary{}, err
	}

	depth := config.EffectiveDepth(source, overrides.Depth)
	parallel := config.EffectiveParallelAgents(o.Crawler, source, overrides.ParallelAgents)
	pagesPerAgent := config.EffectivePagesPerAgent(o.Crawler, source, overrides.PagesPerAgent)

	seeds := make([]store.SeedURL, 0, len(source.StartURLs))
	for _, u := range source.StartURLs {
		seeds = append(seeds, store.SeedURL{URL: u, Depth: depth})
	}

	queued, err := o.Store.EnqueueSeedTasks(run.ID, seeds, model.TaskTypePage)
	if err != nil {
		return Summary{}, fmt.Errorf("orchestrator: enqueue seed tasks: %w", err)
	}

	if err := o.Store.MarkRunStatus(run.ID, model.RunRunning); err != nil {
		return Summary{}, fmt.Errorf("orchestrator: mark run running: %w", err)
	}
	run.Status = model.RunRunning

	return Summary{
		Run:            run,
		QueuedCount:    queued,
		SeedCount:      len(seeds),
		Depth:          depth,
		ParallelAgents: parallel,
		PagesPerAgent:  pagesPerAgent,
		Resumed:        resumed,
	}, nil
}

func (o *Orchestrator) startOrResume(source string, resume bool) (model.Run, bool, error) {
	if resume {
		run, err := o.Store.ResumeRun(source)
		if err == nil {
			return run, true, nil
		}
		if err != store.ErrNotFound {
			return model.Run{}, false, fmt.Errorf("orchestrator: resume run: %w", err)
		}
	}

	run, err := o.Store.StartRun(source, "")
	if err != nil {
		return model.Run{}, false, fmt.Errorf("orchestrator: start run: %w", err)
	}
	return run, false, nil
}
