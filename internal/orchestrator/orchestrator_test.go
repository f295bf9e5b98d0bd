package orchestrator

import (
	"testing"

	"sitesync/internal/config"
	"sitesync/internal/model"
	"sitesync/internal/store"
)

type fakeStore struct {
	runs        map[int64]model.Run
	nextID      int64
	resumable   map[string]int64
	enqueued    []store.SeedURL
	markedRunning []int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{runs: map[int64]model.Run{}, resumable: map[string]int64{}}
}

func (f *fakeStore) StartRun(source, label string) (model.Run, error) {
	f.nextID++
	run := model.Run{ID: f.nextID, Source: source, Status: model.RunInitialized}
	f.runs[run.ID] = run
	return run, nil
}

func (f *fakeStore) ResumeRun(source string) (model.Run, error) {
	if id, ok := f.resumable[source]; ok {
		return f.runs[id], nil
	}
	return model.Run{}, store.ErrNotFound
}

func (f *fakeStore) MarkRunStatus(runID int64, status model.RunStatus) error {
	run := f.runs[runID]
	run.Status = status
	f.runs[runID] = run
	f.markedRunning = append(f.markedRunning, runID)
	return nil
}

func (f *fakeStore) EnqueueSeedTasks(runID int64, seeds []store.SeedURL, taskType model.TaskType) (int, error) {
	f.enqueued = append(f.enqueued, seeds...)
	return len(seeds), nil
}

func TestOrchestrator_StartsFreshRunAndEnqueuesSeeds(t *testing.T) {
	fs := newFakeStore()
	o := &Orchestrator{Store: fs, Crawler: config.CrawlerConfig{ParallelAgents: 2, PagesPerAgent: 5}}

	source := config.SourceConfig{
		Name:      "docs",
		StartURLs: []string{"https://example.com/a", "https://example.com/b"},
		Depth:     3,
	}

	summary, err := o.Run(source, false, Overrides{})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if summary.Resumed {
		t.Fatal("expected a fresh run, not resumed")
	}
	if summary.SeedCount != 2 || summary.QueuedCount != 2 {
		t.Fatalf("SeedCount/QueuedCount = %d/%d, want 2/2", summary.SeedCount, summary.QueuedCount)
	}
	if summary.Depth != 3 {
		t.Fatalf("Depth = %d, want 3 (source depth, no override)", summary.Depth)
	}
	if summary.ParallelAgents != 2 {
		t.Fatalf("ParallelAgents = %d, want 2 (crawler default)", summary.ParallelAgents)
	}
	if summary.Run.Status != model.RunRunning {
		t.Fatalf("Run.Status = %q, want running", summary.Run.Status)
	}
	for _, s := range fs.enqueued {
		if s.Depth != 3 {
			t.Fatalf("seed %v has depth %d, want 3", s, s.Depth)
		}
	}
}

func TestOrchestrator_ResumesExistingRun(t *testing.T) {
	fs := newFakeStore()
	fs.nextID = 1
	fs.runs[1] = model.Run{ID: 1, Source: "docs", Status: model.RunRunning}
	fs.resumable["docs"] = 1

	o := &Orchestrator{Store: fs, Crawler: config.CrawlerConfig{ParallelAgents: 1, PagesPerAgent: 1}}
	source := config.SourceConfig{Name: "docs", StartURLs: []string{"https://example.com/a"}, Depth: 1}

	summary, err := o.Run(source, true, Overrides{})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !summary.Resumed {
		t.Fatal("expected the run to be resumed")
	}
	if summary.Run.ID != 1 {
		t.Fatalf("Run.ID = %d, want 1", summary.Run.ID)
	}
}

func TestOrchestrator_OverridePrecedence(t *testing.T) {
	fs := newFakeStore()
	o := &Orchestrator{Store: fs, Crawler: config.CrawlerConfig{ParallelAgents: 2, PagesPerAgent: 5}}
	source := config.SourceConfig{Name: "docs", StartURLs: []string{"https://example.com/a"}, Depth: 3}

	depthOverride := 7
	summary, err := o.Run(source, false, Overrides{Depth: &depthOverride})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if summary.Depth != 7 {
		t.Fatalf("Depth = %d, want 7 (override wins)", summary.Depth)
	}
}
