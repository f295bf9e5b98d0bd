// Package store implements the Durable Store (§4.1): atomic persistence and
// the sole arbiter of task state transitions, backed by a single bbolt
// database file. Every operation below runs inside one bbolt transaction, so
// it is serialized with respect to every other operation by construction —
// bbolt allows exactly one writer at a time.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"sitesync/internal/model"
)

var (
	bucketRuns          = []byte("runs")
	bucketTasks         = []byte("tasks")
	bucketTasksUniq     = []byte("tasks_uniq")     // "runID:url" -> taskID
	bucketTasksByRun    = []byte("tasks_by_run")   // nested: per-run bucket of taskID -> nil
	bucketAssets        = []byte("assets")
	bucketAssetsUniq    = []byte("assets_uniq")    // "runID:assetKey" -> assetID
	bucketAssetVersions = []byte("asset_versions") // nested: per-asset bucket of BE(version) -> AssetVersion
	bucketExceptions    = []byte("exceptions")
)

var topLevelBuckets = [][]byte{
	bucketRuns, bucketTasks, bucketTasksUniq, bucketTasksByRun,
	bucketAssets, bucketAssetsUniq, bucketAssetVersions, bucketExceptions,
}

// Store is the Durable Store. A process opens exactly one Store per database
// file; bbolt serializes writers internally, matching the single-connection
// transaction model the spec requires.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the bbolt file at path and ensures the
// bucket schema exists. Migration is idempotent: buckets that already exist
// are left untouched.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o644, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range topLevelBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

func beKey(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func decodeKey(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

func uniqKey(runID int64, s string) []byte {
	return []byte(fmt.Sprintf("%d:%s", runID, s))
}

// ErrNotFound is returned by lookups that find nothing.
var ErrNotFound = errors.New("store: not found")

// StartRun inserts a new run with status initialized and returns it.
func (s *Store) StartRun(source, label string) (model.Run, error) {
	var run model.Run
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		run = model.Run{
			ID:        int64(id),
			Source:    source,
			Status:    model.RunInitialized,
			StartedAt: time.Now().UTC(),
			Label:     label,
		}
		return putJSON(b, beKey(run.ID), run)
	})
	return run, err
}

// ResumeRun returns the most recent non-terminal run for source, or
// ErrNotFound if none exists.
func (s *Store) ResumeRun(source string) (model.Run, error) {
	var best model.Run
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		return b.ForEach(func(k, v []byte) error {
			var r model.Run
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.Source != source || r.Status.IsTerminal() {
				return nil
			}
			if !found || r.StartedAt.After(best.StartedAt) || (r.StartedAt.Equal(best.StartedAt) && r.ID > best.ID) {
				best = r
				found = true
			}
			return nil
		})
	})
	if err != nil {
		return model.Run{}, err
	}
	if !found {
		return model.Run{}, ErrNotFound
	}
	return best, nil
}

// MarkRunStatus updates a run's status, stamping completed_at when the
// status is terminal.
func (s *Store) MarkRunStatus(runID int64, status model.RunStatus) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		var run model.Run
		if err := getJSON(b, beKey(runID), &run); err != nil {
			return err
		}
		run.Status = status
		if status.IsTerminal() {
			now := time.Now().UTC()
			run.CompletedAt = &now
		}
		return putJSON(b, beKey(runID), run)
	})
}

// GetRun fetches a run by id.
func (s *Store) GetRun(runID int64) (model.Run, error) {
	var run model.Run
	err := s.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket(bucketRuns), beKey(runID), &run)
	})
	return run, err
}

// SeedURL is one (url, depth) pair to enqueue.
type SeedURL struct {
	URL   string
	Depth int
}

// EnqueueSeedTasks inserts-or-ignores by (run_id, url) and returns the count
// of newly inserted rows.
func (s *Store) EnqueueSeedTasks(runID int64, seeds []SeedURL, taskType model.TaskType) (int, error) {
	if taskType == "" {
		taskType = model.TaskTypePage
	}
	inserted := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		tasks := tx.Bucket(bucketTasks)
		uniq := tx.Bucket(bucketTasksUniq)
		byRun, err := tx.Bucket(bucketTasksByRun).CreateBucketIfNotExists(beKey(runID))
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, seed := range seeds {
			key := uniqKey(runID, seed.URL)
			if uniq.Get(key) != nil {
				continue
			}

			id, err := tasks.NextSequence()
			if err != nil {
				return err
			}
			task := model.Task{
				ID:        int64(id),
				RunID:     runID,
				URL:       seed.URL,
				Depth:     seed.Depth,
				Status:    model.TaskPending,
				NextRunAt: now,
				TaskType:  taskType,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := putJSON(tasks, beKey(task.ID), task); err != nil {
				return err
			}
			if err := uniq.Put(key, beKey(task.ID)); err != nil {
				return err
			}
			if err := byRun.Put(beKey(task.ID), nil); err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	return inserted, err
}

// AcquireTasks is the queue's heart (§4.1): reclaims expired leases, then
// selects and leases up to limit pending tasks, all in one transaction.
func (s *Store) AcquireTasks(runID int64, limit int, leaseOwner string, leaseSeconds int, maxRetries int, backoffSeconds int) ([]model.Task, error) {
	var acquired []model.Task
	err := s.db.Update(func(tx *bbolt.Tx) error {
		tasks := tx.Bucket(bucketTasks)
		byRun := tx.Bucket(bucketTasksByRun).Bucket(beKey(runID))
		if byRun == nil {
			return nil
		}

		now := time.Now().UTC()

		var ids []int64
		c := byRun.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			ids = append(ids, decodeKey(k))
		}

		all := make([]model.Task, 0, len(ids))
		for _, id := range ids {
			var t model.Task
			if err := getJSON(tasks, beKey(id), &t); err != nil {
				return err
			}
			all = append(all, t)
		}

		// Phase 1: reclaim expired leases.
		for i := range all {
			t := &all[i]
			if t.Status != model.TaskInProgress || t.LeaseExpiresAt == nil || t.LeaseExpiresAt.After(now) {
				continue
			}
			priorAttempts := t.AttemptCount
			t.AttemptCount = priorAttempts + 1
			if priorAttempts+1 > maxRetries {
				t.Status = model.TaskError
				t.LastError = "lease expired"
			} else {
				t.Status = model.TaskPending
				t.NextRunAt = now.Add(time.Duration(backoffSeconds) * time.Second)
			}
			t.LeaseOwner = ""
			t.LeaseExpiresAt = nil
			t.UpdatedAt = now
			if err := putJSON(tasks, beKey(t.ID), *t); err != nil {
				return err
			}
		}

		// Phase 2: select eligible pending tasks, priority DESC, id ASC.
		var candidates []model.Task
		for _, t := range all {
			if t.Status == model.TaskPending && !t.NextRunAt.After(now) {
				candidates = append(candidates, t)
			}
		}
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].Priority != candidates[j].Priority {
				return candidates[i].Priority > candidates[j].Priority
			}
			return candidates[i].ID < candidates[j].ID
		})
		if limit > 0 && len(candidates) > limit {
			candidates = candidates[:limit]
		}

		leaseExpiry := now.Add(time.Duration(leaseSeconds) * time.Second)
		for _, t := range candidates {
			t.Status = model.TaskInProgress
			t.LeaseOwner = leaseOwner
			t.LeaseExpiresAt = &leaseExpiry
			t.UpdatedAt = now
			if err := putJSON(tasks, beKey(t.ID), t); err != nil {
				return err
			}
			acquired = append(acquired, t)
		}
		return nil
	})
	return acquired, err
}

// CompleteTask transitions in_progress -> finished and clears the lease.
// leaseOwner must match the task's current lease owner — a completion
// callback from a reclaimed lease is discarded rather than applied, since
// the task may already be owned by a different worker (resolves the lease
// expiry/late completion open question toward the stricter behavior).
// CompleteTask returns applied=false without error when the completion is
// discarded (the caller no longer holds the lease, or the task was already
// finished) — the worker uses this to skip the success-side-effect chain
// for a stale completion.
func (s *Store) CompleteTask(taskID int64, leaseOwner string) (applied bool, err error) {
	err = s.db.Update(func(tx *bbolt.Tx) error {
		tasks := tx.Bucket(bucketTasks)
		var t model.Task
		if err := getJSON(tasks, beKey(taskID), &t); err != nil {
			return err
		}
		if t.Status == model.TaskFinished {
			return nil
		}
		if t.Status != model.TaskInProgress || t.LeaseOwner != leaseOwner {
			return nil
		}
		t.Status = model.TaskFinished
		t.LeaseOwner = ""
		t.LeaseExpiresAt = nil
		t.UpdatedAt = time.Now().UTC()
		applied = true
		return putJSON(tasks, beKey(taskID), t)
	})
	return applied, err
}

// FailTask returns the task to pending with a backoff quantum unless
// retries are exhausted, in which case it moves to error. A task already
// finished or in error is left unchanged.
func (s *Store) FailTask(taskID int64, errMsg string, backoffSeconds int, maxRetries int) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		tasks := tx.Bucket(bucketTasks)
		var t model.Task
		if err := getJSON(tasks, beKey(taskID), &t); err != nil {
			return err
		}
		if t.Status == model.TaskFinished || t.Status == model.TaskError {
			return nil
		}
		now := time.Now().UTC()
		t.AttemptCount++
		t.LastError = errMsg
		t.LeaseOwner = ""
		t.LeaseExpiresAt = nil
		t.UpdatedAt = now
		if t.AttemptCount >= maxRetries {
			t.Status = model.TaskError
		} else {
			t.Status = model.TaskPending
			t.NextRunAt = now.Add(time.Duration(backoffSeconds) * time.Second)
		}
		return putJSON(tasks, beKey(taskID), t)
	})
}

// MarkTaskError forces a task to error, incrementing attempt_count and
// clearing any lease. A finished task is left unchanged.
func (s *Store) MarkTaskError(taskID int64, errMsg string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		tasks := tx.Bucket(bucketTasks)
		var t model.Task
		if err := getJSON(tasks, beKey(taskID), &t); err != nil {
			return err
		}
		if t.Status == model.TaskFinished {
			return nil
		}
		t.Status = model.TaskError
		t.AttemptCount++
		t.LastError = errMsg
		t.LeaseOwner = ""
		t.LeaseExpiresAt = nil
		t.UpdatedAt = time.Now().UTC()
		return putJSON(tasks, beKey(taskID), t)
	})
}

// ReleaseTask returns an in_progress task to pending without incrementing
// attempt_count, used by graceful shutdown.
func (s *Store) ReleaseTask(taskID int64, reason string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		tasks := tx.Bucket(bucketTasks)
		var t model.Task
		if err := getJSON(tasks, beKey(taskID), &t); err != nil {
			return err
		}
		if t.Status != model.TaskInProgress {
			return nil
		}
		t.Status = model.TaskPending
		t.LastError = reason
		t.LeaseOwner = ""
		t.LeaseExpiresAt = nil
		t.NextRunAt = time.Now().UTC()
		t.UpdatedAt = time.Now().UTC()
		return putJSON(tasks, beKey(taskID), t)
	})
}

// ReleaseInProgressTasks releases all in-flight tasks of a run in bulk,
// returning the count released. Used as the final-sweep defense in depth on
// shutdown.
func (s *Store) ReleaseInProgressTasks(runID int64, reason string) (int, error) {
	released := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		tasks := tx.Bucket(bucketTasks)
		byRun := tx.Bucket(bucketTasksByRun).Bucket(beKey(runID))
		if byRun == nil {
			return nil
		}
		now := time.Now().UTC()
		c := byRun.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			var t model.Task
			if err := getJSON(tasks, k, &t); err != nil {
				return err
			}
			if t.Status != model.TaskInProgress {
				continue
			}
			t.Status = model.TaskPending
			t.LastError = reason
			t.LeaseOwner = ""
			t.LeaseExpiresAt = nil
			t.NextRunAt = now
			t.UpdatedAt = now
			if err := putJSON(tasks, k, t); err != nil {
				return err
			}
			released++
		}
		return nil
	})
	return released, err
}

// TaskStatusCounts returns the count of tasks by status for a run.
func (s *Store) TaskStatusCounts(runID int64) (model.TaskStatusCounts, error) {
	var counts model.TaskStatusCounts
	err := s.db.View(func(tx *bbolt.Tx) error {
		tasks := tx.Bucket(bucketTasks)
		byRun := tx.Bucket(bucketTasksByRun).Bucket(beKey(runID))
		if byRun == nil {
			return nil
		}
		c := byRun.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			var t model.Task
			if err := getJSON(tasks, k, &t); err != nil {
				return err
			}
			switch t.Status {
			case model.TaskPending:
				counts.Pending++
			case model.TaskInProgress:
				counts.InProgress++
			case model.TaskFinished:
				counts.Finished++
			case model.TaskError:
				counts.Error++
			}
		}
		return nil
	})
	return counts, err
}

// ActiveTaskCount returns pending+in_progress for a run, used by the
// Dispatcher to decide whether the queue is drained.
func (s *Store) ActiveTaskCount(runID int64) (int, error) {
	counts, err := s.TaskStatusCounts(runID)
	if err != nil {
		return 0, err
	}
	return counts.Pending + counts.InProgress, nil
}

// GetTask fetches a single task by id.
func (s *Store) GetTask(taskID int64) (model.Task, error) {
	var t model.Task
	err := s.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket(bucketTasks), beKey(taskID), &t)
	})
	return t, err
}

// RecordAsset upserts the asset row on (run_id, asset_key) and appends an
// AssetVersion whose version is the previous max plus one, returning that
// version number. The upsert and version append happen in one transaction.
func (s *Store) RecordAsset(runID int64, sourceURL, assetKey, assetType, checksum, rawPath, normalizedPath, metadataJSON string) (int, error) {
	version := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		assets := tx.Bucket(bucketAssets)
		uniq := tx.Bucket(bucketAssetsUniq)
		versions := tx.Bucket(bucketAssetVersions)

		now := time.Now().UTC()
		key := uniqKey(runID, assetKey)

		var asset model.Asset
		var assetID int64
		if existing := uniq.Get(key); existing != nil {
			assetID = decodeKey(existing)
			if err := getJSON(assets, beKey(assetID), &asset); err != nil {
				return err
			}
			asset.Checksum = checksum
			asset.Status = "fetched"
			asset.UpdatedAt = now
		} else {
			id, err := assets.NextSequence()
			if err != nil {
				return err
			}
			assetID = int64(id)
			asset = model.Asset{
				ID:        assetID,
				RunID:     runID,
				SourceURL: sourceURL,
				AssetKey:  assetKey,
				AssetType: assetType,
				Status:    "fetched",
				Checksum:  checksum,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := uniq.Put(key, beKey(assetID)); err != nil {
				return err
			}
		}
		if err := putJSON(assets, beKey(assetID), asset); err != nil {
			return err
		}

		versionBucket, err := versions.CreateBucketIfNotExists(beKey(assetID))
		if err != nil {
			return err
		}
		maxVersion := 0
		c := versionBucket.Cursor()
		if k, _ := c.Last(); k != nil {
			maxVersion = int(decodeKey(k))
		}
		version = maxVersion + 1
		av := model.AssetVersion{
			AssetID:        assetID,
			Version:        version,
			Checksum:       checksum,
			RawPath:        rawPath,
			NormalizedPath: normalizedPath,
			MetadataJSON:   metadataJSON,
			CreatedAt:      now,
		}
		return putJSON(versionBucket, beKey(int64(version)), av)
	})
	return version, err
}

// ListAssetVersions returns an asset's versions in ascending version order,
// used by tests asserting version monotonicity.
func (s *Store) ListAssetVersions(assetID int64) ([]model.AssetVersion, error) {
	var out []model.AssetVersion
	err := s.db.View(func(tx *bbolt.Tx) error {
		versions := tx.Bucket(bucketAssetVersions).Bucket(beKey(assetID))
		if versions == nil {
			return nil
		}
		c := versions.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var av model.AssetVersion
			if err := json.Unmarshal(v, &av); err != nil {
				return err
			}
			out = append(out, av)
		}
		return nil
	})
	return out, err
}

func putJSON(b *bbolt.Bucket, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func getJSON(b *bbolt.Bucket, key []byte, v interface{}) error {
	data := b.Get(key)
	if data == nil {
		return ErrNotFound
	}
	return json.Unmarshal(data, v)
}
