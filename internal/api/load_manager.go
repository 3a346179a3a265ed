package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spikeraster/server/internal/data/loader"
	"github.com/spikeraster/server/internal/loadstore"
	"github.com/spikeraster/server/internal/service"
)

// ErrSuperseded is reported by a load whose dataset received a newer load
// before it could install its table.
var ErrSuperseded = errors.New("superseded by a newer load")

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("load manager stopped")

// LoadManagerConfig contains configuration for the load manager.
type LoadManagerConfig struct {
	Registry      *DatasetRegistry
	MaxConcurrent int    // Max concurrent loads (default 1)
	SQLitePath    string // Path to SQLite database
	RetentionDays int    // Days to keep finished jobs (default 7)
	CleanupPeriod time.Duration
	MaxBytes      int64 // Decompressed payload cap, 0 for none
	QueueSize     int   // Pending load capacity (default 100)
}

// LoadManager reads payloads and installs dataset snapshots off the request
// path. Only the newest load of a dataset may install its table; older
// in-flight loads are cancelled and their output discarded.
type LoadManager struct {
	cfg      LoadManagerConfig
	store    *loadstore.Store
	queue    chan string // job IDs
	running  map[string]context.CancelFunc
	latest   map[string]string // dataset ID -> newest job ID
	mu       sync.Mutex
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}

	// Executor runs one load. It defaults to reading the payload, building
	// the dataset and installing it.
	Executor func(ctx context.Context, job *loadstore.LoadJob) error
}

// NewLoadManager creates a new load manager with SQLite persistence.
func NewLoadManager(cfg LoadManagerConfig) (*LoadManager, error) {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.CleanupPeriod <= 0 {
		cfg.CleanupPeriod = 1 * time.Hour
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}

	store, err := loadstore.NewStore(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}

	lm := &LoadManager{
		cfg:     cfg,
		store:   store,
		queue:   make(chan string, cfg.QueueSize),
		running: make(map[string]context.CancelFunc),
		latest:  make(map[string]string),
		stopCh:  make(chan struct{}),
	}
	lm.Executor = lm.execute
	return lm, nil
}

// Start starts the worker goroutines and cleanup ticker.
// Jobs left running by a previous process are marked failed; queued ones
// are dropped as superseded by the loads issued at startup.
func (lm *LoadManager) Start() {
	if err := lm.store.MarkRunningAsFailed("server restarted"); err != nil {
		log.Printf("[LoadManager] failed to mark running jobs as failed: %v", err)
	}
	queued, err := lm.store.ListQueuedJobs()
	if err != nil {
		log.Printf("[LoadManager] failed to list queued jobs: %v", err)
	}
	for _, job := range queued {
		lm.store.UpdateJobStatus(job.ID, loadstore.JobStatusCancelled, "server restarted")
	}

	for i := 0; i < lm.cfg.MaxConcurrent; i++ {
		lm.wg.Add(1)
		go lm.worker()
	}

	go lm.cleaner()
}

// Stop cancels running loads and stops all workers.
func (lm *LoadManager) Stop() {
	lm.stopOnce.Do(func() {
		lm.mu.Lock()
		close(lm.stopCh)
		close(lm.queue)
		for _, cancel := range lm.running {
			cancel()
		}
		lm.mu.Unlock()
		lm.wg.Wait()
		lm.store.Close()
	})
}

func (lm *LoadManager) worker() {
	defer lm.wg.Done()
	for jobID := range lm.queue {
		lm.runJob(jobID)
	}
}

func (lm *LoadManager) runJob(jobID string) {
	job, err := lm.store.GetJob(jobID)
	if err != nil || job == nil {
		log.Printf("[LoadManager] failed to fetch job %s: %v", jobID, err)
		return
	}
	if job.Status != loadstore.JobStatusQueued {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lm.mu.Lock()
	if lm.latest[job.DatasetID] != jobID {
		lm.mu.Unlock()
		lm.store.UpdateJobStatus(jobID, loadstore.JobStatusCancelled, ErrSuperseded.Error())
		return
	}
	lm.running[jobID] = cancel
	lm.mu.Unlock()

	defer func() {
		lm.mu.Lock()
		delete(lm.running, jobID)
		lm.mu.Unlock()
	}()

	if err := lm.store.UpdateJobStarted(jobID); err != nil {
		log.Printf("[LoadManager] failed to update job %s as started: %v", jobID, err)
		return
	}

	start := time.Now()
	execErr := lm.execSafe(ctx, job)

	switch {
	case errors.Is(execErr, ErrSuperseded):
		lm.store.UpdateJobStatus(jobID, loadstore.JobStatusCancelled, ErrSuperseded.Error())
		log.Printf("[LoadManager] dataset=%s job %s superseded", job.DatasetID, jobID)
	case errors.Is(ctx.Err(), context.Canceled):
		lm.store.UpdateJobStatus(jobID, loadstore.JobStatusCancelled, "cancelled")
		log.Printf("[LoadManager] dataset=%s job %s cancelled", job.DatasetID, jobID)
	case execErr != nil:
		lm.store.UpdateJobStatus(jobID, loadstore.JobStatusFailed, execErr.Error())
		log.Printf("[LoadManager] dataset=%s job %s failed: %v", job.DatasetID, jobID, execErr)
	default:
		lm.store.UpdateJobStatus(jobID, loadstore.JobStatusCompleted, "")
		log.Printf("[LoadManager] dataset=%s job %s completed in %v", job.DatasetID, jobID, time.Since(start))
	}
}

// execSafe runs the executor, turning a panic into a failed load so the
// worker survives malformed payloads.
func (lm *LoadManager) execSafe(ctx context.Context, job *loadstore.LoadJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("load panicked: %v", r)
		}
	}()
	return lm.Executor(ctx, job)
}

func (lm *LoadManager) cleaner() {
	ticker := time.NewTicker(lm.cfg.CleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-lm.stopCh:
			return
		case <-ticker.C:
			lm.cleanup()
		}
	}
}

func (lm *LoadManager) cleanup() {
	deleted, err := lm.store.DeleteExpiredJobs(lm.cfg.RetentionDays)
	if err != nil {
		log.Printf("[LoadManager] cleanup error: %v", err)
	} else if deleted > 0 {
		log.Printf("[LoadManager] cleaned up %d expired jobs", deleted)
	}
}

// Submit creates a load job and enqueues it. Any earlier load of the same
// dataset still in flight is cancelled.
func (lm *LoadManager) Submit(params loadstore.LoadParams) (*loadstore.LoadJob, error) {
	job := &loadstore.LoadJob{
		ID:        uuid.New().String(),
		DatasetID: params.DatasetID,
		Status:    loadstore.JobStatusQueued,
		Params:    params,
		CreatedAt: time.Now(),
	}
	if err := lm.store.CreateJob(job); err != nil {
		return nil, err
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()
	select {
	case <-lm.stopCh:
		lm.store.UpdateJobStatus(job.ID, loadstore.JobStatusCancelled, ErrStopped.Error())
		return nil, ErrStopped
	default:
	}

	// A rejected job must not supersede the load already in flight.
	select {
	case lm.queue <- job.ID:
	default:
		lm.store.UpdateJobStatus(job.ID, loadstore.JobStatusFailed, "load queue is full; try again later")
		job.Status = loadstore.JobStatusFailed
		return job, nil
	}

	prev := lm.latest[params.DatasetID]
	lm.latest[params.DatasetID] = job.ID
	if cancel, ok := lm.running[prev]; ok {
		cancel()
	}
	return job, nil
}

// SubmitDataset enqueues a load of a registered dataset from its configured
// source.
func (lm *LoadManager) SubmitDataset(datasetID string) (*loadstore.LoadJob, error) {
	src, ok := lm.cfg.Registry.Source(datasetID)
	if !ok {
		return nil, fmt.Errorf("dataset not found: %s", datasetID)
	}
	return lm.Submit(loadstore.LoadParams{DatasetID: datasetID, Path: src.Path, Format: src.Format})
}

// Get returns a job by ID.
func (lm *LoadManager) Get(id string) *loadstore.LoadJob {
	job, err := lm.store.GetJob(id)
	if err != nil {
		log.Printf("[LoadManager] error getting job %s: %v", id, err)
		return nil
	}
	return job
}

// List returns the load history of a dataset, newest first.
func (lm *LoadManager) List(datasetID string) ([]*loadstore.LoadJob, error) {
	return lm.store.ListJobsByDataset(datasetID)
}

// Cancel attempts to cancel a queued or running job.
func (lm *LoadManager) Cancel(id string) bool {
	lm.mu.Lock()
	cancel, ok := lm.running[id]
	lm.mu.Unlock()

	if ok && cancel != nil {
		cancel()
		return true
	}

	job, err := lm.store.GetJob(id)
	if err != nil || job == nil {
		return false
	}
	if job.Status == loadstore.JobStatusQueued {
		lm.store.UpdateJobStatus(id, loadstore.JobStatusCancelled, "cancelled before start")
		return true
	}
	return false
}

func (lm *LoadManager) execute(ctx context.Context, job *loadstore.LoadJob) error {
	svc := lm.cfg.Registry.Get(job.DatasetID)
	if svc == nil {
		return fmt.Errorf("dataset not found: %s", job.DatasetID)
	}
	format, err := loader.ParseFormat(job.Params.Format)
	if err != nil {
		return err
	}

	lm.store.UpdateJobPhase(job.ID, "read")
	p, err := loader.Load(ctx, job.Params.Path, loader.Options{Format: format, MaxBytes: lm.cfg.MaxBytes})
	if err != nil {
		return err
	}

	lm.store.UpdateJobPhase(job.ID, "build")
	d, err := service.BuildDataset(ctx, job.DatasetID, job.Params.Path, p)
	if err != nil {
		return err
	}

	lm.store.UpdateJobPhase(job.ID, "install")
	if err := lm.Install(ctx, job, svc, d); err != nil {
		return err
	}
	return lm.store.UpdateJobResult(job.ID, loadstore.LoadResult{
		Version:    d.Version,
		NumEvents:  d.Table.Len(),
		NumNeurons: len(d.Axes.NeuronIDs),
		NumTrials:  len(d.Axes.TrialIDs),
		State:      string(d.State()),
	})
}

// Install swaps d into svc if job is still the newest load of its dataset.
func (lm *LoadManager) Install(ctx context.Context, job *loadstore.LoadJob, svc *service.RasterService, d *service.Dataset) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if lm.latest[job.DatasetID] != job.ID {
		return ErrSuperseded
	}
	return svc.Swap(d)
}
