package api

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spikeraster/server/internal/loadstore"
	"github.com/spikeraster/server/internal/render"
	"github.com/spikeraster/server/internal/service"
)

const testPayload = `{"spike_time":[0.5,1.0,1.5],"trial_idx":[0,0,1],"neuron_idx":[3,3,3]}`

// testEnv is a registry with one file-backed dataset and a running load
// manager.
type testEnv struct {
	registry *DatasetRegistry
	svc      *service.RasterService
	lm       *LoadManager
	path     string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithQueue(t, 0)
}

func newTestEnvWithQueue(t *testing.T, queueSize int) *testEnv {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.json")
	if err := os.WriteFile(path, []byte(testPayload), 0o644); err != nil {
		t.Fatalf("write payload: %v", err)
	}

	svc, err := service.NewRasterService(service.RasterServiceConfig{
		DatasetID: "default",
		Renderer:  render.NewFrameRenderer(render.Config{Width: 550, Height: 470}),
	})
	if err != nil {
		t.Fatalf("NewRasterService: %v", err)
	}
	registry := NewDatasetRegistry("default", []string{"default"}, "")
	registry.Register("default", svc, DatasetSource{Path: path})

	lm, err := NewLoadManager(LoadManagerConfig{
		Registry:   registry,
		SQLitePath: filepath.Join(dir, "loads.sqlite"),
		QueueSize:  queueSize,
	})
	if err != nil {
		t.Fatalf("NewLoadManager: %v", err)
	}
	lm.Start()
	t.Cleanup(lm.Stop)

	return &testEnv{registry: registry, svc: svc, lm: lm, path: path}
}

// waitForJob polls until the job reaches a terminal status.
func waitForJob(t *testing.T, lm *LoadManager, id string) *loadstore.LoadJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if job := lm.Get(id); job != nil && job.Status.Finished() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return nil
}

func TestLoadManager_LoadsDataset(t *testing.T) {
	env := newTestEnv(t)

	job, err := env.lm.SubmitDataset("default")
	if err != nil {
		t.Fatalf("SubmitDataset: %v", err)
	}
	done := waitForJob(t, env.lm, job.ID)
	if done.Status != loadstore.JobStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", done.Status, done.Error)
	}
	if done.Result.NumEvents != 3 || done.Result.NumTrials != 2 || done.Result.State != "ready" {
		t.Fatalf("unexpected result: %+v", done.Result)
	}
	if done.Phase != "install" {
		t.Fatalf("expected final phase install, got %q", done.Phase)
	}
	if env.svc.State() != service.StateReady {
		t.Fatalf("dataset should be ready, got %s", env.svc.State())
	}
	if env.svc.Dataset().Version != done.Result.Version {
		t.Fatalf("installed version mismatch")
	}
}

func TestLoadManager_FailedLoadKeepsPreviousDataset(t *testing.T) {
	env := newTestEnv(t)
	job, _ := env.lm.SubmitDataset("default")
	waitForJob(t, env.lm, job.ID)
	version := env.svc.Dataset().Version

	if err := os.WriteFile(env.path, []byte(`{"spike_time":[1]}`), 0o644); err != nil {
		t.Fatalf("rewrite payload: %v", err)
	}
	job, _ = env.lm.SubmitDataset("default")
	done := waitForJob(t, env.lm, job.ID)
	if done.Status != loadstore.JobStatusFailed || done.Error == "" {
		t.Fatalf("expected failed job with error, got %s", done.Status)
	}
	if env.svc.Dataset().Version != version {
		t.Fatalf("failed load should not replace the dataset")
	}
}

func TestLoadManager_NewerLoadSupersedes(t *testing.T) {
	env := newTestEnv(t)

	started := make(chan string, 2)
	release := make(chan struct{})
	env.lm.Executor = func(ctx context.Context, job *loadstore.LoadJob) error {
		started <- job.ID
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-release:
		}
		return nil
	}

	first, err := env.lm.SubmitDataset("default")
	if err != nil {
		t.Fatalf("SubmitDataset: %v", err)
	}
	if id := <-started; id != first.ID {
		t.Fatalf("expected first job to start, got %s", id)
	}

	second, err := env.lm.SubmitDataset("default")
	if err != nil {
		t.Fatalf("SubmitDataset: %v", err)
	}
	if got := waitForJob(t, env.lm, first.ID); got.Status != loadstore.JobStatusCancelled {
		t.Fatalf("first load should be cancelled, got %s", got.Status)
	}

	<-started
	close(release)
	if got := waitForJob(t, env.lm, second.ID); got.Status != loadstore.JobStatusCompleted {
		t.Fatalf("second load should complete, got %s (%s)", got.Status, got.Error)
	}
}

func TestLoadManager_InstallRejectsStaleJob(t *testing.T) {
	env := newTestEnv(t)
	stale := &loadstore.LoadJob{ID: "stale", DatasetID: "default"}
	if _, err := env.lm.Submit(loadstore.LoadParams{DatasetID: "default", Path: env.path}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := env.lm.Install(context.Background(), stale, env.svc, nil); err != ErrSuperseded {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}
}

func TestLoadManager_UnknownDataset(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.lm.SubmitDataset("missing"); err == nil {
		t.Fatalf("expected error for unknown dataset")
	}
}

func TestLoadManager_PanickingLoadFails(t *testing.T) {
	env := newTestEnv(t)
	calls := 0
	env.lm.Executor = func(ctx context.Context, job *loadstore.LoadJob) error {
		calls++
		if calls == 1 {
			panic("index out of range")
		}
		return env.lm.execute(ctx, job)
	}

	job, _ := env.lm.SubmitDataset("default")
	done := waitForJob(t, env.lm, job.ID)
	if done.Status != loadstore.JobStatusFailed || !strings.Contains(done.Error, "panicked") {
		t.Fatalf("expected failed job after panic, got %s (%s)", done.Status, done.Error)
	}

	// The worker must still be serving the queue.
	job, _ = env.lm.SubmitDataset("default")
	if got := waitForJob(t, env.lm, job.ID); got.Status != loadstore.JobStatusCompleted {
		t.Fatalf("expected next load to complete, got %s (%s)", got.Status, got.Error)
	}
}

func TestLoadManager_RejectedSubmitKeepsNewestLoad(t *testing.T) {
	env := newTestEnvWithQueue(t, 1)

	started := make(chan string, 3)
	release := make(chan struct{})
	releaseAll := sync.OnceFunc(func() { close(release) })
	defer releaseAll()
	env.lm.Executor = func(ctx context.Context, job *loadstore.LoadJob) error {
		started <- job.ID
		<-release
		return nil
	}

	first, _ := env.lm.SubmitDataset("default")
	if id := <-started; id != first.ID {
		t.Fatalf("expected first job to start, got %s", id)
	}
	second, _ := env.lm.SubmitDataset("default")
	third, err := env.lm.SubmitDataset("default")
	if err != nil {
		t.Fatalf("SubmitDataset: %v", err)
	}
	if third.Status != loadstore.JobStatusFailed {
		t.Fatalf("expected third load to be rejected, got %s", third.Status)
	}

	releaseAll()
	if got := waitForJob(t, env.lm, second.ID); got.Status != loadstore.JobStatusCompleted {
		t.Fatalf("queued load should still install, got %s (%s)", got.Status, got.Error)
	}
	if got := env.lm.Get(third.ID); got.Status != loadstore.JobStatusFailed {
		t.Fatalf("rejected load should stay failed, got %s", got.Status)
	}
}
