package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bundleforge/bundleforge/pkg/deploy"
	"github.com/bundleforge/bundleforge/pkg/errdefs"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleReport(runID, bundle string, success bool) *deploy.Report {
	r := &deploy.Report{
		RunID:      runID,
		Bundle:     bundle,
		Version:    "250131-01",
		Mode:       "full",
		StartedAt:  time.Now().UTC().Add(-time.Minute),
		FinishedAt: time.Now().UTC(),
	}
	r.AddStep(deploy.StepUpdateEngine, true, "checked out abc123")
	r.AddStep(deploy.StepDownloadModels, success, "3/3 model files ready")
	if !success {
		r.AddError("download failed")
	}
	return r
}

func TestRecordAndGetDeployment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.RecordDeployment(ctx, sampleReport("run-1", "flux-dev", true)); err != nil {
		t.Fatalf("RecordDeployment: %v", err)
	}

	d, err := s.GetDeployment(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetDeployment: %v", err)
	}
	if d.Bundle != "flux-dev" || d.Version != "250131-01" || !d.Success {
		t.Errorf("deployment = %+v", d)
	}
	if len(d.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(d.Steps))
	}
	if d.Steps[0].Name != deploy.StepUpdateEngine || d.Steps[1].Name != deploy.StepDownloadModels {
		t.Errorf("step order = %+v", d.Steps)
	}
}

func TestRecordFailedDeployment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.RecordDeployment(ctx, sampleReport("run-2", "flux-dev", false)); err != nil {
		t.Fatalf("RecordDeployment: %v", err)
	}

	d, err := s.GetDeployment(ctx, "run-2")
	if err != nil {
		t.Fatalf("GetDeployment: %v", err)
	}
	if d.Success {
		t.Error("failed deployment recorded as success")
	}
	if d.Error == "" {
		t.Error("hard error not persisted")
	}
}

func TestGetDeploymentNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetDeployment(context.Background(), "missing")
	if !errdefs.IsNotFound(err) {
		t.Fatalf("error = %v, want not-found", err)
	}
}

func TestListDeploymentsNewestFirstAndFiltered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := sampleReport("run-old", "flux-dev", true)
	older.StartedAt = time.Now().UTC().Add(-2 * time.Hour)
	older.FinishedAt = older.StartedAt.Add(time.Minute)
	newer := sampleReport("run-new", "flux-dev", true)
	other := sampleReport("run-other", "sdxl", true)

	for _, r := range []*deploy.Report{older, newer, other} {
		if err := s.RecordDeployment(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListDeployments(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListDeployments: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("deployments = %d, want 3", len(all))
	}
	if all[len(all)-1].ID != "run-old" {
		t.Errorf("oldest run not last: %v", all[len(all)-1].ID)
	}

	filtered, err := s.ListDeployments(ctx, "sdxl", 10)
	if err != nil {
		t.Fatalf("ListDeployments filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != "run-other" {
		t.Errorf("filtered = %+v", filtered)
	}
}

func TestListDeploymentsLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		r := sampleReport("run-"+string(rune('a'+i)), "b", true)
		r.StartedAt = time.Now().UTC().Add(time.Duration(i) * time.Minute)
		if err := s.RecordDeployment(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	out, err := s.ListDeployments(ctx, "", 2)
	if err != nil {
		t.Fatalf("ListDeployments: %v", err)
	}
	if len(out) != 2 {
		t.Errorf("deployments = %d, want limit 2", len(out))
	}
}

func TestHealthCheck(t *testing.T) {
	s := newTestStore(t)
	if err := s.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}
