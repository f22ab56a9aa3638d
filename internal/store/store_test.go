package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/star/polargo/internal/polaralign"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 14, 21, 0, 0, 0, time.UTC)

	id, err := s.CreateRun(ctx, started, 49.25, -123.1)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	run, err := s.Run(ctx, id)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !run.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", run.StartedAt, started)
	}
	if run.FinishedAt != nil || run.Axis != nil || run.Error != nil {
		t.Error("unfinished run carries results")
	}
	if run.Latitude != 49.25 || run.Longitude != -123.1 {
		t.Errorf("location (%v, %v)", run.Latitude, run.Longitude)
	}

	finished := started.Add(12 * time.Minute)
	axis := polaralign.AxisEstimate{Az: 0.6, Alt: 49.45}
	perr := polaralign.PointingError{Az: 0.6, Alt: 0.2}
	if err := s.FinishRun(ctx, id, finished, axis, perr); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	run, err = s.Run(ctx, id)
	if err != nil {
		t.Fatalf("Run after finish: %v", err)
	}
	if run.FinishedAt == nil || !run.FinishedAt.Equal(finished) {
		t.Errorf("FinishedAt = %v, want %v", run.FinishedAt, finished)
	}
	if run.Axis == nil || *run.Axis != axis {
		t.Errorf("Axis = %v, want %v", run.Axis, axis)
	}
	if run.Error == nil || *run.Error != perr {
		t.Errorf("Error = %v, want %v", run.Error, perr)
	}
}

func TestRunNotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Run(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("Run(42): got %v, want ErrNotFound", err)
	}
	err := s.FinishRun(ctx, 42, time.Now(), polaralign.AxisEstimate{}, polaralign.PointingError{})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("FinishRun(42): got %v, want ErrNotFound", err)
	}
}

func TestRefreshHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 14, 21, 0, 0, 0, time.UTC)

	id, err := s.CreateRun(ctx, started, 49.25, -123.1)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	results := []polaralign.RefreshResult{
		{
			Axis:          polaralign.AxisEstimate{Az: 0.5, Alt: 49.4},
			Error:         polaralign.PointingError{Az: 0.5, Alt: 0.15},
			AzAdjustment:  -0.1,
			AltAdjustment: -0.05,
			Residual:      0.0004,
		},
		{
			Axis:          polaralign.AxisEstimate{Az: 0.1, Alt: 49.28},
			Error:         polaralign.PointingError{Az: 0.1, Alt: 0.03},
			AzAdjustment:  -0.4,
			AltAdjustment: -0.12,
			Residual:      0.0002,
		},
	}
	for i, r := range results {
		at := started.Add(time.Duration(i+1) * time.Minute)
		if err := s.AddRefresh(ctx, id, at, r); err != nil {
			t.Fatalf("AddRefresh %d: %v", i, err)
		}
	}

	got, err := s.Refreshes(ctx, id)
	if err != nil {
		t.Fatalf("Refreshes: %v", err)
	}
	if len(got) != len(results) {
		t.Fatalf("got %d refreshes, want %d", len(got), len(results))
	}
	for i, r := range got {
		want := results[i]
		if r.RunID != id {
			t.Errorf("refresh %d run id %d, want %d", i, r.RunID, id)
		}
		if r.Error != want.Error || r.AzAdjustment != want.AzAdjustment ||
			r.AltAdjustment != want.AltAdjustment || r.Residual != want.Residual {
			t.Errorf("refresh %d = %+v, want %+v", i, r, want)
		}
	}
}

func TestRecentRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 21, 0, 0, 0, time.UTC)

	var ids []int64
	for i := 0; i < 5; i++ {
		id, err := s.CreateRun(ctx, base.Add(time.Duration(i)*time.Hour), 49.25, -123.1)
		if err != nil {
			t.Fatalf("CreateRun %d: %v", i, err)
		}
		ids = append(ids, id)
	}

	runs, err := s.RecentRuns(ctx, 3)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("got %d runs, want 3", len(runs))
	}
	for i, run := range runs {
		want := ids[len(ids)-1-i]
		if run.ID != want {
			t.Errorf("run %d id %d, want %d", i, run.ID, want)
		}
	}
}
