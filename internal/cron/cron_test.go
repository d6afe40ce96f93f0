package cron

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/haasonsaas/pawnguard/pkg/pawn"
)

func TestAddRejectsInvalidSchedule(t *testing.T) {
	s := New("", func(ctx context.Context, job pawn.CronJob) (string, error) { return "ok", nil })
	err := s.Add(pawn.CronJob{ID: "1", Name: "bad", Schedule: "not a schedule"})
	if err == nil {
		t.Fatalf("expected error for invalid schedule")
	}
}

func TestAddPersistsToStore(t *testing.T) {
	store := filepath.Join(t.TempDir(), "jobs.json")
	s := New(store, func(ctx context.Context, job pawn.CronJob) (string, error) { return "ok", nil })

	if err := s.Add(pawn.CronJob{ID: "1", Name: "daily", Schedule: "@daily", Enabled: true}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	data, err := os.ReadFile(store)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var jobs []pawn.CronJob
	if err := json.Unmarshal(data, &jobs); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "1" {
		t.Fatalf("jobs = %+v, want one job with id 1", jobs)
	}
}

func TestLoadSchedulesStoredJobs(t *testing.T) {
	store := filepath.Join(t.TempDir(), "jobs.json")
	data, _ := json.Marshal([]pawn.CronJob{{ID: "1", Name: "daily", Schedule: "@daily", Enabled: true}})
	if err := os.WriteFile(store, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s := New(store, func(ctx context.Context, job pawn.CronJob) (string, error) { return "ok", nil })
	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(s.Jobs()) != 1 {
		t.Fatalf("Jobs() = %d, want 1", len(s.Jobs()))
	}
}

func TestLoadSkipsUnschedulableJobsWithoutFailing(t *testing.T) {
	store := filepath.Join(t.TempDir(), "jobs.json")
	data, _ := json.Marshal([]pawn.CronJob{
		{ID: "1", Name: "good", Schedule: "@daily", Enabled: true},
		{ID: "2", Name: "bad", Schedule: "garbage", Enabled: true},
	})
	if err := os.WriteFile(store, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s := New(store, func(ctx context.Context, job pawn.CronJob) (string, error) { return "ok", nil })
	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(s.Jobs()) != 1 {
		t.Fatalf("Jobs() = %d, want 1 (bad schedule skipped)", len(s.Jobs()))
	}
}

func TestRemoveDeletesJobAndPersists(t *testing.T) {
	store := filepath.Join(t.TempDir(), "jobs.json")
	s := New(store, func(ctx context.Context, job pawn.CronJob) (string, error) { return "ok", nil })
	if err := s.Add(pawn.CronJob{ID: "1", Name: "daily", Schedule: "@daily", Enabled: true}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Remove("1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(s.Jobs()) != 0 {
		t.Fatalf("Jobs() = %d, want 0", len(s.Jobs()))
	}
}

func TestRunDueInvokesHandlerAndRecordsResult(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	var calls int
	s := New("", func(ctx context.Context, job pawn.CronJob) (string, error) {
		calls++
		return "dispatched", nil
	}, WithNow(clock))

	if err := s.Add(pawn.CronJob{ID: "1", Name: "daily", Schedule: "@daily", Enabled: true}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Advance the clock past the job's next run without rescheduling it,
	// so runDue sees it as due.
	now = now.Add(25 * time.Hour)
	s.runDue(context.Background())

	if calls != 1 {
		t.Fatalf("handler calls = %d, want 1", calls)
	}
	jobs := s.Jobs()
	if len(jobs) != 1 || jobs[0].RunCount != 1 || jobs[0].LastRunResult != "dispatched" {
		t.Fatalf("jobs = %+v, want RunCount=1 LastRunResult=dispatched", jobs)
	}
}

func TestRunDueDeletesOneShotJobAfterRun(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	s := New("", func(ctx context.Context, job pawn.CronJob) (string, error) { return "done", nil }, WithNow(clock))
	if err := s.Add(pawn.CronJob{ID: "1", Name: "once", Schedule: "@daily", Enabled: true, OneShot: true}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	now = now.Add(25 * time.Hour)
	s.runDue(context.Background())

	if len(s.Jobs()) != 0 {
		t.Fatalf("Jobs() = %d, want 0 after one-shot job ran", len(s.Jobs()))
	}
}

func TestRunDueRecordsHandlerError(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	s := New("", func(ctx context.Context, job pawn.CronJob) (string, error) {
		return "", context.DeadlineExceeded
	}, WithNow(clock))
	if err := s.Add(pawn.CronJob{ID: "1", Name: "daily", Schedule: "@daily", Enabled: true}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	now = now.Add(25 * time.Hour)
	s.runDue(context.Background())

	jobs := s.Jobs()
	if len(jobs) != 1 || jobs[0].LastRunResult == "" {
		t.Fatalf("jobs = %+v, want a recorded error result", jobs)
	}
}

func TestStartStopRunsCleanly(t *testing.T) {
	s := New("", func(ctx context.Context, job pawn.CronJob) (string, error) { return "ok", nil }, WithTickInterval(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	s.Stop()
}
