package indexdb

import (
	"path/filepath"
	"testing"
	"time"

	"warefleet.io/internal/sim/fleet"
)

func openTestIndex(t *testing.T) *SQLiteIndex {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndQueryJobs(t *testing.T) {
	s := openTestIndex(t)
	at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	for i, status := range []fleet.JobStatus{fleet.JobCompleted, fleet.JobFailed} {
		err := s.RecordJob(fleet.JobRecord{
			Tick:      uint64(i + 1),
			JobID:     []string{"aaaa1111", "bbbb2222"}[i],
			Status:    status,
			RobotID:   i + 1,
			Priority:  5,
			DurationS: 12.5,
			At:        at,
		})
		if err != nil {
			t.Fatalf("record job: %v", err)
		}
	}
	s.Flush()

	got, err := s.JobHistory(10)
	if err != nil {
		t.Fatalf("job history: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("history rows = %d, want 2", len(got))
	}
	// Newest first.
	if got[0].JobID != "bbbb2222" || got[0].Status != fleet.JobFailed {
		t.Fatalf("row 0 = %+v", got[0])
	}
	if got[1].JobID != "aaaa1111" || got[1].Tick != 1 {
		t.Fatalf("row 1 = %+v", got[1])
	}
	if !got[1].At.Equal(at) {
		t.Fatalf("timestamp round trip: %v != %v", got[1].At, at)
	}
}

func TestRecordAndQueryTasksAndAlerts(t *testing.T) {
	s := openTestIndex(t)
	at := time.Now().UTC().Truncate(time.Millisecond)

	if err := s.RecordTask(fleet.TaskRecord{
		Tick: 3, TaskID: "T0001", Type: fleet.TaskMove,
		Status: fleet.TaskCompleted, RobotID: 2, Steps: 7, At: at,
	}); err != nil {
		t.Fatalf("record task: %v", err)
	}
	if err := s.RecordAlert(fleet.AlertRecord{
		Tick: 4, RobotID: 2, Battery: 12, X: 5, Y: 6, At: at,
	}); err != nil {
		t.Fatalf("record alert: %v", err)
	}
	s.Flush()

	tasks, err := s.TaskHistory(10)
	if err != nil {
		t.Fatalf("task history: %v", err)
	}
	if len(tasks) != 1 || tasks[0].TaskID != "T0001" || tasks[0].Steps != 7 {
		t.Fatalf("tasks = %+v", tasks)
	}
	alerts, err := s.AlertHistory(10)
	if err != nil {
		t.Fatalf("alert history: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Battery != 12 {
		t.Fatalf("alerts = %+v", alerts)
	}
}

func TestWriteAfterCloseIsNoop(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.RecordJob(fleet.JobRecord{JobID: "x"}); err != nil {
		t.Fatalf("record after close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("double close: %v", err)
	}
}
