package fleet

import (
	"time"

	"warefleet.io/internal/sim/grid"
)

type TaskType string

const (
	TaskPickup  TaskType = "pickup"
	TaskDropoff TaskType = "dropoff"
	TaskCharge  TaskType = "charge"
	TaskMove    TaskType = "move"
	TaskPatrol  TaskType = "patrol"
)

// ParseTaskType maps an external string onto the closed task type set.
func ParseTaskType(s string) (TaskType, bool) {
	switch TaskType(s) {
	case TaskPickup, TaskDropoff, TaskCharge, TaskMove, TaskPatrol:
		return TaskType(s), true
	}
	return "", false
}

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskEnRoute    TaskStatus = "en_route"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Task is a one-shot, single-target work item attached to exactly one robot
// at creation time. Terminal tasks move to the manager's history lists.
type Task struct {
	ID       string
	RobotID  int
	Type     TaskType
	Target   grid.Pos
	Status   TaskStatus
	Priority int

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	EstimatedSteps int
	ActualSteps    int
	ErrorMessage   string
}

func clampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 10 {
		return 10
	}
	return p
}

func (t *Task) start(now time.Time) {
	if t.Status == TaskPending {
		t.Status = TaskEnRoute
		t.StartedAt = now
	}
}

func (t *Task) complete(now time.Time) {
	if t.Status == TaskEnRoute || t.Status == TaskInProgress {
		t.Status = TaskCompleted
		t.CompletedAt = now
	}
}

func (t *Task) fail(reason string, now time.Time) {
	t.Status = TaskFailed
	t.CompletedAt = now
	t.ErrorMessage = reason
}

func (t *Task) cancel(now time.Time) {
	t.Status = TaskCancelled
	t.CompletedAt = now
}

// Duration is the elapsed working time, or 0 when the task never started.
func (t *Task) Duration(now time.Time) time.Duration {
	if t.StartedAt.IsZero() {
		return 0
	}
	end := t.CompletedAt
	if end.IsZero() {
		end = now
	}
	return end.Sub(t.StartedAt)
}
