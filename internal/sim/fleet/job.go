package fleet

import (
	"time"

	"github.com/google/uuid"

	"warefleet.io/internal/sim/grid"
)

type JobStatus string

const (
	JobPending     JobStatus = "pending"
	JobAssigned    JobStatus = "assigned"
	JobPickingUp   JobStatus = "picking_up"
	JobInTransit   JobStatus = "in_transit"
	JobDroppingOff JobStatus = "dropping_off"
	JobCompleted   JobStatus = "completed"
	JobFailed      JobStatus = "failed"
	JobCancelled   JobStatus = "cancelled"
)

// Job is a two-leg delivery work item. At most one robot owns it while
// active; once terminal only bookkeeping timestamps remain mutable.
type Job struct {
	ID       string
	Pickup   grid.Pos
	Delivery grid.Pos
	Status   JobStatus
	Priority int

	AssignedRobotID int // 0 = unassigned

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	PickupAt    time.Time
	DeliveryAt  time.Time

	// seq breaks priority ties: jobs enqueued earlier win.
	seq uint64
}

func newJob(pickup, delivery grid.Pos, priority int, now time.Time) *Job {
	return &Job{
		ID:        uuid.NewString()[:8],
		Pickup:    pickup,
		Delivery:  delivery,
		Status:    JobPending,
		Priority:  clampPriority(priority),
		CreatedAt: now,
	}
}

func (j *Job) assignTo(robotID int, now time.Time) {
	j.AssignedRobotID = robotID
	j.Status = JobAssigned
	j.StartedAt = now
}

func (j *Job) startPickup(now time.Time) {
	j.Status = JobPickingUp
	if j.PickupAt.IsZero() {
		j.PickupAt = now
	}
}

func (j *Job) startTransit() { j.Status = JobInTransit }

func (j *Job) startDropoff(now time.Time) {
	j.Status = JobDroppingOff
	if j.DeliveryAt.IsZero() {
		j.DeliveryAt = now
	}
}

func (j *Job) complete(now time.Time) {
	j.Status = JobCompleted
	j.CompletedAt = now
}

func (j *Job) fail(now time.Time) {
	j.Status = JobFailed
	j.CompletedAt = now
}

func (j *Job) cancel(now time.Time) {
	j.Status = JobCancelled
	j.CompletedAt = now
}

// Duration is assignment-to-completion time, or 0 while either end is open.
func (j *Job) Duration() time.Duration {
	if j.StartedAt.IsZero() || j.CompletedAt.IsZero() {
		return 0
	}
	return j.CompletedAt.Sub(j.StartedAt)
}
