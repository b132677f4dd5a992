package fleet

import (
	"time"

	"warefleet.io/internal/sim/grid"
)

type Status string

const (
	StatusIdle             Status = "idle"
	StatusEnRoute          Status = "en_route"
	StatusWorking          Status = "working"
	StatusPickingUp        Status = "picking_up"
	StatusDroppingOff      Status = "dropping_off"
	StatusReturningToStart Status = "returning_to_start"
	StatusCharging         Status = "charging"
	StatusError            Status = "error"
	StatusDead             Status = "dead"
)

// Robot is one simulated agent. All fields are owned by the fleet manager
// and mutated only under its lock; Robot methods are pure state
// transitions with no knowledge of the grid or of other robots.
type Robot struct {
	ID      int
	Pos     grid.Pos
	PrevPos grid.Pos
	Status  Status
	Battery int // 0..100

	// At most one of Task/Job is non-nil.
	Task *Task
	Job  *Job

	// InterruptedJob holds a job suspended for charging; restored once the
	// manager decides the battery allows it.
	InterruptedJob *Job

	PickupComplete  bool
	DropoffComplete bool

	// ActionStart marks when the current pickup/dropoff dwell began; zero
	// when no dwell is running.
	ActionStart time.Time

	Path []grid.Pos // front = next step

	TasksCompleted   int
	DistanceTraveled int
	ErrorCount       int
	LastError        string
}

func newRobot(id int, pos grid.Pos) *Robot {
	return &Robot{
		ID:      id,
		Pos:     pos,
		PrevPos: pos,
		Status:  StatusIdle,
		Battery: 100,
	}
}

func (r *Robot) IsDead() bool { return r.Battery <= 0 || r.Status == StatusDead }

func (r *Robot) HasTask() bool { return r.Task != nil }
func (r *Robot) HasJob() bool  { return r.Job != nil }

// NeedsCharging reports whether the battery is below threshold and the
// robot is in a state where a charging detour makes sense.
func (r *Robot) NeedsCharging(threshold int) bool {
	return r.Battery < threshold && r.Status != StatusCharging && r.Status != StatusDead
}

// moveAlongPath advances one cell, draining cost battery units. Returns
// true when the path is exhausted. Reaching battery 0 kills the robot:
// path cleared, no further movement until recharged to full.
func (r *Robot) moveAlongPath(cost int) bool {
	if len(r.Path) == 0 {
		return true
	}
	r.PrevPos = r.Pos
	r.Pos = r.Path[0]
	r.Path = r.Path[1:]
	r.DistanceTraveled++
	if r.Task != nil {
		r.Task.ActualSteps++
	}
	r.drainBattery(cost)
	return len(r.Path) == 0
}

func (r *Robot) drainBattery(amount int) {
	r.Battery -= amount
	if r.Battery > 0 {
		return
	}
	r.Battery = 0
	r.Status = StatusDead
	r.LastError = "battery depleted"
	r.ErrorCount++
	r.Path = nil
}

// chargeBattery adds amount (capped at 100) and reports full charge. A dead
// robot revives to idle only at full battery.
func (r *Robot) chargeBattery(amount int) bool {
	r.Battery += amount
	if r.Battery < 100 {
		return false
	}
	r.Battery = 100
	if r.Status == StatusDead {
		r.Status = StatusIdle
		r.LastError = ""
	}
	return true
}

func (r *Robot) assignJob(j *Job) {
	r.Job = j
	r.PickupComplete = false
	r.DropoffComplete = false
	r.Status = StatusEnRoute
}

func (r *Robot) assignTask(t *Task, now time.Time) {
	r.Task = t
	t.start(now)
	r.Status = StatusEnRoute
}

// interruptJobForCharging suspends the active job: progress flags reset so
// the job restarts its pickup leg on resumption.
func (r *Robot) interruptJobForCharging() {
	if r.Job == nil || r.Status == StatusDead {
		return
	}
	r.InterruptedJob = r.Job
	r.Job = nil
	r.PickupComplete = false
	r.DropoffComplete = false
	r.ActionStart = time.Time{}
	r.Path = nil
	r.Status = StatusEnRoute
	r.LastError = "low battery - job paused for charging"
}

// resumeInterruptedJob reattaches the suspended job when the battery is
// above the resume threshold. The job restarts from its pickup leg.
func (r *Robot) resumeInterruptedJob(resumeThreshold int) bool {
	if r.InterruptedJob == nil || r.Battery <= resumeThreshold {
		return false
	}
	r.Job = r.InterruptedJob
	r.InterruptedJob = nil
	r.PickupComplete = false
	r.DropoffComplete = false
	r.Status = StatusEnRoute
	r.LastError = ""
	return true
}

func (r *Robot) startPickup() {
	r.Status = StatusPickingUp
	r.ActionStart = time.Time{}
	r.PickupComplete = false
}

func (r *Robot) completePickup() {
	r.PickupComplete = true
	r.Status = StatusEnRoute
	r.ActionStart = time.Time{}
}

func (r *Robot) startDropoff() {
	r.Status = StatusDroppingOff
	r.ActionStart = time.Time{}
	r.DropoffComplete = false
}

func (r *Robot) completeDropoff() {
	r.DropoffComplete = true
	r.Status = StatusReturningToStart
	r.ActionStart = time.Time{}
}

func (r *Robot) completeJob() {
	r.Job = nil
	r.PickupComplete = false
	r.DropoffComplete = false
	r.Status = StatusIdle
	r.ActionStart = time.Time{}
}

func (r *Robot) clearJob() {
	r.Job = nil
	r.PickupComplete = false
	r.DropoffComplete = false
	r.ActionStart = time.Time{}
	r.Path = nil
}

func (r *Robot) completeTask() {
	if r.Task != nil {
		r.TasksCompleted++
		r.Task = nil
	}
	r.Path = nil
	r.Status = StatusIdle
}

func (r *Robot) clearTask() {
	r.Task = nil
	r.Path = nil
}

func (r *Robot) setError(reason string) {
	r.Status = StatusError
	r.LastError = reason
	r.ErrorCount++
	r.Path = nil
}

// reset teleports the robot home with a full battery and no work.
func (r *Robot) reset(pos grid.Pos) {
	r.Pos = pos
	r.PrevPos = pos
	r.Status = StatusIdle
	r.Battery = 100
	r.Task = nil
	r.Job = nil
	r.InterruptedJob = nil
	r.PickupComplete = false
	r.DropoffComplete = false
	r.ActionStart = time.Time{}
	r.Path = nil
	r.LastError = ""
}
