package fleet

import (
	"time"

	"warefleet.io/internal/sim/grid"
)

// Views are immutable JSON snapshots of fleet state, built under the
// manager lock so callers never see a torn position/status pair.

type RobotView struct {
	ID               int        `json:"id"`
	X                int        `json:"x"`
	Y                int        `json:"y"`
	Status           Status     `json:"status"`
	Battery          int        `json:"battery"`
	CurrentTask      *TaskView  `json:"current_task,omitempty"`
	CurrentJob       *JobView   `json:"current_job,omitempty"`
	InterruptedJob   *JobView   `json:"interrupted_job,omitempty"`
	Path             []grid.Pos `json:"path"`
	TasksCompleted   int        `json:"tasks_completed"`
	DistanceTraveled int        `json:"distance_traveled"`
	ErrorCount       int        `json:"error_count"`
	LastError        string     `json:"last_error,omitempty"`
	IsDead           bool       `json:"is_dead"`
	NeedsCharging    bool       `json:"needs_charging"`
	PickupComplete   bool       `json:"pickup_complete"`
	DropoffComplete  bool       `json:"dropoff_complete"`
}

type TaskView struct {
	TaskID         string     `json:"task_id"`
	RobotID        int        `json:"robot_id"`
	Type           TaskType   `json:"task_type"`
	Target         grid.Pos   `json:"target"`
	Status         TaskStatus `json:"status"`
	Priority       int        `json:"priority"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	EstimatedSteps int        `json:"estimated_steps"`
	ActualSteps    int        `json:"actual_steps"`
	DurationS      float64    `json:"duration_s"`
	ErrorMessage   string     `json:"error_message,omitempty"`
}

type JobView struct {
	JobID           string     `json:"job_id"`
	Pickup          grid.Pos   `json:"pickup"`
	Delivery        grid.Pos   `json:"delivery"`
	Status          JobStatus  `json:"status"`
	AssignedRobotID int        `json:"assigned_robot_id,omitempty"`
	Priority        int        `json:"priority"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationS       float64    `json:"duration_s"`
}

type TasksView struct {
	Active    []TaskView `json:"active"`
	Completed []TaskView `json:"completed"`
	Failed    []TaskView `json:"failed"`
}

type JobsView struct {
	Pending   []JobView `json:"pending"`
	Active    []JobView `json:"active"`
	Completed []JobView `json:"completed"`
	Failed    []JobView `json:"failed"`
	Cancelled []JobView `json:"cancelled"`
}

type RobotErrorView struct {
	RobotID  int      `json:"robot_id"`
	Error    string   `json:"error"`
	Position grid.Pos `json:"position"`
}

type AlertView struct {
	RobotID   int       `json:"robot_id"`
	Battery   int       `json:"battery"`
	Position  grid.Pos  `json:"position"`
	Timestamp time.Time `json:"timestamp"`
}

type SummaryView struct {
	Tick                  uint64           `json:"tick"`
	TotalRobots           int              `json:"total_robots"`
	ActiveTasks           int              `json:"active_tasks"`
	IdleRobots            int              `json:"idle_robots"`
	AverageBattery        float64          `json:"average_battery"`
	StatusDistribution    map[Status]int   `json:"status_distribution"`
	GridSize              string           `json:"grid_size"`
	Errors                []RobotErrorView `json:"errors"`
	CompletedTasks        int              `json:"completed_tasks"`
	FailedTasks           int              `json:"failed_tasks"`
	UptimePercent         float64          `json:"uptime_percent"`
	LowBatteryAlerts      []AlertView      `json:"low_battery_alerts"`
	TotalDistanceTraveled int              `json:"total_distance_traveled"`
	Jobs                  JobStats         `json:"jobs"`
}

type ContinuousView struct {
	Enabled       bool `json:"enabled"`
	MaxJobs       int  `json:"max_jobs"`
	IntervalS     int  `json:"interval_s"`
	PendingJobs   int  `json:"pending_jobs"`
	ActiveJobs    int  `json:"active_jobs"`
	PickupZones   int  `json:"pickup_zones"`
	DeliveryZones int  `json:"delivery_zones"`
}

type ChargeView struct {
	Robot           RobotView `json:"robot"`
	ChargingStation grid.Pos  `json:"charging_station"`
	BatteryLevel    int       `json:"battery_level"`
}

// Metrics feeds the /metrics exposition endpoint.
type Metrics struct {
	Tick         uint64
	Robots       int
	StatusCounts map[Status]int
	PendingJobs  int
	ActiveJobs   int
	ActiveTasks  int
	LastTickMs   float64
}

func optTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	cp := t
	return &cp
}

func (m *Manager) taskView(t *Task) TaskView {
	return TaskView{
		TaskID:         t.ID,
		RobotID:        t.RobotID,
		Type:           t.Type,
		Target:         t.Target,
		Status:         t.Status,
		Priority:       t.Priority,
		CreatedAt:      t.CreatedAt,
		StartedAt:      optTime(t.StartedAt),
		CompletedAt:    optTime(t.CompletedAt),
		EstimatedSteps: t.EstimatedSteps,
		ActualSteps:    t.ActualSteps,
		DurationS:      t.Duration(m.now()).Seconds(),
		ErrorMessage:   t.ErrorMessage,
	}
}

func jobView(j *Job) JobView {
	return JobView{
		JobID:           j.ID,
		Pickup:          j.Pickup,
		Delivery:        j.Delivery,
		Status:          j.Status,
		AssignedRobotID: j.AssignedRobotID,
		Priority:        j.Priority,
		CreatedAt:       j.CreatedAt,
		StartedAt:       optTime(j.StartedAt),
		CompletedAt:     optTime(j.CompletedAt),
		DurationS:       j.Duration().Seconds(),
	}
}

func (m *Manager) robotView(r *Robot) RobotView {
	v := RobotView{
		ID:               r.ID,
		X:                r.Pos.X,
		Y:                r.Pos.Y,
		Status:           r.Status,
		Battery:          r.Battery,
		Path:             append([]grid.Pos(nil), r.Path...),
		TasksCompleted:   r.TasksCompleted,
		DistanceTraveled: r.DistanceTraveled,
		ErrorCount:       r.ErrorCount,
		LastError:        r.LastError,
		IsDead:           r.IsDead(),
		NeedsCharging:    r.NeedsCharging(m.tune.UrgentBatteryPct),
		PickupComplete:   r.PickupComplete,
		DropoffComplete:  r.DropoffComplete,
	}
	if r.Task != nil {
		tv := m.taskView(r.Task)
		v.CurrentTask = &tv
	}
	if r.Job != nil {
		jv := jobView(r.Job)
		v.CurrentJob = &jv
	}
	if r.InterruptedJob != nil {
		jv := jobView(r.InterruptedJob)
		v.InterruptedJob = &jv
	}
	return v
}
