package fleet

import (
	"fmt"
	"time"

	"warefleet.io/internal/sim/grid"
)

// Externally triggered operations. Each takes the manager lock for its
// whole duration so it is atomic with respect to ticks. Errors wrap one of
// ErrValidation, ErrNotFound or ErrConflict; the HTTP layer maps those to
// status codes.

// Robots returns a snapshot of every robot, ordered by id.
func (m *Manager) Robots() []RobotView {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RobotView, 0, len(m.robots))
	for _, r := range m.robots {
		out = append(out, m.robotView(r))
	}
	return out
}

func (m *Manager) Robot(id int) (RobotView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.robotByID(id)
	if r == nil {
		return RobotView{}, fmt.Errorf("%w: robot %d", ErrNotFound, id)
	}
	return m.robotView(r), nil
}

func (m *Manager) Summary() SummaryView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summaryLocked()
}

func (m *Manager) summaryLocked() SummaryView {
	s := SummaryView{
		Tick:               m.tick,
		TotalRobots:        len(m.robots),
		ActiveTasks:        len(m.activeTasks),
		StatusDistribution: m.statusCountsLocked(),
		GridSize:           fmt.Sprintf("%dx%d", m.grid.Width(), m.grid.Height()),
		CompletedTasks:     len(m.completedTasks),
		FailedTasks:        len(m.failedTasks),
		Jobs:               m.jobs.stats(),
	}
	var batterySum, operational int
	for _, r := range m.robots {
		batterySum += r.Battery
		s.TotalDistanceTraveled += r.DistanceTraveled
		switch r.Status {
		case StatusIdle:
			s.IdleRobots++
			operational++
		case StatusError, StatusDead:
			s.Errors = append(s.Errors, RobotErrorView{
				RobotID: r.ID, Error: r.LastError, Position: r.Pos,
			})
		default:
			operational++
		}
	}
	if len(m.robots) > 0 {
		s.AverageBattery = float64(batterySum) / float64(len(m.robots))
		s.UptimePercent = float64(operational) / float64(len(m.robots)) * 100
	}
	n := len(m.alerts)
	if w := m.tune.SummaryAlertWindow; n > w {
		n = w
	}
	s.LowBatteryAlerts = append([]AlertView(nil), m.alerts[len(m.alerts)-n:]...)
	return s
}

// Environment returns the current grid layout.
func (m *Manager) Environment() grid.Layout {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grid.Snapshot()
}

// UpdateEnvironment adds or removes a single feature cell. The returned
// bool reports whether the grid accepted the change (add requires an empty
// cell, remove requires a matching type).
func (m *Manager) UpdateEnvironment(action string, cellType string, x, y int) (grid.Layout, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.grid.InBounds(x, y) {
		return grid.Layout{}, false, fmt.Errorf("%w: position (%d,%d) out of bounds", ErrValidation, x, y)
	}
	ct := grid.CellType(cellType)
	if !grid.ValidCellType(ct) || ct == grid.CellEmpty {
		return grid.Layout{}, false, fmt.Errorf("%w: unknown cell type %q", ErrValidation, cellType)
	}
	var ok bool
	switch action {
	case "add":
		ok = m.grid.AddFeature(ct, x, y)
	case "remove":
		ok = m.grid.RemoveFeature(ct, x, y)
	default:
		return grid.Layout{}, false, fmt.Errorf("%w: action must be add or remove", ErrValidation)
	}
	if ok {
		m.log.Printf("environment %s: %s at (%d,%d)", action, cellType, x, y)
	}
	return m.grid.Snapshot(), ok, nil
}

// Reset parks every robot at the starting station with a full battery and
// clears all jobs, tasks and alerts. The tick counter keeps running.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	home, ok := m.grid.StartingStation()
	if !ok {
		home = grid.Pos{X: m.grid.Width() / 2, Y: m.grid.Height() / 2}
	}
	for _, r := range m.robots {
		r.reset(home)
	}
	m.jobs.reset()
	m.activeTasks = nil
	m.completedTasks = nil
	m.failedTasks = nil
	m.alerts = nil
	m.lastAlertAt = map[int]time.Time{}
	m.log.Printf("fleet reset: %d robots parked at (%d,%d)", len(m.robots), home.X, home.Y)
}

// AssignTask attaches a new ad-hoc task to a specific robot.
func (m *Manager) AssignTask(robotID int, taskType string, x, y, priority int) (TaskView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.robotByID(robotID)
	if r == nil {
		return TaskView{}, fmt.Errorf("%w: robot %d", ErrNotFound, robotID)
	}
	if r.HasTask() || r.HasJob() || r.InterruptedJob != nil {
		return TaskView{}, fmt.Errorf("%w: robot %d already has active work", ErrConflict, robotID)
	}
	if r.Status == StatusError || r.IsDead() {
		return TaskView{}, fmt.Errorf("%w: robot %d is not operational (%s)", ErrConflict, robotID, r.Status)
	}
	if !m.grid.InBounds(x, y) {
		return TaskView{}, fmt.Errorf("%w: target (%d,%d) out of bounds", ErrValidation, x, y)
	}
	tt, ok := ParseTaskType(taskType)
	if !ok {
		return TaskView{}, fmt.Errorf("%w: unknown task type %q", ErrValidation, taskType)
	}
	now := m.now()
	m.nextTaskNum++
	target := grid.Pos{X: x, Y: y}
	t := &Task{
		ID:             fmt.Sprintf("T%04d", m.nextTaskNum),
		RobotID:        robotID,
		Type:           tt,
		Target:         target,
		Status:         TaskPending,
		Priority:       clampPriority(priority),
		CreatedAt:      now,
		EstimatedSteps: grid.Manhattan(r.Pos, target),
	}
	r.assignTask(t, now)
	m.activeTasks = append(m.activeTasks, t)
	m.log.Printf("task %s (%s) assigned to robot %d, target (%d,%d)", t.ID, tt, robotID, x, y)
	return m.taskView(t), nil
}

// Tasks returns active tasks plus bounded windows of recent history.
func (m *Manager) Tasks() TasksView {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := TasksView{
		Active:    make([]TaskView, 0, len(m.activeTasks)),
		Completed: []TaskView{},
		Failed:    []TaskView{},
	}
	for _, t := range m.activeTasks {
		v.Active = append(v.Active, m.taskView(t))
	}
	for _, t := range tailTasks(m.completedTasks, m.tune.SummaryTaskWindow) {
		v.Completed = append(v.Completed, m.taskView(t))
	}
	for _, t := range tailTasks(m.failedTasks, m.tune.SummaryTaskWindow) {
		v.Failed = append(v.Failed, m.taskView(t))
	}
	return v
}

func tailTasks(lst []*Task, n int) []*Task {
	if len(lst) <= n {
		return lst
	}
	return lst[len(lst)-n:]
}

// CancelTask cancels an active task and idles its robot. Cancelled tasks
// are kept in failed history.
func (m *Manager) CancelTask(id string) (TaskView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.activeTasks {
		if t.ID != id {
			continue
		}
		t.cancel(m.now())
		m.activeTasks = removeTask(m.activeTasks, t)
		m.failedTasks = append(m.failedTasks, t)
		if r := m.robotByID(t.RobotID); r != nil && r.Task == t {
			r.clearTask()
			r.Status = StatusIdle
		}
		m.log.Printf("task %s cancelled", id)
		return m.taskView(t), nil
	}
	return TaskView{}, fmt.Errorf("%w: active task %s", ErrNotFound, id)
}

// AddJob enqueues a delivery job. A nil delivery resolves to the nearest
// delivery zone to the pickup.
func (m *Manager) AddJob(pickup grid.Pos, delivery *grid.Pos, priority int) (JobView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.grid.InBounds(pickup.X, pickup.Y) {
		return JobView{}, fmt.Errorf("%w: pickup (%d,%d) out of bounds", ErrValidation, pickup.X, pickup.Y)
	}
	if delivery != nil && !m.grid.InBounds(delivery.X, delivery.Y) {
		return JobView{}, fmt.Errorf("%w: delivery (%d,%d) out of bounds", ErrValidation, delivery.X, delivery.Y)
	}
	j, err := m.jobs.add(pickup, delivery, priority, m.now())
	if err != nil {
		return JobView{}, err
	}
	m.log.Printf("job %s queued: pickup (%d,%d) -> delivery (%d,%d), priority %d",
		j.ID, j.Pickup.X, j.Pickup.Y, j.Delivery.X, j.Delivery.Y, j.Priority)
	return jobView(j), nil
}

// Jobs returns every job grouped by lifecycle stage; pending jobs are in
// serve order.
func (m *Manager) Jobs() JobsView {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := JobsView{
		Pending:   []JobView{},
		Active:    []JobView{},
		Completed: []JobView{},
		Failed:    []JobView{},
		Cancelled: []JobView{},
	}
	for _, j := range m.jobs.sortedPending() {
		v.Pending = append(v.Pending, jobView(j))
	}
	for _, j := range m.jobs.active {
		v.Active = append(v.Active, jobView(j))
	}
	for _, j := range m.jobs.completed {
		v.Completed = append(v.Completed, jobView(j))
	}
	for _, j := range m.jobs.failed {
		v.Failed = append(v.Failed, jobView(j))
	}
	for _, j := range m.jobs.cancelled {
		v.Cancelled = append(v.Cancelled, jobView(j))
	}
	return v
}

// CancelJob cancels a pending or active job. A robot carrying the job is
// detached and idled; terminal jobs cannot be cancelled.
func (m *Manager) CancelJob(id string) (JobView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs.cancel(id, m.now())
	if !ok {
		if _, exists := m.jobs.byID[id]; exists {
			return JobView{}, fmt.Errorf("%w: job %s already finished", ErrConflict, id)
		}
		return JobView{}, fmt.Errorf("%w: job %s", ErrNotFound, id)
	}
	for _, r := range m.robots {
		if r.Job == j {
			r.clearJob()
			if !r.IsDead() && r.Status != StatusError {
				r.Status = StatusIdle
			}
		}
		if r.InterruptedJob == j {
			r.InterruptedJob = nil
		}
	}
	m.log.Printf("job %s cancelled", id)
	return jobView(j), nil
}

func (m *Manager) JobStatistics() JobStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs.stats()
}

// ForceCharge sends a robot to the nearest charging station immediately.
// An active job is suspended for later resumption; an active task is
// cancelled outright.
func (m *Manager) ForceCharge(robotID int) (ChargeView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.robotByID(robotID)
	if r == nil {
		return ChargeView{}, fmt.Errorf("%w: robot %d", ErrNotFound, robotID)
	}
	if r.IsDead() {
		return ChargeView{}, fmt.Errorf("%w: robot %d is dead and must charge in place", ErrValidation, robotID)
	}
	st, ok := m.grid.NearestChargingStation(r.Pos.X, r.Pos.Y)
	if !ok {
		return ChargeView{}, fmt.Errorf("%w: no charging stations available", ErrValidation)
	}
	if r.HasJob() {
		m.log.Printf("robot %d suspending job %s for forced charge", robotID, r.Job.ID)
		r.interruptJobForCharging()
	}
	if r.HasTask() {
		t := r.Task
		t.cancel(m.now())
		m.activeTasks = removeTask(m.activeTasks, t)
		m.failedTasks = append(m.failedTasks, t)
		r.clearTask()
	}
	p := m.planner.FindPath(r.Pos, st, m.occupiedExcept(r))
	switch {
	case p == nil:
		r.setError("no path to charging station")
	case len(p) == 0:
		r.Status = StatusCharging
	default:
		r.Path = p
		r.Status = StatusEnRoute
	}
	m.log.Printf("robot %d ordered to charge at (%d,%d)", robotID, st.X, st.Y)
	return ChargeView{
		Robot:           m.robotView(r),
		ChargingStation: st,
		BatteryLevel:    r.Battery,
	}, nil
}

// SetContinuous enables or disables automatic job generation.
func (m *Manager) SetContinuous(enabled bool, maxJobs, intervalS int) (ContinuousView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if enabled {
		if maxJobs < 1 || maxJobs > 20 {
			return ContinuousView{}, fmt.Errorf("%w: max_jobs must be between 1 and 20", ErrValidation)
		}
		if intervalS < 1 || intervalS > 60 {
			return ContinuousView{}, fmt.Errorf("%w: interval_s must be between 1 and 60", ErrValidation)
		}
		m.maxActiveJobs = maxJobs
		m.genInterval = time.Duration(intervalS) * time.Second
		m.lastGeneration = time.Time{}
	}
	m.continuousEnabled = enabled
	m.log.Printf("continuous generation enabled=%v max_jobs=%d interval=%s",
		enabled, m.maxActiveJobs, m.genInterval)
	return m.continuousViewLocked(), nil
}

func (m *Manager) ContinuousStatus() ContinuousView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.continuousViewLocked()
}

func (m *Manager) continuousViewLocked() ContinuousView {
	return ContinuousView{
		Enabled:       m.continuousEnabled,
		MaxJobs:       m.maxActiveJobs,
		IntervalS:     int(m.genInterval / time.Second),
		PendingJobs:   len(m.jobs.pending),
		ActiveJobs:    len(m.jobs.active),
		PickupZones:   len(m.grid.PickupZones()),
		DeliveryZones: len(m.grid.DeliveryZones()),
	}
}

// Snapshot feeds the metrics endpoint.
func (m *Manager) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{
		Tick:         m.tick,
		Robots:       len(m.robots),
		StatusCounts: m.statusCountsLocked(),
		PendingJobs:  len(m.jobs.pending),
		ActiveJobs:   len(m.jobs.active),
		ActiveTasks:  len(m.activeTasks),
		LastTickMs:   m.lastTickMs,
	}
}
