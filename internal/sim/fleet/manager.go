// Package fleet owns the warehouse fleet: robots, the delivery job queue,
// ad-hoc tasks and the periodic control loop that drives all of them.
//
// The Manager guards the whole aggregate (robots, jobs, tasks, grid) with
// one mutex: every tick and every externally triggered operation runs
// under it, so no two mutations interleave and no reader sees a torn
// position/status pair.
package fleet

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"warefleet.io/internal/sim/grid"
	"warefleet.io/internal/sim/path"
	"warefleet.io/internal/sim/tuning"
)

type Manager struct {
	mu sync.Mutex

	log     *log.Logger
	tune    tuning.Tuning
	grid    *grid.Grid
	planner *path.Planner
	rng     *rand.Rand

	robots []*Robot
	jobs   *jobManager

	activeTasks    []*Task
	completedTasks []*Task
	failedTasks    []*Task
	nextTaskNum    int

	alerts      []AlertView
	lastAlertAt map[int]time.Time

	continuousEnabled bool
	maxActiveJobs     int
	genInterval       time.Duration
	lastGeneration    time.Time

	tick       uint64
	lastTickMs float64

	// now is swappable so tests can drive dwell/alert timing without
	// sleeping.
	now func() time.Time

	// Optional sinks (may be nil). Implemented in internal/persistence/*.
	tickLogger TickLogger
	history    HistoryRecorder

	// onTick receives a consistent summary snapshot after every tick;
	// used by the telemetry stream. Invoked outside the lock.
	onTick func(SummaryView)

	loopMu sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewManager builds a fleet of tune.NumRobots robots parked at the grid's
// starting station with full batteries.
func NewManager(g *grid.Grid, tune tuning.Tuning, seed int64, logger *log.Logger) *Manager {
	m := &Manager{
		log:           logger,
		tune:          tune,
		grid:          g,
		planner:       path.NewPlanner(g),
		rng:           rand.New(rand.NewSource(seed)),
		jobs:          newJobManager(g),
		lastAlertAt:   map[int]time.Time{},
		maxActiveJobs: tune.Continuous.MaxJobs,
		genInterval:   time.Duration(tune.Continuous.IntervalS) * time.Second,
		now:           time.Now,
	}
	m.continuousEnabled = tune.Continuous.Enabled

	home, ok := g.StartingStation()
	if !ok {
		home = grid.Pos{X: g.Width() / 2, Y: g.Height() / 2}
	}
	for i := 0; i < tune.NumRobots; i++ {
		m.robots = append(m.robots, newRobot(i+1, home))
	}
	return m
}

func (m *Manager) SetTickLogger(l TickLogger)           { m.tickLogger = l }
func (m *Manager) SetHistoryRecorder(h HistoryRecorder) { m.history = h }
func (m *Manager) SetTickObserver(fn func(SummaryView)) { m.onTick = fn }

// Start launches the periodic tick loop. Starting an already-running loop
// is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	if m.stopCh != nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	m.stopCh, m.doneCh = stop, done
	go m.run(ctx, stop, done)
	m.log.Printf("fleet loop started (tick every %s)", m.tune.TickPeriod())
}

// Stop halts the loop, waiting a bounded grace period for an in-flight
// tick. Stopping an already-stopped loop is a no-op.
func (m *Manager) Stop() {
	m.loopMu.Lock()
	stop, done := m.stopCh, m.doneCh
	m.stopCh, m.doneCh = nil, nil
	m.loopMu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		m.log.Printf("fleet loop did not stop within grace period")
	}
}

func (m *Manager) run(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.tune.TickPeriod())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Tick advances the whole fleet once: generate work, assign it, move every
// robot one step. A failure on one robot becomes a state transition on
// that robot and never aborts the rest of the tick.
func (m *Manager) Tick() {
	started := time.Now()

	m.mu.Lock()
	m.tick++
	now := m.now()
	entry := TickEntry{Tick: m.tick}

	m.generateContinuousJobs(now)
	m.autoAssignJobs(now, &entry)

	// Occupancy snapshot for this tick. Taken once and not refreshed
	// between robots: a robot that moves mid-tick still blocks others at
	// its pre-tick cell until the next tick. The starting station is
	// shared parking, so robots sitting on it never block it.
	occ := m.occupiedExcept(nil)

	for _, r := range m.robots {
		m.advanceRobot(r, occ, now, &entry)
	}

	entry.StatusCounts = m.statusCountsLocked()
	m.lastTickMs = float64(time.Since(started).Microseconds()) / 1000.0
	entry.DurationMs = m.lastTickMs

	var snap SummaryView
	notify := m.onTick
	if notify != nil {
		snap = m.summaryLocked()
	}
	tl, hist := m.tickLogger, m.history
	m.mu.Unlock()

	if tl != nil {
		if err := tl.WriteTick(entry); err != nil {
			m.log.Printf("write tick log: %v", err)
		}
	}
	if hist != nil {
		for _, rec := range entry.Jobs {
			if err := hist.RecordJob(rec); err != nil {
				m.log.Printf("record job: %v", err)
			}
		}
		for _, rec := range entry.Tasks {
			if err := hist.RecordTask(rec); err != nil {
				m.log.Printf("record task: %v", err)
			}
		}
		for _, rec := range entry.Alerts {
			if err := hist.RecordAlert(rec); err != nil {
				m.log.Printf("record alert: %v", err)
			}
		}
	}
	if notify != nil {
		notify(snap)
	}
}

func (m *Manager) generateContinuousJobs(now time.Time) {
	if !m.continuousEnabled {
		return
	}
	if !m.lastGeneration.IsZero() && now.Sub(m.lastGeneration) < m.genInterval {
		return
	}
	if len(m.jobs.pending)+len(m.jobs.active) >= m.maxActiveJobs {
		return
	}
	zones := m.grid.PickupZones()
	if len(zones) == 0 {
		return
	}
	pickup := zones[m.rng.Intn(len(zones))]
	j, err := m.jobs.add(pickup, nil, 5, now)
	if err != nil {
		m.log.Printf("continuous job generation: %v", err)
		return
	}
	m.lastGeneration = now
	m.log.Printf("auto-generated job %s at pickup (%d,%d)", j.ID, pickup.X, pickup.Y)
}

func (m *Manager) autoAssignJobs(now time.Time, entry *TickEntry) {
	for _, r := range m.robots {
		if r.Status != StatusIdle || r.HasJob() || r.HasTask() || r.IsDead() {
			continue
		}
		// A suspended job still belongs to this robot; no new work until
		// it resumes.
		if r.InterruptedJob != nil {
			continue
		}
		j := m.jobs.next()
		if j == nil {
			return
		}
		m.jobs.assign(j, r.ID, now)
		r.assignJob(j)

		p := m.planner.FindPath(r.Pos, j.Pickup, m.occupiedExcept(r))
		if p == nil {
			reason := "cannot reach pickup location"
			m.jobs.fail(j, now)
			m.recordJobEvent(entry, j, reason, now)
			r.clearJob()
			r.setError(reason)
			m.log.Printf("job %s failed: %s (robot %d)", j.ID, reason, r.ID)
			continue
		}
		j.startPickup(now)
		if len(p) == 0 {
			// Spawned on the pickup cell: go straight to the dwell.
			r.startPickup()
		} else {
			r.Path = p
			r.Status = StatusEnRoute
		}
		m.log.Printf("job %s assigned to robot %d", j.ID, r.ID)
	}
}

// occupiedExcept snapshots every other robot's current position. Robots
// parked on the starting station are skipped: the whole fleet shares that
// cell, and counting them would strand anyone trying to return home.
func (m *Manager) occupiedExcept(self *Robot) map[grid.Pos]bool {
	home, hasHome := m.grid.StartingStation()
	occ := make(map[grid.Pos]bool, len(m.robots))
	for _, r := range m.robots {
		if r == self {
			continue
		}
		if hasHome && r.Pos == home {
			continue
		}
		occ[r.Pos] = true
	}
	return occ
}

// occWithout copies the tick's occupancy snapshot minus the moving robot's
// own cell.
func occWithout(occ map[grid.Pos]bool, self grid.Pos) map[grid.Pos]bool {
	cp := make(map[grid.Pos]bool, len(occ))
	for p := range occ {
		if p != self {
			cp[p] = true
		}
	}
	return cp
}

func (m *Manager) advanceRobot(r *Robot, occ map[grid.Pos]bool, now time.Time, entry *TickEntry) {
	// A dead robot charges in place if it happens to sit on a charger and
	// revives only at full battery; anywhere else it is inert.
	if r.IsDead() {
		if m.grid.CellAt(r.Pos.X, r.Pos.Y) == grid.CellChargingStation {
			if r.chargeBattery(m.tune.ChargePerTick) {
				m.log.Printf("robot %d revived at full charge", r.ID)
				if r.resumeInterruptedJob(m.tune.ResumeBatteryPct) {
					m.log.Printf("robot %d resumed job %s after charging", r.ID, r.Job.ID)
				}
			}
		}
		return
	}

	// Parked on a charger and charging (or needing it): charge first.
	if m.grid.CellAt(r.Pos.X, r.Pos.Y) == grid.CellChargingStation &&
		(r.Status == StatusCharging || r.NeedsCharging(m.tune.UrgentBatteryPct)) {
		r.Status = StatusCharging
		if r.chargeBattery(m.tune.ChargePerTick) {
			resumed := r.resumeInterruptedJob(m.tune.ResumeBatteryPct)
			if resumed {
				m.log.Printf("robot %d resumed job %s after charging", r.ID, r.Job.ID)
			}
			if !resumed && !r.HasJob() && !r.HasTask() {
				r.Status = StatusIdle
			} else if !resumed {
				// Work retained through the charge (a task kept attached).
				r.Status = StatusEnRoute
			}
		}
		return
	}

	// Urgent battery: suspend any job and head for the nearest charger.
	if r.NeedsCharging(m.tune.UrgentBatteryPct) {
		if r.HasJob() {
			m.log.Printf("robot %d suspending job %s for charging", r.ID, r.Job.ID)
			r.interruptJobForCharging()
		}
		m.advanceToCharger(r, occ, now, entry)
		return
	}

	switch {
	case r.HasJob():
		m.advanceWithJob(r, occ, now, entry)
	case r.HasTask():
		m.advanceWithTask(r, occ, now, entry)
	default:
		m.advanceIdle(r, occ)
	}
}

// advanceToCharger routes and moves a low-battery robot toward the nearest
// charging station, emitting a rate-limited alert.
func (m *Manager) advanceToCharger(r *Robot, occ map[grid.Pos]bool, now time.Time, entry *TickEntry) {
	st, ok := m.grid.NearestChargingStation(r.Pos.X, r.Pos.Y)
	if !ok {
		r.setError("no charging stations available")
		return
	}
	m.addLowBatteryAlert(r, now, entry)

	if len(r.Path) == 0 || r.Path[len(r.Path)-1] != st {
		p := m.planner.FindPath(r.Pos, st, occWithout(occ, r.Pos))
		if p == nil {
			r.setError("no path to charging station")
			return
		}
		r.Path = p
		r.Status = StatusEnRoute
	}
	if len(r.Path) > 0 {
		r.moveAlongPath(m.tune.BatteryMoveCost)
		if r.IsDead() && r.HasTask() {
			m.failActiveTask(r.Task, "robot battery depleted", now, entry)
			r.Task = nil
		}
	}
}

func (m *Manager) advanceWithJob(r *Robot, occ map[grid.Pos]bool, now time.Time, entry *TickEntry) {
	j := r.Job

	switch r.Status {
	case StatusReturningToStart:
		if len(r.Path) > 0 {
			reached := r.moveAlongPath(m.tune.BatteryMoveCost)
			if r.IsDead() {
				m.failRobotJob(r, j, "battery depleted before return", now, entry)
				return
			}
			if reached {
				r.completeJob()
				m.jobs.complete(j, now)
				m.recordJobEvent(entry, j, "", now)
				m.log.Printf("robot %d returned to start, job %s complete", r.ID, j.ID)
			}
			return
		}
		home, ok := m.grid.StartingStation()
		if !ok {
			// Nowhere to return to: the delivery itself is done.
			r.completeJob()
			m.jobs.complete(j, now)
			m.recordJobEvent(entry, j, "", now)
			return
		}
		p := m.planner.FindPath(r.Pos, home, occWithout(occ, r.Pos))
		switch {
		case p == nil:
			m.failRobotJob(r, j, "no path back to start", now, entry)
		case len(p) == 0:
			r.completeJob()
			m.jobs.complete(j, now)
			m.recordJobEvent(entry, j, "", now)
		default:
			r.Path = p
		}

	case StatusPickingUp:
		if r.ActionStart.IsZero() {
			r.ActionStart = now
			return
		}
		if now.Sub(r.ActionStart) < m.tune.Dwell() {
			return
		}
		r.completePickup()
		j.startTransit()
		p := m.planner.FindPath(r.Pos, j.Delivery, occWithout(occ, r.Pos))
		switch {
		case p == nil:
			m.failRobotJob(r, j, "cannot reach delivery location", now, entry)
		case len(p) == 0:
			r.startDropoff()
			j.startDropoff(now)
		default:
			r.Path = p
			r.Status = StatusEnRoute
		}

	case StatusDroppingOff:
		if r.ActionStart.IsZero() {
			r.ActionStart = now
			return
		}
		if now.Sub(r.ActionStart) < m.tune.Dwell() {
			return
		}
		r.completeDropoff()
		home, ok := m.grid.StartingStation()
		if !ok {
			r.completeJob()
			m.jobs.complete(j, now)
			m.recordJobEvent(entry, j, "", now)
			return
		}
		p := m.planner.FindPath(r.Pos, home, occWithout(occ, r.Pos))
		switch {
		case p == nil:
			m.failRobotJob(r, j, "no path back to start", now, entry)
		case len(p) == 0:
			r.completeJob()
			m.jobs.complete(j, now)
			m.recordJobEvent(entry, j, "", now)
		default:
			r.Path = p
		}

	default:
		// En route on the pickup or delivery leg.
		if len(r.Path) > 0 {
			reached := r.moveAlongPath(m.tune.BatteryMoveCost)
			if r.IsDead() {
				m.failRobotJob(r, j, "battery depleted in transit", now, entry)
				return
			}
			if reached {
				m.arriveOnJobLeg(r, j, now)
			}
			return
		}
		goal := j.Pickup
		legName := "pickup"
		if r.PickupComplete {
			goal = j.Delivery
			legName = "delivery"
		}
		p := m.planner.FindPath(r.Pos, goal, occWithout(occ, r.Pos))
		switch {
		case p == nil:
			m.failRobotJob(r, j, "lost path to "+legName, now, entry)
		case len(p) == 0:
			m.arriveOnJobLeg(r, j, now)
		default:
			r.Path = p
		}
	}
}

func (m *Manager) arriveOnJobLeg(r *Robot, j *Job, now time.Time) {
	if !r.PickupComplete {
		r.startPickup()
		j.startPickup(now)
	} else if !r.DropoffComplete {
		r.startDropoff()
		j.startDropoff(now)
	}
}

func (m *Manager) failRobotJob(r *Robot, j *Job, reason string, now time.Time, entry *TickEntry) {
	m.jobs.fail(j, now)
	m.recordJobEvent(entry, j, reason, now)
	r.clearJob()
	if !r.IsDead() {
		r.setError(reason)
	}
	m.log.Printf("job %s failed: %s (robot %d)", j.ID, reason, r.ID)
}

func (m *Manager) advanceWithTask(r *Robot, occ map[grid.Pos]bool, now time.Time, entry *TickEntry) {
	t := r.Task

	if len(r.Path) > 0 {
		reached := r.moveAlongPath(m.tune.BatteryMoveCost)
		if r.IsDead() {
			m.failActiveTask(t, "robot battery depleted", now, entry)
			r.Task = nil
			return
		}
		if reached {
			r.Status = StatusWorking
		}
	} else if r.Pos == t.Target {
		r.Status = StatusWorking
	} else {
		p := m.planner.FindPath(r.Pos, t.Target, occWithout(occ, r.Pos))
		if p == nil {
			m.failActiveTask(t, "no path to target", now, entry)
			r.clearTask()
			r.setError("no path to task target")
			return
		}
		if len(p) == 0 {
			r.Status = StatusWorking
		} else {
			r.Path = p
			r.Status = StatusEnRoute
		}
	}

	if r.Status == StatusWorking {
		t.Status = TaskInProgress
		t.complete(now)
		m.activeTasks = removeTask(m.activeTasks, t)
		m.completedTasks = append(m.completedTasks, t)
		m.recordTaskEvent(entry, t, "", now)
		r.completeTask()
		m.log.Printf("robot %d completed %s task %s", r.ID, t.Type, t.ID)
	}
}

// failActiveTask moves an active task into failed history.
func (m *Manager) failActiveTask(t *Task, reason string, now time.Time, entry *TickEntry) {
	t.fail(reason, now)
	m.activeTasks = removeTask(m.activeTasks, t)
	m.failedTasks = append(m.failedTasks, t)
	m.recordTaskEvent(entry, t, reason, now)
	m.log.Printf("task %s failed: %s", t.ID, reason)
}

// advanceIdle drifts a riderless idle robot home.
func (m *Manager) advanceIdle(r *Robot, occ map[grid.Pos]bool) {
	home, ok := m.grid.StartingStation()
	if !ok {
		return
	}
	if len(r.Path) > 0 {
		if r.moveAlongPath(m.tune.BatteryMoveCost) && !r.IsDead() {
			// A path ending on a charging station is a charge order:
			// park and charge so any suspended job gets resumed.
			if m.grid.CellAt(r.Pos.X, r.Pos.Y) == grid.CellChargingStation &&
				(r.InterruptedJob != nil || r.Battery < 100) {
				r.Status = StatusCharging
			} else {
				r.Status = StatusIdle
			}
		}
		return
	}
	if r.Pos == home {
		if r.Status == StatusReturningToStart {
			r.Status = StatusIdle
		}
		return
	}
	if r.Status != StatusIdle && r.Status != StatusReturningToStart {
		return
	}
	p := m.planner.FindPath(r.Pos, home, occWithout(occ, r.Pos))
	if p == nil || len(p) == 0 {
		return
	}
	r.Path = p
	r.Status = StatusReturningToStart
}

func (m *Manager) addLowBatteryAlert(r *Robot, now time.Time, entry *TickEntry) {
	if last, ok := m.lastAlertAt[r.ID]; ok && now.Sub(last) < m.tune.AlertSuppress() {
		return
	}
	m.lastAlertAt[r.ID] = now
	a := AlertView{RobotID: r.ID, Battery: r.Battery, Position: r.Pos, Timestamp: now}
	m.alerts = append(m.alerts, a)
	entry.Alerts = append(entry.Alerts, AlertRecord{
		Tick: m.tick, RobotID: r.ID, Battery: r.Battery, X: r.Pos.X, Y: r.Pos.Y, At: now,
	})
	m.log.Printf("low battery alert: robot %d at %d%%", r.ID, r.Battery)
}

func (m *Manager) recordJobEvent(entry *TickEntry, j *Job, reason string, now time.Time) {
	entry.Jobs = append(entry.Jobs, JobRecord{
		Tick:      m.tick,
		JobID:     j.ID,
		Status:    j.Status,
		RobotID:   j.AssignedRobotID,
		Priority:  j.Priority,
		Reason:    reason,
		DurationS: j.Duration().Seconds(),
		At:        now,
	})
}

func (m *Manager) recordTaskEvent(entry *TickEntry, t *Task, reason string, now time.Time) {
	entry.Tasks = append(entry.Tasks, TaskRecord{
		Tick:    m.tick,
		TaskID:  t.ID,
		Type:    t.Type,
		Status:  t.Status,
		RobotID: t.RobotID,
		Reason:  reason,
		Steps:   t.ActualSteps,
		At:      now,
	})
}

func removeTask(lst []*Task, t *Task) []*Task {
	for i, p := range lst {
		if p == t {
			return append(lst[:i], lst[i+1:]...)
		}
	}
	return lst
}

func (m *Manager) robotByID(id int) *Robot {
	for _, r := range m.robots {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (m *Manager) statusCountsLocked() map[Status]int {
	counts := map[Status]int{}
	for _, r := range m.robots {
		counts[r.Status]++
	}
	return counts
}
