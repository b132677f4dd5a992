package fleet

import (
	"container/heap"
	"errors"
	"fmt"
	"time"

	"warefleet.io/internal/sim/grid"
)

var (
	// ErrValidation covers bad coordinates, unknown cell/task types and
	// malformed parameters.
	ErrValidation = errors.New("validation error")
	// ErrNotFound covers unknown robot/task/job ids.
	ErrNotFound = errors.New("not found")
	// ErrConflict covers states that reject the operation: a robot that
	// already carries a task, a job with no resolvable delivery zone.
	ErrConflict = errors.New("conflict")
)

// pendingQueue orders jobs by descending priority, FIFO within a priority.
type pendingQueue []*Job

func (q pendingQueue) Len() int { return len(q) }
func (q pendingQueue) Less(i, j int) bool {
	if q[i].Priority != q[j].Priority {
		return q[i].Priority > q[j].Priority
	}
	return q[i].seq < q[j].seq
}
func (q pendingQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *pendingQueue) Push(x any)   { *q = append(*q, x.(*Job)) }
func (q *pendingQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return it
}

// jobManager owns the delivery backlog: a priority heap of pending jobs
// plus an id-indexed map across every list, kept in sync by the single
// mutating methods below. Not safe for concurrent use; the fleet manager
// serializes access.
type jobManager struct {
	env *grid.Grid

	pending   pendingQueue
	active    []*Job
	completed []*Job
	failed    []*Job
	cancelled []*Job

	byID    map[string]*Job
	nextSeq uint64
}

func newJobManager(env *grid.Grid) *jobManager {
	return &jobManager{env: env, byID: map[string]*Job{}}
}

// add enqueues a job. A nil delivery resolves to the nearest delivery zone
// to the pickup; with no zones registered the job is rejected.
func (m *jobManager) add(pickup grid.Pos, delivery *grid.Pos, priority int, now time.Time) (*Job, error) {
	var dst grid.Pos
	if delivery != nil {
		dst = *delivery
	} else {
		var ok bool
		dst, ok = m.env.NearestDeliveryZone(pickup.X, pickup.Y)
		if !ok {
			return nil, fmt.Errorf("%w: no delivery zones available", ErrValidation)
		}
	}
	j := newJob(pickup, dst, priority, now)
	m.nextSeq++
	j.seq = m.nextSeq
	heap.Push(&m.pending, j)
	m.byID[j.ID] = j
	return j, nil
}

// next peeks the highest-priority pending job without removing it.
func (m *jobManager) next() *Job {
	if len(m.pending) == 0 {
		return nil
	}
	return m.pending[0]
}

func (m *jobManager) removePending(j *Job) {
	for i, p := range m.pending {
		if p == j {
			heap.Remove(&m.pending, i)
			return
		}
	}
}

func (m *jobManager) assign(j *Job, robotID int, now time.Time) {
	m.removePending(j)
	j.assignTo(robotID, now)
	m.active = append(m.active, j)
}

func removeJob(lst []*Job, j *Job) []*Job {
	for i, p := range lst {
		if p == j {
			return append(lst[:i], lst[i+1:]...)
		}
	}
	return lst
}

func (m *jobManager) complete(j *Job, now time.Time) {
	j.complete(now)
	m.active = removeJob(m.active, j)
	m.completed = append(m.completed, j)
}

func (m *jobManager) fail(j *Job, now time.Time) {
	j.fail(now)
	m.active = removeJob(m.active, j)
	m.failed = append(m.failed, j)
}

// cancel moves a pending or active job to the cancelled list. Terminal
// jobs cannot be cancelled.
func (m *jobManager) cancel(id string, now time.Time) (*Job, bool) {
	j, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	switch j.Status {
	case JobPending:
		m.removePending(j)
	case JobAssigned, JobPickingUp, JobInTransit, JobDroppingOff:
		m.active = removeJob(m.active, j)
	default:
		return nil, false
	}
	j.cancel(now)
	m.cancelled = append(m.cancelled, j)
	return j, true
}

func (m *jobManager) robotJob(robotID int) *Job {
	for _, j := range m.active {
		if j.AssignedRobotID == robotID {
			return j
		}
	}
	return nil
}

func (m *jobManager) reset() {
	m.pending = nil
	m.active = nil
	m.completed = nil
	m.failed = nil
	m.cancelled = nil
	m.byID = map[string]*Job{}
}

// sortedPending returns the pending jobs in serve order without disturbing
// the heap.
func (m *jobManager) sortedPending() []*Job {
	cp := make(pendingQueue, len(m.pending))
	copy(cp, m.pending)
	out := make([]*Job, 0, len(cp))
	for cp.Len() > 0 {
		out = append(out, heap.Pop(&cp).(*Job))
	}
	return out
}

// JobStats summarizes queue health for the statistics operation.
type JobStats struct {
	TotalJobs       int     `json:"total_jobs"`
	Pending         int     `json:"pending"`
	Active          int     `json:"active"`
	Completed       int     `json:"completed"`
	Failed          int     `json:"failed"`
	Cancelled       int     `json:"cancelled"`
	SuccessRate     float64 `json:"success_rate"`
	AverageDuration float64 `json:"average_duration_s"`
}

func (m *jobManager) stats() JobStats {
	s := JobStats{
		Pending:   len(m.pending),
		Active:    len(m.active),
		Completed: len(m.completed),
		Failed:    len(m.failed),
		Cancelled: len(m.cancelled),
	}
	s.TotalJobs = s.Pending + s.Active + s.Completed + s.Failed
	if s.TotalJobs > 0 {
		s.SuccessRate = float64(s.Completed) / float64(s.TotalJobs) * 100
	}
	if len(m.completed) > 0 {
		var sum float64
		var n int
		for _, j := range m.completed {
			if d := j.Duration(); d > 0 {
				sum += d.Seconds()
				n++
			}
		}
		if n > 0 {
			s.AverageDuration = sum / float64(n)
		}
	}
	return s
}
