package fleet

import "time"

// TickLogger receives one entry per completed tick. Implemented in
// internal/persistence/log; may be nil.
type TickLogger interface {
	WriteTick(entry TickEntry) error
}

// HistoryRecorder receives terminal job/task states and battery alerts for
// out-of-band indexing. Implemented in internal/persistence/indexdb; may
// be nil. Calls must not block the tick.
type HistoryRecorder interface {
	RecordJob(rec JobRecord) error
	RecordTask(rec TaskRecord) error
	RecordAlert(rec AlertRecord) error
}

type TickEntry struct {
	Tick         uint64         `json:"tick"`
	DurationMs   float64        `json:"duration_ms"`
	StatusCounts map[Status]int `json:"status_counts"`
	Jobs         []JobRecord    `json:"jobs,omitempty"`
	Tasks        []TaskRecord   `json:"tasks,omitempty"`
	Alerts       []AlertRecord  `json:"alerts,omitempty"`
}

type JobRecord struct {
	Tick      uint64    `json:"tick"`
	JobID     string    `json:"job_id"`
	Status    JobStatus `json:"status"`
	RobotID   int       `json:"robot_id,omitempty"`
	Priority  int       `json:"priority"`
	Reason    string    `json:"reason,omitempty"`
	DurationS float64   `json:"duration_s,omitempty"`
	At        time.Time `json:"at"`
}

type TaskRecord struct {
	Tick    uint64     `json:"tick"`
	TaskID  string     `json:"task_id"`
	Type    TaskType   `json:"type"`
	Status  TaskStatus `json:"status"`
	RobotID int        `json:"robot_id"`
	Reason  string     `json:"reason,omitempty"`
	Steps   int        `json:"steps"`
	At      time.Time  `json:"at"`
}

type AlertRecord struct {
	Tick    uint64    `json:"tick"`
	RobotID int       `json:"robot_id"`
	Battery int       `json:"battery"`
	X       int       `json:"x"`
	Y       int       `json:"y"`
	At      time.Time `json:"at"`
}
