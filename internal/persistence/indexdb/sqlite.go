// Package indexdb keeps a queryable history of terminal job/task states
// and battery alerts in SQLite. Writes are funneled through a single
// goroutine so the fleet tick never blocks on the database.
package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"warefleet.io/internal/sim/fleet"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqJob reqKind = iota + 1
	reqTask
	reqAlert
	reqSync
)

type req struct {
	kind reqKind

	job   fleet.JobRecord
	task  fleet.TaskRecord
	alert fleet.AlertRecord
	done  chan struct{}
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// Buffered so bursty ticks (many terminal events at once) never
		// stall the sim.
		ch: make(chan req, 16384),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS jobs (
			job_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			status TEXT NOT NULL,
			robot_id INTEGER NOT NULL,
			priority INTEGER NOT NULL,
			reason TEXT,
			duration_s REAL NOT NULL,
			at TEXT NOT NULL,
			PRIMARY KEY (job_id, tick)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status_tick ON jobs(status, tick);`,
		`CREATE TABLE IF NOT EXISTS tasks (
			task_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			robot_id INTEGER NOT NULL,
			reason TEXT,
			steps INTEGER NOT NULL,
			at TEXT NOT NULL,
			PRIMARY KEY (task_id, tick)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_robot_tick ON tasks(robot_id, tick);`,
		`CREATE TABLE IF NOT EXISTS alerts (
			tick INTEGER NOT NULL,
			robot_id INTEGER NOT NULL,
			battery INTEGER NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			at TEXT NOT NULL,
			PRIMARY KEY (tick, robot_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_robot_tick ON alerts(robot_id, tick);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	if _, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RecordJob enqueues a terminal job state. Never blocks: the record is
// dropped when the indexer falls behind; the JSONL tick log remains the
// source of truth.
func (s *SQLiteIndex) RecordJob(rec fleet.JobRecord) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqJob, job: rec}:
	default:
	}
	return nil
}

func (s *SQLiteIndex) RecordTask(rec fleet.TaskRecord) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTask, task: rec}:
	default:
	}
	return nil
}

func (s *SQLiteIndex) RecordAlert(rec fleet.AlertRecord) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqAlert, alert: rec}:
	default:
	}
	return nil
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertJob, _ := s.db.Prepare(`INSERT OR REPLACE INTO jobs(job_id,tick,status,robot_id,priority,reason,duration_s,at) VALUES(?,?,?,?,?,?,?,?)`)
	insertTask, _ := s.db.Prepare(`INSERT OR REPLACE INTO tasks(task_id,tick,type,status,robot_id,reason,steps,at) VALUES(?,?,?,?,?,?,?,?)`)
	insertAlert, _ := s.db.Prepare(`INSERT OR REPLACE INTO alerts(tick,robot_id,battery,x,y,at) VALUES(?,?,?,?,?,?)`)
	defer func() {
		if insertJob != nil {
			_ = insertJob.Close()
		}
		if insertTask != nil {
			_ = insertTask.Close()
		}
		if insertAlert != nil {
			_ = insertAlert.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	// Commit on idle too: with a single connection an open transaction
	// would otherwise block readers until the next record arrives.
	idle := time.NewTicker(commitMaxWait)
	defer idle.Stop()

	for {
		var r req
		var ok bool
		select {
		case r, ok = <-s.ch:
			if !ok {
				commit()
				return
			}
		case <-idle.C:
			commit()
			continue
		}
		if r.kind == reqSync {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqJob:
			j := r.job
			if insertJob != nil {
				if _, err := tx.Stmt(insertJob).Exec(
					j.JobID,
					int64(j.Tick),
					string(j.Status),
					j.RobotID,
					j.Priority,
					j.Reason,
					j.DurationS,
					j.At.UTC().Format(time.RFC3339Nano),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqTask:
			t := r.task
			if insertTask != nil {
				if _, err := tx.Stmt(insertTask).Exec(
					t.TaskID,
					int64(t.Tick),
					string(t.Type),
					string(t.Status),
					t.RobotID,
					t.Reason,
					t.Steps,
					t.At.UTC().Format(time.RFC3339Nano),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqAlert:
			a := r.alert
			if insertAlert != nil {
				if _, err := tx.Stmt(insertAlert).Exec(
					int64(a.Tick),
					a.RobotID,
					a.Battery,
					a.X,
					a.Y,
					a.At.UTC().Format(time.RFC3339Nano),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		flushIfNeeded()
	}
}

// Flush blocks until everything enqueued before the call has been
// committed.
func (s *SQLiteIndex) Flush() {
	if s == nil || s.closed.Load() {
		return
	}
	done := make(chan struct{})
	s.ch <- req{kind: reqSync, done: done}
	<-done
}

// JobHistory returns the most recent terminal job records, newest first.
func (s *SQLiteIndex) JobHistory(limit int) ([]fleet.JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT job_id,tick,status,robot_id,priority,COALESCE(reason,''),duration_s,at FROM jobs ORDER BY tick DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []fleet.JobRecord
	for rows.Next() {
		var rec fleet.JobRecord
		var tick int64
		var at string
		if err := rows.Scan(&rec.JobID, &tick, &rec.Status, &rec.RobotID, &rec.Priority, &rec.Reason, &rec.DurationS, &at); err != nil {
			return nil, err
		}
		rec.Tick = uint64(tick)
		rec.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// TaskHistory returns the most recent terminal task records, newest first.
func (s *SQLiteIndex) TaskHistory(limit int) ([]fleet.TaskRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT task_id,tick,type,status,robot_id,COALESCE(reason,''),steps,at FROM tasks ORDER BY tick DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []fleet.TaskRecord
	for rows.Next() {
		var rec fleet.TaskRecord
		var tick int64
		var at string
		if err := rows.Scan(&rec.TaskID, &tick, &rec.Type, &rec.Status, &rec.RobotID, &rec.Reason, &rec.Steps, &at); err != nil {
			return nil, err
		}
		rec.Tick = uint64(tick)
		rec.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AlertHistory returns the most recent battery alerts, newest first.
func (s *SQLiteIndex) AlertHistory(limit int) ([]fleet.AlertRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT tick,robot_id,battery,x,y,at FROM alerts ORDER BY tick DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []fleet.AlertRecord
	for rows.Next() {
		var rec fleet.AlertRecord
		var tick int64
		var at string
		if err := rows.Scan(&tick, &rec.RobotID, &rec.Battery, &rec.X, &rec.Y, &at); err != nil {
			return nil, err
		}
		rec.Tick = uint64(tick)
		rec.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, rec)
	}
	return out, rows.Err()
}
