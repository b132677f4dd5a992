// Package httpapi exposes the fleet control surface over HTTP/JSON.
// Request bodies are validated against JSON Schemas before they reach the
// fleet manager; manager errors map onto status codes by sentinel.
package httpapi

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"warefleet.io/internal/sim/fleet"
	"warefleet.io/internal/sim/grid"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

// History is the optional job/task/alert history backend. May be nil.
type History interface {
	JobHistory(limit int) ([]fleet.JobRecord, error)
	TaskHistory(limit int) ([]fleet.TaskRecord, error)
	AlertHistory(limit int) ([]fleet.AlertRecord, error)
}

type Server struct {
	fleet   *fleet.Manager
	history History
	log     *log.Logger

	schemas map[string]*jsonschema.Schema
}

func NewServer(m *fleet.Manager, hist History, logger *log.Logger) (*Server, error) {
	s := &Server{
		fleet:   m,
		history: hist,
		log:     logger,
		schemas: map[string]*jsonschema.Schema{},
	}
	for _, name := range []string{
		"assign_task",
		"job_add",
		"environment_update",
		"robot_charge",
		"continuous_start",
	} {
		file := "schemas/" + name + ".schema.json"
		raw, err := schemaFS.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", file, err)
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(file, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", file, err)
		}
		sch, err := c.Compile(file)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", file, err)
		}
		s.schemas[name] = sch
	}
	return s, nil
}

// Register wires every API route onto mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /robots", s.handleRobots)
	mux.HandleFunc("GET /robots/{id}", s.handleRobot)
	mux.HandleFunc("GET /fleet/summary", s.handleSummary)
	mux.HandleFunc("GET /environment", s.handleEnvironment)
	mux.HandleFunc("POST /environment/update", s.handleEnvironmentUpdate)
	mux.HandleFunc("POST /reset", s.handleReset)
	mux.HandleFunc("POST /assign_task", s.handleAssignTask)
	mux.HandleFunc("GET /tasks", s.handleTasks)
	mux.HandleFunc("POST /tasks/{id}/cancel", s.handleCancelTask)
	mux.HandleFunc("POST /jobs/add", s.handleAddJob)
	mux.HandleFunc("GET /jobs", s.handleJobs)
	mux.HandleFunc("GET /jobs/statistics", s.handleJobStatistics)
	mux.HandleFunc("DELETE /jobs/{id}", s.handleCancelJob)
	mux.HandleFunc("POST /robot/charge", s.handleForceCharge)
	mux.HandleFunc("POST /continuous/start", s.handleContinuousStart)
	mux.HandleFunc("POST /continuous/stop", s.handleContinuousStop)
	mux.HandleFunc("GET /continuous/status", s.handleContinuousStatus)
	mux.HandleFunc("GET /history/jobs", s.handleJobHistory)
	mux.HandleFunc("GET /history/tasks", s.handleTaskHistory)
	mux.HandleFunc("GET /history/alerts", s.handleAlertHistory)
}

func writeJSON(rw http.ResponseWriter, code int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	_ = json.NewEncoder(rw).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeErr maps manager sentinels onto HTTP status codes.
func (s *Server) writeErr(rw http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, fleet.ErrValidation):
		code = http.StatusBadRequest
	case errors.Is(err, fleet.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, fleet.ErrConflict):
		code = http.StatusConflict
	}
	if code == http.StatusInternalServerError {
		s.log.Printf("internal error: %v", err)
	}
	writeJSON(rw, code, errorBody{Error: err.Error()})
}

// decodeBody validates the request body against the named schema and then
// unmarshals it into dst.
func (s *Server) decodeBody(r *http.Request, schema string, dst any) error {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", fleet.ErrValidation, err)
	}
	var probe any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return fmt.Errorf("%w: invalid json: %v", fleet.ErrValidation, err)
	}
	if sch := s.schemas[schema]; sch != nil {
		if err := sch.Validate(probe); err != nil {
			return fmt.Errorf("%w: %v", fleet.ErrValidation, err)
		}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", fleet.ErrValidation, err)
	}
	return nil
}

func historyLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return 50
}

func (s *Server) handleRoot(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"name":    "warefleet",
		"version": "1.0",
		"endpoints": []string{
			"/robots", "/robots/{id}", "/fleet/summary",
			"/environment", "/environment/update", "/reset",
			"/assign_task", "/tasks", "/tasks/{id}/cancel",
			"/jobs/add", "/jobs", "/jobs/{id}", "/jobs/statistics",
			"/robot/charge",
			"/continuous/start", "/continuous/stop", "/continuous/status",
			"/history/jobs", "/history/tasks", "/history/alerts",
		},
	})
}

func (s *Server) handleRobots(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{"robots": s.fleet.Robots()})
}

func (s *Server) handleRobot(rw http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.writeErr(rw, fmt.Errorf("%w: robot id must be an integer", fleet.ErrValidation))
		return
	}
	v, err := s.fleet.Robot(id)
	if err != nil {
		s.writeErr(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, v)
}

func (s *Server) handleSummary(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, s.fleet.Summary())
}

func (s *Server) handleEnvironment(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, s.fleet.Environment())
}

type environmentUpdateRequest struct {
	Action   string `json:"action"`
	CellType string `json:"cell_type"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
}

func (s *Server) handleEnvironmentUpdate(rw http.ResponseWriter, r *http.Request) {
	var req environmentUpdateRequest
	if err := s.decodeBody(r, "environment_update", &req); err != nil {
		s.writeErr(rw, err)
		return
	}
	layout, ok, err := s.fleet.UpdateEnvironment(req.Action, req.CellType, req.X, req.Y)
	if err != nil {
		s.writeErr(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"applied": ok, "environment": layout})
}

func (s *Server) handleReset(rw http.ResponseWriter, r *http.Request) {
	s.fleet.Reset()
	writeJSON(rw, http.StatusOK, map[string]any{"status": "reset", "robots": s.fleet.Robots()})
}

type assignTaskRequest struct {
	RobotID  int    `json:"robot_id"`
	TaskType string `json:"task_type"`
	TargetX  int    `json:"target_x"`
	TargetY  int    `json:"target_y"`
	Priority int    `json:"priority"`
}

func (s *Server) handleAssignTask(rw http.ResponseWriter, r *http.Request) {
	var req assignTaskRequest
	if err := s.decodeBody(r, "assign_task", &req); err != nil {
		s.writeErr(rw, err)
		return
	}
	if req.Priority == 0 {
		req.Priority = 5
	}
	v, err := s.fleet.AssignTask(req.RobotID, req.TaskType, req.TargetX, req.TargetY, req.Priority)
	if err != nil {
		s.writeErr(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, v)
}

func (s *Server) handleTasks(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, s.fleet.Tasks())
}

func (s *Server) handleCancelTask(rw http.ResponseWriter, r *http.Request) {
	v, err := s.fleet.CancelTask(r.PathValue("id"))
	if err != nil {
		s.writeErr(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, v)
}

type addJobRequest struct {
	PickupX   int  `json:"pickup_x"`
	PickupY   int  `json:"pickup_y"`
	DeliveryX *int `json:"delivery_x"`
	DeliveryY *int `json:"delivery_y"`
	Priority  int  `json:"priority"`
}

func (s *Server) handleAddJob(rw http.ResponseWriter, r *http.Request) {
	var req addJobRequest
	if err := s.decodeBody(r, "job_add", &req); err != nil {
		s.writeErr(rw, err)
		return
	}
	if req.Priority == 0 {
		req.Priority = 5
	}
	var delivery *grid.Pos
	if req.DeliveryX != nil && req.DeliveryY != nil {
		delivery = &grid.Pos{X: *req.DeliveryX, Y: *req.DeliveryY}
	}
	v, err := s.fleet.AddJob(grid.Pos{X: req.PickupX, Y: req.PickupY}, delivery, req.Priority)
	if err != nil {
		s.writeErr(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, v)
}

func (s *Server) handleJobs(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, s.fleet.Jobs())
}

func (s *Server) handleJobStatistics(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, s.fleet.JobStatistics())
}

func (s *Server) handleCancelJob(rw http.ResponseWriter, r *http.Request) {
	v, err := s.fleet.CancelJob(r.PathValue("id"))
	if err != nil {
		s.writeErr(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, v)
}

type forceChargeRequest struct {
	RobotID int `json:"robot_id"`
}

func (s *Server) handleForceCharge(rw http.ResponseWriter, r *http.Request) {
	var req forceChargeRequest
	if err := s.decodeBody(r, "robot_charge", &req); err != nil {
		s.writeErr(rw, err)
		return
	}
	v, err := s.fleet.ForceCharge(req.RobotID)
	if err != nil {
		s.writeErr(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, v)
}

type continuousStartRequest struct {
	MaxJobs   int `json:"max_jobs"`
	IntervalS int `json:"interval_s"`
}

func (s *Server) handleContinuousStart(rw http.ResponseWriter, r *http.Request) {
	var req continuousStartRequest
	if err := s.decodeBody(r, "continuous_start", &req); err != nil {
		s.writeErr(rw, err)
		return
	}
	v, err := s.fleet.SetContinuous(true, req.MaxJobs, req.IntervalS)
	if err != nil {
		s.writeErr(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, v)
}

func (s *Server) handleContinuousStop(rw http.ResponseWriter, r *http.Request) {
	v, err := s.fleet.SetContinuous(false, 0, 0)
	if err != nil {
		s.writeErr(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, v)
}

func (s *Server) handleContinuousStatus(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, s.fleet.ContinuousStatus())
}

func (s *Server) handleJobHistory(rw http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(rw, http.StatusOK, map[string]any{"jobs": []fleet.JobRecord{}})
		return
	}
	recs, err := s.history.JobHistory(historyLimit(r))
	if err != nil {
		s.writeErr(rw, err)
		return
	}
	if recs == nil {
		recs = []fleet.JobRecord{}
	}
	writeJSON(rw, http.StatusOK, map[string]any{"jobs": recs})
}

func (s *Server) handleTaskHistory(rw http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(rw, http.StatusOK, map[string]any{"tasks": []fleet.TaskRecord{}})
		return
	}
	recs, err := s.history.TaskHistory(historyLimit(r))
	if err != nil {
		s.writeErr(rw, err)
		return
	}
	if recs == nil {
		recs = []fleet.TaskRecord{}
	}
	writeJSON(rw, http.StatusOK, map[string]any{"tasks": recs})
}

func (s *Server) handleAlertHistory(rw http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(rw, http.StatusOK, map[string]any{"alerts": []fleet.AlertRecord{}})
		return
	}
	recs, err := s.history.AlertHistory(historyLimit(r))
	if err != nil {
		s.writeErr(rw, err)
		return
	}
	if recs == nil {
		recs = []fleet.AlertRecord{}
	}
	writeJSON(rw, http.StatusOK, map[string]any{"alerts": recs})
}
