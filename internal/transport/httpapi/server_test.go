package httpapi

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"warefleet.io/internal/sim/fleet"
	"warefleet.io/internal/sim/grid"
	"warefleet.io/internal/sim/tuning"
)

func newTestServer(t *testing.T) (*httptest.Server, *fleet.Manager) {
	t.Helper()
	g := grid.NewEmpty(12, 12)
	g.AddFeature(grid.CellStartingStation, 6, 6)
	g.AddFeature(grid.CellChargingStation, 1, 1)
	g.AddFeature(grid.CellPickupZone, 2, 6)
	g.AddFeature(grid.CellDeliveryZone, 10, 6)

	tune := tuning.Defaults()
	tune.NumRobots = 2
	logger := log.New(io.Discard, "", 0)
	m := fleet.NewManager(g, tune, 1, logger)

	api, err := NewServer(m, nil, logger)
	if err != nil {
		t.Fatalf("new api server: %v", err)
	}
	mux := http.NewServeMux()
	api.Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, m
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var decoded map[string]any
	_ = json.Unmarshal(raw, &decoded)
	return resp, decoded
}

func TestRootAndRobots(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("root status = %d", resp.StatusCode)
	}
	if body["name"] != "warefleet" {
		t.Fatalf("root body = %v", body)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/robots", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("robots status = %d", resp.StatusCode)
	}
	robots, ok := body["robots"].([]any)
	if !ok || len(robots) != 2 {
		t.Fatalf("robots = %v", body["robots"])
	}
}

func TestRobotByID(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/robots/1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["id"] != float64(1) || body["battery"] != float64(100) {
		t.Fatalf("robot = %v", body)
	}

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/robots/42", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown robot status = %d, want 404", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/robots/abc", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad id status = %d, want 400", resp.StatusCode)
	}
}

func TestAssignTaskEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/assign_task",
		`{"robot_id":1,"task_type":"move","target_x":3,"target_y":3,"priority":7}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body=%v", resp.StatusCode, body)
	}
	if body["task_id"] != "T0001" || body["status"] != "en_route" {
		t.Fatalf("task = %v", body)
	}

	// Schema rejects the unknown task type before the manager sees it.
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/assign_task",
		`{"robot_id":1,"task_type":"teleport","target_x":3,"target_y":3}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad type status = %d, want 400", resp.StatusCode)
	}

	// Robot 1 is busy now.
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/assign_task",
		`{"robot_id":1,"task_type":"move","target_x":4,"target_y":4}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("busy robot status = %d, want 409", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/assign_task", `{not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d, want 400", resp.StatusCode)
	}
}

func TestJobEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/jobs/add",
		`{"pickup_x":2,"pickup_y":6,"priority":8}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add status = %d body=%v", resp.StatusCode, body)
	}
	jobID, _ := body["job_id"].(string)
	if len(jobID) != 8 {
		t.Fatalf("job id = %q, want 8 chars", jobID)
	}
	if body["status"] != "pending" || body["priority"] != float64(8) {
		t.Fatalf("job = %v", body)
	}

	// Out-of-range priority is accepted and clamped, not rejected.
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/jobs/add",
		`{"pickup_x":2,"pickup_y":6,"priority":99}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("clamped priority status = %d body=%v", resp.StatusCode, body)
	}
	if body["priority"] != float64(10) {
		t.Fatalf("priority = %v, want clamp to 10", body["priority"])
	}

	// delivery_x without delivery_y violates the schema.
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/jobs/add",
		`{"pickup_x":2,"pickup_y":6,"delivery_x":10}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("half delivery status = %d, want 400", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/jobs", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	if pending, _ := body["pending"].([]any); len(pending) != 2 {
		t.Fatalf("pending = %v", body["pending"])
	}

	resp, body = doJSON(t, http.MethodDelete, ts.URL+"/jobs/"+jobID, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d", resp.StatusCode)
	}
	if body["status"] != "cancelled" {
		t.Fatalf("cancelled job = %v", body)
	}
	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/jobs/"+jobID, "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("double cancel status = %d, want 409", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/jobs/zzzz9999", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown job status = %d, want 404", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/jobs/statistics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d", resp.StatusCode)
	}
	if body["cancelled"] != float64(1) {
		t.Fatalf("stats = %v", body)
	}
}

func TestEnvironmentUpdateEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/environment/update",
		`{"action":"add","cell_type":"obstacle","x":0,"y":0}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add status = %d body=%v", resp.StatusCode, body)
	}
	if body["applied"] != true {
		t.Fatalf("apply = %v", body)
	}

	// Occupied cell: accepted request, rejected change.
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/environment/update",
		`{"action":"add","cell_type":"pickup_zone","x":0,"y":0}`)
	if resp.StatusCode != http.StatusOK || body["applied"] != false {
		t.Fatalf("occupied cell: status=%d applied=%v", resp.StatusCode, body["applied"])
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/environment/update",
		`{"action":"paint","cell_type":"obstacle","x":0,"y":0}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad action status = %d, want 400", resp.StatusCode)
	}
}

func TestForceChargeAndContinuousEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/robot/charge", `{"robot_id":1}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("charge status = %d body=%v", resp.StatusCode, body)
	}
	station, _ := body["charging_station"].(map[string]any)
	if station["x"] != float64(1) || station["y"] != float64(1) {
		t.Fatalf("station = %v", station)
	}
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/robot/charge", `{"robot_id":9}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown robot status = %d, want 404", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/continuous/start", `{"max_jobs":25,"interval_s":5}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("out-of-range max_jobs status = %d, want 400", resp.StatusCode)
	}
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/continuous/start", `{"max_jobs":3,"interval_s":5}`)
	if resp.StatusCode != http.StatusOK || body["enabled"] != true {
		t.Fatalf("start: status=%d body=%v", resp.StatusCode, body)
	}
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/continuous/status", "")
	if resp.StatusCode != http.StatusOK || body["enabled"] != true {
		t.Fatalf("status: %v", body)
	}
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/continuous/stop", "")
	if resp.StatusCode != http.StatusOK || body["enabled"] != false {
		t.Fatalf("stop: status=%d body=%v", resp.StatusCode, body)
	}
}

func TestSummaryAndHistoryWithoutBackend(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/fleet/summary", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("summary status = %d", resp.StatusCode)
	}
	if body["total_robots"] != float64(2) || body["grid_size"] != "12x12" {
		t.Fatalf("summary = %v", body)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/history/jobs", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d", resp.StatusCode)
	}
	if jobs, ok := body["jobs"].([]any); !ok || len(jobs) != 0 {
		t.Fatalf("history jobs = %v", body["jobs"])
	}
}

func TestResetEndpoint(t *testing.T) {
	ts, m := newTestServer(t)
	if _, err := m.AddJob(grid.Pos{X: 2, Y: 6}, nil, 5); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/reset", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "reset" {
		t.Fatalf("reset: status=%d body=%v", resp.StatusCode, body)
	}
	if m.JobStatistics().TotalJobs != 0 {
		t.Fatalf("jobs survived reset")
	}
}
