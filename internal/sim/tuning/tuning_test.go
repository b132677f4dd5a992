package tuning

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	d := Defaults()
	if d.TickMs != 2000 || d.NumRobots != 5 {
		t.Fatalf("defaults = %+v", d)
	}
	if d.TickPeriod() != 2*time.Second {
		t.Fatalf("tick period = %s", d.TickPeriod())
	}
	if d.Dwell() != 1500*time.Millisecond {
		t.Fatalf("dwell = %s", d.Dwell())
	}
	if d.AlertSuppress() != 5*time.Minute {
		t.Fatalf("alert suppress = %s", d.AlertSuppress())
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	content := "num_robots: 8\ncontinuous:\n  enabled: true\n  max_jobs: 10\n"
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tune, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tune.NumRobots != 8 {
		t.Fatalf("num_robots = %d, want 8", tune.NumRobots)
	}
	if !tune.Continuous.Enabled || tune.Continuous.MaxJobs != 10 {
		t.Fatalf("continuous = %+v", tune.Continuous)
	}
	// Untouched keys keep their defaults.
	if tune.TickMs != 2000 || tune.UrgentBatteryPct != 15 {
		t.Fatalf("defaults lost: %+v", tune)
	}
	if tune.Continuous.IntervalS != 5 {
		t.Fatalf("nested default lost: %+v", tune.Continuous)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !os.IsNotExist(err) {
		t.Fatalf("err = %v, want not-exist", err)
	}
}

func TestLoadBadYAML(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(p, []byte("num_robots: [not an int"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(p); err == nil {
		t.Fatalf("expected parse error")
	}
}
