package tuning

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TickMs     int `yaml:"tick_ms"`
	NumRobots  int `yaml:"num_robots"`
	GridWidth  int `yaml:"grid_width"`
	GridHeight int `yaml:"grid_height"`

	BatteryMoveCost  int `yaml:"battery_move_cost"`
	ChargePerTick    int `yaml:"charge_per_tick"`
	UrgentBatteryPct int `yaml:"urgent_battery_pct"`
	ResumeBatteryPct int `yaml:"resume_battery_pct"`

	DwellMs        int `yaml:"dwell_ms"`
	AlertSuppressS int `yaml:"alert_suppress_s"`

	Continuous Continuous `yaml:"continuous"`

	SummaryTaskWindow  int `yaml:"summary_task_window"`
	SummaryAlertWindow int `yaml:"summary_alert_window"`
}

type Continuous struct {
	Enabled   bool `yaml:"enabled"`
	MaxJobs   int  `yaml:"max_jobs"`
	IntervalS int  `yaml:"interval_s"`
}

func Defaults() Tuning {
	return Tuning{
		TickMs:           2000,
		NumRobots:        5,
		GridWidth:        20,
		GridHeight:       20,
		BatteryMoveCost:  1,
		ChargePerTick:    5,
		UrgentBatteryPct: 15,
		ResumeBatteryPct: 30,
		DwellMs:          1500,
		AlertSuppressS:   300,
		Continuous: Continuous{
			Enabled:   false,
			MaxJobs:   3,
			IntervalS: 5,
		},
		SummaryTaskWindow:  50,
		SummaryAlertWindow: 10,
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) TickPeriod() time.Duration { return time.Duration(t.TickMs) * time.Millisecond }
func (t Tuning) Dwell() time.Duration      { return time.Duration(t.DwellMs) * time.Millisecond }
func (t Tuning) AlertSuppress() time.Duration {
	return time.Duration(t.AlertSuppressS) * time.Second
}
