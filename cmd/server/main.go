package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"warefleet.io/internal/persistence/indexdb"
	persistlog "warefleet.io/internal/persistence/log"
	"warefleet.io/internal/sim/fleet"
	"warefleet.io/internal/sim/grid"
	"warefleet.io/internal/sim/tuning"
	"warefleet.io/internal/transport/httpapi"
	"warefleet.io/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		seed       = flag.Int64("seed", 1337, "layout seed (obstacle placement)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite history index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	_ = os.MkdirAll(*dataDir, 0o755)

	g := grid.New(tune.GridWidth, tune.GridHeight, rand.New(rand.NewSource(*seed)))
	m := fleet.NewManager(g, tune, *seed, logger)

	tickLog := persistlog.NewTickLogger(*dataDir)
	defer tickLog.Close()
	m.SetTickLogger(tickLog)

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "history.db"))
		if err != nil {
			logger.Fatalf("open history index: %v", err)
		}
		defer idx.Close()
		m.SetHistoryRecorder(idx)
	}

	runServer(m, idx, tune, *addr, *seed, logger)
}

func runServer(m *fleet.Manager, idx *indexdb.SQLiteIndex, tune tuning.Tuning, addr string, seed int64, logger *log.Logger) {
	ctx, cancel := signalContext()
	defer cancel()

	wsSrv := ws.NewServer(m, logger)
	m.SetTickObserver(wsSrv.Broadcast)

	m.Start(ctx)
	defer m.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		snap := m.Snapshot()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP warefleet_tick Current fleet tick.\n")
		fmt.Fprintf(rw, "# TYPE warefleet_tick counter\n")
		fmt.Fprintf(rw, "warefleet_tick %d\n", snap.Tick)

		fmt.Fprintf(rw, "# HELP warefleet_robots Total robots in the fleet.\n")
		fmt.Fprintf(rw, "# TYPE warefleet_robots gauge\n")
		fmt.Fprintf(rw, "warefleet_robots %d\n", snap.Robots)

		fmt.Fprintf(rw, "# HELP warefleet_robots_by_status Robots per status.\n")
		fmt.Fprintf(rw, "# TYPE warefleet_robots_by_status gauge\n")
		for _, st := range []fleet.Status{
			fleet.StatusIdle, fleet.StatusEnRoute, fleet.StatusWorking,
			fleet.StatusPickingUp, fleet.StatusDroppingOff, fleet.StatusReturningToStart,
			fleet.StatusCharging, fleet.StatusError, fleet.StatusDead,
		} {
			fmt.Fprintf(rw, "warefleet_robots_by_status{status=%q} %d\n", st, snap.StatusCounts[st])
		}

		fmt.Fprintf(rw, "# HELP warefleet_jobs_pending Jobs waiting for a robot.\n")
		fmt.Fprintf(rw, "# TYPE warefleet_jobs_pending gauge\n")
		fmt.Fprintf(rw, "warefleet_jobs_pending %d\n", snap.PendingJobs)

		fmt.Fprintf(rw, "# HELP warefleet_jobs_active Jobs currently being served.\n")
		fmt.Fprintf(rw, "# TYPE warefleet_jobs_active gauge\n")
		fmt.Fprintf(rw, "warefleet_jobs_active %d\n", snap.ActiveJobs)

		fmt.Fprintf(rw, "# HELP warefleet_tasks_active Ad-hoc tasks in flight.\n")
		fmt.Fprintf(rw, "# TYPE warefleet_tasks_active gauge\n")
		fmt.Fprintf(rw, "warefleet_tasks_active %d\n", snap.ActiveTasks)

		fmt.Fprintf(rw, "# HELP warefleet_tick_ms Last tick duration in milliseconds.\n")
		fmt.Fprintf(rw, "# TYPE warefleet_tick_ms gauge\n")
		fmt.Fprintf(rw, "warefleet_tick_ms %.3f\n", snap.LastTickMs)
	})

	if envBool("WF_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	mux.HandleFunc("/v1/ws", wsSrv.Handler())

	api, err := httpapi.NewServer(m, historyBackend(idx), logger)
	if err != nil {
		logger.Fatalf("api server: %v", err)
	}
	api.Register(mux)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s (seed=%d, %d robots, %dx%d grid)",
		addr, seed, tune.NumRobots, tune.GridWidth, tune.GridHeight)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

// historyBackend keeps the httpapi.History interface nil when the index is
// disabled (a typed nil pointer would defeat the nil checks).
func historyBackend(idx *indexdb.SQLiteIndex) httpapi.History {
	if idx == nil {
		return nil
	}
	return idx
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
