package server

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/process"
)

type processStats struct {
	RSSBytes   uint64  `json:"rssBytes"`
	CPUPercent float64 `json:"cpuPercent"`
	Threads    int32   `json:"threads"`
}

func readProcessStats() (processStats, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return processStats{}, fmt.Errorf("inspect process: %w", err)
	}

	mem, err := proc.MemoryInfo()
	if err != nil {
		return processStats{}, fmt.Errorf("memory info: %w", err)
	}
	cpu, err := proc.CPUPercent()
	if err != nil {
		return processStats{}, fmt.Errorf("cpu percent: %w", err)
	}
	threads, err := proc.NumThreads()
	if err != nil {
		threads = 0
	}

	return processStats{RSSBytes: mem.RSS, CPUPercent: cpu, Threads: threads}, nil
}

// StatsReporter logs session, connection and process figures on a cron
// schedule.
type StatsReporter struct {
	cron   *cron.Cron
	srv    *Server
	logger *slog.Logger
}

// NewStatsReporter schedules the report. schedule accepts standard cron
// expressions and descriptors such as "@every 1m".
func NewStatsReporter(srv *Server, schedule string, logger *slog.Logger) (*StatsReporter, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &StatsReporter{
		cron:   cron.New(),
		srv:    srv,
		logger: logger.With("component", "stats"),
	}
	if _, err := r.cron.AddFunc(schedule, r.Report); err != nil {
		return nil, fmt.Errorf("invalid stats schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Start runs the schedule in the background.
func (r *StatsReporter) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for a running report to finish.
func (r *StatsReporter) Stop() {
	<-r.cron.Stop().Done()
}

// Report logs one snapshot.
func (r *StatsReporter) Report() {
	st := r.srv.store.Stats()
	attrs := []any{
		"sessions", st.Sessions,
		"consultants", st.Consultants,
		"customers", st.Customers,
		"drawings", st.Drawings,
		"connections", r.srv.hub.ClientCount(),
		"rooms", r.srv.hub.RoomCount(),
	}
	if ps, err := readProcessStats(); err == nil {
		attrs = append(attrs, "rss_bytes", ps.RSSBytes, "cpu_percent", ps.CPUPercent)
	}
	r.logger.Info("stats", attrs...)
}
