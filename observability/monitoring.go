package observability

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/process"
)

const maxRecentEvents = 20

// RecentEvent is a message observed by one of the hosted agents.
type RecentEvent struct {
	Agent     string `json:"agent"`
	Direction string `json:"direction"`
	Peer      string `json:"peer"`
	Timestamp string `json:"timestamp"`
}

// MonitoringStats aggregates coordinator counters and process metrics.
type MonitoringStats struct {
	Refreshes          uint64 `json:"refreshes"`
	SkippedTicks       uint64 `json:"skipped_ticks"`
	LookupFailures     uint64 `json:"lookup_failures"`
	Received           uint64 `json:"received"`
	Sent               uint64 `json:"sent"`
	DispatchFailures   uint64 `json:"dispatch_failures"`
	TranscriptFailures uint64 `json:"transcript_failures"`

	AllocMemMb   uint64        `json:"alloc_mem_mb"`
	NumGC        uint32        `json:"num_gc"`
	RSSBytes     uint64        `json:"rss_bytes"`
	CPUPercent   float64       `json:"cpu_percent"`
	RecentEvents []RecentEvent `json:"recent_events"`
}

// MonitoringManager collects counters from every coordinator of the process.
// Counters are updated atomically; the aggregated view is refreshed by Run.
type MonitoringManager struct {
	log         *slog.Logger
	interval    time.Duration
	mu          sync.RWMutex
	latestStats MonitoringStats
	recent      []RecentEvent

	refreshes          uint64
	skippedTicks       uint64
	lookupFailures     uint64
	received           uint64
	sent               uint64
	dispatchFailures   uint64
	transcriptFailures uint64
}

func NewMonitoringManager(log *slog.Logger, interval time.Duration) *MonitoringManager {
	return &MonitoringManager{
		log:      log,
		interval: interval,
		recent:   make([]RecentEvent, 0, maxRecentEvents),
	}
}

func (mm *MonitoringManager) IncrRefreshes()          { atomic.AddUint64(&mm.refreshes, 1) }
func (mm *MonitoringManager) IncrSkippedTicks()       { atomic.AddUint64(&mm.skippedTicks, 1) }
func (mm *MonitoringManager) IncrLookupFailures()     { atomic.AddUint64(&mm.lookupFailures, 1) }
func (mm *MonitoringManager) IncrDispatchFailures()   { atomic.AddUint64(&mm.dispatchFailures, 1) }
func (mm *MonitoringManager) IncrTranscriptFailures() { atomic.AddUint64(&mm.transcriptFailures, 1) }

func (mm *MonitoringManager) RecordReceived(agent, peer, timestamp string) {
	atomic.AddUint64(&mm.received, 1)
	mm.addRecent(RecentEvent{Agent: agent, Direction: "in", Peer: peer, Timestamp: timestamp})
}

func (mm *MonitoringManager) RecordSent(agent, peer, timestamp string) {
	atomic.AddUint64(&mm.sent, 1)
	mm.addRecent(RecentEvent{Agent: agent, Direction: "out", Peer: peer, Timestamp: timestamp})
}

// addRecent keeps the last maxRecentEvents events, newest first.
func (mm *MonitoringManager) addRecent(evt RecentEvent) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.recent = append([]RecentEvent{evt}, mm.recent...)
	if len(mm.recent) > maxRecentEvents {
		mm.recent = mm.recent[:maxRecentEvents]
	}
}

// Run refreshes the aggregated stats every interval until ctx is done.
func (mm *MonitoringManager) Run(ctx context.Context) error {
	ticker := time.NewTicker(mm.interval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		mm.log.Warn("Process metrics unavailable", "error", err)
		p = nil
	}

	for {
		select {
		case <-ctx.Done():
			mm.log.Debug("Monitoring manager stopped")
			return nil
		case <-ticker.C:
			mm.updateStats(p)
		}
	}
}

func (mm *MonitoringManager) updateStats(p *process.Process) {
	counters := mm.counters()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	counters.AllocMemMb = m.Alloc / 1024 / 1024
	counters.NumGC = m.NumGC

	if p != nil {
		if memInfo, err := p.MemoryInfo(); err == nil {
			counters.RSSBytes = memInfo.RSS
		}
		if cpu, err := p.CPUPercent(); err == nil {
			counters.CPUPercent = cpu
		}
	}

	mm.mu.Lock()
	counters.RecentEvents = append([]RecentEvent(nil), mm.recent...)
	mm.latestStats = counters
	mm.mu.Unlock()

	mm.log.Debug("Stats updated",
		"refreshes", counters.Refreshes,
		"received", counters.Received,
		"sent", counters.Sent,
		"mem_mb", counters.AllocMemMb,
	)
}

func (mm *MonitoringManager) counters() MonitoringStats {
	return MonitoringStats{
		Refreshes:          atomic.LoadUint64(&mm.refreshes),
		SkippedTicks:       atomic.LoadUint64(&mm.skippedTicks),
		LookupFailures:     atomic.LoadUint64(&mm.lookupFailures),
		Received:           atomic.LoadUint64(&mm.received),
		Sent:               atomic.LoadUint64(&mm.sent),
		DispatchFailures:   atomic.LoadUint64(&mm.dispatchFailures),
		TranscriptFailures: atomic.LoadUint64(&mm.transcriptFailures),
	}
}

// GetLatest returns the live counters merged with the last process metrics.
func (mm *MonitoringManager) GetLatest() MonitoringStats {
	stats := mm.counters()

	mm.mu.RLock()
	defer mm.mu.RUnlock()
	stats.AllocMemMb = mm.latestStats.AllocMemMb
	stats.NumGC = mm.latestStats.NumGC
	stats.RSSBytes = mm.latestStats.RSSBytes
	stats.CPUPercent = mm.latestStats.CPUPercent
	stats.RecentEvents = append([]RecentEvent(nil), mm.recent...)
	return stats
}
