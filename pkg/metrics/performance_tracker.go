package metrics

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"openevse-mqtt-bridge/pkg/logger"
)

// PerformanceTracker counts poll outcomes between periodic log summaries
type PerformanceTracker struct {
	successfulPolls int
	failedPolls     int
	failedGroups    map[string]int
	lastSummaryTime time.Time
	summaryInterval time.Duration
	mu              sync.RWMutex
}

// PerformanceStats represents performance statistics
type PerformanceStats struct {
	SuccessfulPolls int
	FailedPolls     int
	LastSummary     time.Time
	SuccessRate     float64
	ErrorRate       float64
}

// NewPerformanceTracker creates a new performance tracker
func NewPerformanceTracker(summaryInterval time.Duration) *PerformanceTracker {
	return &PerformanceTracker{
		failedGroups:    make(map[string]int),
		lastSummaryTime: time.Now(),
		summaryInterval: summaryInterval,
	}
}

// RecordSuccess records a successful group poll
func (pt *PerformanceTracker) RecordSuccess() {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.successfulPolls++
}

// RecordError records a failed poll of group
func (pt *PerformanceTracker) RecordError(group string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.failedPolls++
	pt.failedGroups[group]++
}

// GetStats returns current performance statistics
func (pt *PerformanceTracker) GetStats() PerformanceStats {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	total := pt.successfulPolls + pt.failedPolls
	var successRate, errorRate float64
	if total > 0 {
		successRate = float64(pt.successfulPolls) / float64(total) * 100.0
		errorRate = float64(pt.failedPolls) / float64(total) * 100.0
	}

	return PerformanceStats{
		SuccessfulPolls: pt.successfulPolls,
		FailedPolls:     pt.failedPolls,
		LastSummary:     pt.lastSummaryTime,
		SuccessRate:     successRate,
		ErrorRate:       errorRate,
	}
}

// PrintSummaryIfNeeded logs and resets the counters once per interval
func (pt *PerformanceTracker) PrintSummaryIfNeeded() {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if time.Since(pt.lastSummaryTime) < pt.summaryInterval {
		return
	}

	if pt.failedPolls > 0 {
		logger.LogInfo("📊 Summary - Polls: %d ok, %d failed (%s), Last %v",
			pt.successfulPolls, pt.failedPolls, formatGroupCounts(pt.failedGroups), pt.summaryInterval)
	} else {
		logger.LogInfo("📊 Summary - Polls: %d ok, Last %v", pt.successfulPolls, pt.summaryInterval)
	}

	pt.lastSummaryTime = time.Now()
	pt.successfulPolls = 0
	pt.failedPolls = 0
	pt.failedGroups = make(map[string]int)
}

// Reset resets all counters and timers
func (pt *PerformanceTracker) Reset() {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.successfulPolls = 0
	pt.failedPolls = 0
	pt.failedGroups = make(map[string]int)
	pt.lastSummaryTime = time.Now()
}

// GetTotalCount returns the total number of polls since the last summary
func (pt *PerformanceTracker) GetTotalCount() int {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return pt.successfulPolls + pt.failedPolls
}

func formatGroupCounts(counts map[string]int) string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+strconv.Itoa(counts[name]))
	}
	return strings.Join(parts, ", ")
}
