package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"openevse-mqtt-bridge/pkg/evse"
	"openevse-mqtt-bridge/pkg/logger"
)

// GroupExecutor runs one poll group against the controller
type GroupExecutor interface {
	ExecuteGroup(ctx context.Context, group string) ([]evse.Reading, error)
}

// GroupResult is handed to the callback after every execution, failed or not
type GroupResult struct {
	Group    string
	Readings []evse.Reading
	Err      error
	Duration time.Duration
}

// Callback receives group results
type Callback func(ctx context.Context, result GroupResult)

const minCheckInterval = 100 * time.Millisecond

// GroupScheduler manages independent polling for each poll group
// Each group can have its own interval
type GroupScheduler struct {
	executor       GroupExecutor
	groupIntervals map[string]time.Duration // group -> poll interval
	lastExecutions map[string]time.Time     // group -> last execution time
	mu             sync.RWMutex             // Protect maps
	executionMutex sync.Mutex               // Only one group talks to the controller at a time
	checkInterval  time.Duration
	triggers       chan string
	now            func() time.Time
	log            logger.ILogger
}

// NewGroupScheduler creates a new group scheduler; intervals are in milliseconds
func NewGroupScheduler(executor GroupExecutor, groupIntervals map[string]int) *GroupScheduler {
	scheduler := &GroupScheduler{
		executor:       executor,
		groupIntervals: make(map[string]time.Duration),
		lastExecutions: make(map[string]time.Time),
		triggers:       make(chan string, 8),
		now:            time.Now,
		log:            logger.NewStandardLogger(),
	}

	minInterval := time.Duration(0)
	for group, intervalMs := range groupIntervals {
		interval := time.Duration(intervalMs) * time.Millisecond
		scheduler.groupIntervals[group] = interval

		if minInterval == 0 || interval < minInterval {
			minInterval = interval
		}

		logger.LogInfo("📅 Scheduled group '%s' with interval: %v", group, interval)
	}

	// 1/10 of the shortest interval, never below 100ms
	scheduler.checkInterval = minInterval / 10
	if scheduler.checkInterval < minCheckInterval {
		scheduler.checkInterval = minCheckInterval
	}

	logger.LogInfo("📅 Group scheduler initialized with %d groups (check interval: %v)",
		len(groupIntervals), scheduler.checkInterval)

	return scheduler
}

// SetLogger replaces the logger used for per-execution messages
func (s *GroupScheduler) SetLogger(l logger.ILogger) {
	if l != nil {
		s.log = l
	}
}

// Start runs the scheduler until ctx is cancelled
func (s *GroupScheduler) Start(ctx context.Context, callback Callback) {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	logger.LogInfo("🔄 Group scheduler started (check interval: %v)", s.checkInterval)

	s.checkAndExecuteGroups(ctx, callback)
	for {
		select {
		case <-ctx.Done():
			logger.LogDebug("🔄 Group scheduler stopped")
			return
		case group := <-s.triggers:
			s.executeGroup(ctx, group, callback)
		case <-ticker.C:
			s.checkAndExecuteGroups(ctx, callback)
		}
	}
}

// Trigger asks for group to run as soon as possible, outside its interval.
// Unknown groups are ignored and a full trigger queue drops the request.
func (s *GroupScheduler) Trigger(group string) bool {
	s.mu.RLock()
	_, known := s.groupIntervals[group]
	s.mu.RUnlock()
	if !known {
		return false
	}

	select {
	case s.triggers <- group:
		return true
	default:
		s.log.LogDebug("Trigger for group '%s' dropped, queue full", group)
		return false
	}
}

// checkAndExecuteGroups executes every due group, in name order
func (s *GroupScheduler) checkAndExecuteGroups(ctx context.Context, callback Callback) {
	now := s.now()

	s.mu.RLock()
	due := make([]string, 0, len(s.groupIntervals))
	for group, interval := range s.groupIntervals {
		lastExec, exists := s.lastExecutions[group]
		if !exists || now.Sub(lastExec) >= interval {
			due = append(due, group)
		}
	}
	s.mu.RUnlock()

	if len(due) == 0 {
		return
	}
	sort.Strings(due)
	logger.LogTrace("⏰ Groups due for execution: %v", due)

	for _, group := range due {
		if ctx.Err() != nil {
			return
		}
		s.executeGroup(ctx, group, callback)
	}
}

func (s *GroupScheduler) executeGroup(ctx context.Context, group string, callback Callback) {
	s.executionMutex.Lock()
	defer s.executionMutex.Unlock()

	start := s.now()
	readings, err := s.executor.ExecuteGroup(ctx, group)
	result := GroupResult{Group: group, Readings: readings, Err: err, Duration: time.Since(start)}

	// recorded even on failure so a dead controller is not hammered
	s.mu.Lock()
	s.lastExecutions[group] = start
	s.mu.Unlock()

	if err != nil {
		s.log.LogDebug("❌ Group '%s' execution failed after %v: %v", group, result.Duration, err)
	} else {
		logger.LogTrace("✅ Group '%s' executed in %v (%d readings)", group, result.Duration, len(readings))
	}

	if callback != nil {
		callback(ctx, result)
	}
}

// GetNextExecutionTimes returns when each group will execute next
func (s *GroupScheduler) GetNextExecutionTimes() map[string]time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	next := make(map[string]time.Time, len(s.groupIntervals))
	for group, interval := range s.groupIntervals {
		if lastExec, exists := s.lastExecutions[group]; exists {
			next[group] = lastExec.Add(interval)
		} else {
			next[group] = s.now()
		}
	}
	return next
}

// CheckInterval is how often due groups are looked for
func (s *GroupScheduler) CheckInterval() time.Duration {
	return s.checkInterval
}
