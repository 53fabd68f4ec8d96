package evse

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"openevse-mqtt-bridge/pkg/logger"
	"openevse-mqtt-bridge/pkg/rapi"
)

// GroupError reports which poll group failed
type GroupError struct {
	Group string
	Err   error
}

func (e *GroupError) Error() string {
	return fmt.Sprintf("group %s: %v", e.Group, e.Err)
}

func (e *GroupError) Unwrap() error {
	return e.Err
}

// Executor runs poll groups against one controller and keeps the latest
// Snapshot. Groups execute one at a time.
type Executor struct {
	client *rapi.Client
	groups map[string]GroupStrategy
	order  []string

	execMu   sync.Mutex
	mu       sync.RWMutex
	snapshot Snapshot
	now      func() time.Time
}

// NewExecutor creates an executor for the named groups. Unknown names are an error.
func NewExecutor(client *rapi.Client, enabled []string) (*Executor, error) {
	all := DefaultGroups()
	groups := make(map[string]GroupStrategy, len(enabled))
	for _, name := range enabled {
		g, ok := all[name]
		if !ok {
			return nil, fmt.Errorf("unknown poll group %q", name)
		}
		groups[name] = g
	}

	order := make([]string, 0, len(groups))
	for name := range groups {
		order = append(order, name)
	}
	sort.Strings(order)

	return &Executor{
		client:   client,
		groups:   groups,
		order:    order,
		snapshot: Snapshot{Updated: make(map[string]time.Time)},
		now:      time.Now,
	}, nil
}

// Groups returns the configured group names in execution order
func (e *Executor) Groups() []string {
	return append([]string(nil), e.order...)
}

// Sensors returns every sensor of every configured group, for discovery
func (e *Executor) Sensors() []Sensor {
	var sensors []Sensor
	for _, name := range e.order {
		sensors = append(sensors, e.groups[name].Sensors()...)
	}
	return sensors
}

// Client returns the RAPI client the executor polls
func (e *Executor) Client() *rapi.Client {
	return e.client
}

// ExecuteGroup polls one group and returns its readings
func (e *Executor) ExecuteGroup(ctx context.Context, name string) ([]Reading, error) {
	g, ok := e.groups[name]
	if !ok {
		return nil, &GroupError{Group: name, Err: fmt.Errorf("not configured")}
	}

	e.execMu.Lock()
	defer e.execMu.Unlock()

	e.mu.RLock()
	snap := e.snapshot.clone()
	e.mu.RUnlock()

	readings, err := g.Poll(ctx, e.client, &snap)
	if err != nil {
		return nil, &GroupError{Group: name, Err: err}
	}
	snap.Updated[name] = e.now()

	e.mu.Lock()
	snap.Version = e.snapshot.Version
	e.snapshot = snap
	e.mu.Unlock()

	logger.LogTrace("Group '%s' produced %d readings", name, len(readings))
	return readings, nil
}

// ExecuteAll polls every configured group. Failed groups do not stop the
// rest; their errors are joined.
func (e *Executor) ExecuteAll(ctx context.Context) (map[string][]Reading, error) {
	results := make(map[string][]Reading, len(e.order))
	var errs []error
	for _, name := range e.order {
		readings, err := e.ExecuteGroup(ctx, name)
		if err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		results[name] = readings
	}
	return results, errors.Join(errs...)
}

// SetVersion records the negotiated version in the snapshot
func (e *Executor) SetVersion(info rapi.VersionInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshot.Version = info
}

// Snapshot returns a copy of the latest controller state
func (e *Executor) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot.clone()
}
