package evse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openevse-mqtt-bridge/pkg/rapi"
	"openevse-mqtt-bridge/pkg/rapi/rapitest"
)

// scripted returns an executor over a controller speaking protocol 5.0.1
func scripted(t *testing.T, groups ...string) (*Executor, *rapitest.Channel) {
	t.Helper()
	ch := rapitest.New().Enqueue("$OK 7.1.3 5.0.1")
	client := rapi.NewClient()
	_, err := client.Connect(context.Background(), ch)
	require.NoError(t, err)
	ch.Reset()

	ch.Route("$GS", "$OK 3 1234 3 240").
		Route("$GG", "$OK 16250 238100").
		Route("$GU", "$OK 36000 12345").
		Route("$GP", "$OK 312 -2560 298").
		Route("$GC", "$OK 6 48 32 40").
		Route("$GF", "$OK a 0 1").
		Route("$GE", "$OK 32 0201").
		Route("$GD", "$OK 22 30 6 15")

	if len(groups) == 0 {
		groups = []string{"status", "power", "energy", "temperature", "capacity", "faults", "settings"}
	}
	ex, err := NewExecutor(client, groups)
	require.NoError(t, err)
	return ex, ch
}

func byKey(readings []Reading) map[string]Reading {
	m := make(map[string]Reading, len(readings))
	for _, r := range readings {
		m[r.Key] = r
	}
	return m
}

func TestNewExecutorRejectsUnknownGroup(t *testing.T) {
	_, err := NewExecutor(rapi.NewClient(), []string{"status", "solar"})
	assert.ErrorContains(t, err, "solar")
}

func TestExecuteGroupReadings(t *testing.T) {
	tests := []struct {
		group string
		want  map[string]string
	}{
		{"status", map[string]string{
			"state":        "Charging",
			"state_code":   "3",
			"pilot_state":  "Charging",
			"session_time": "1234",
		}},
		{"power", map[string]string{
			"current": "16.25",
			"voltage": "238.1",
			"power":   "3869",
		}},
		{"energy", map[string]string{
			"session_energy": "10.0",
			"total_energy":   "12.345",
		}},
		{"temperature", map[string]string{
			"temp_ds3231": "31.2",
			"temp_tmp007": "29.8",
		}},
		{"capacity", map[string]string{
			"min_current":            "6",
			"max_hw_current":         "48",
			"pilot_current":          "32",
			"max_configured_current": "40",
		}},
		{"faults", map[string]string{
			"gfci_count":        "10",
			"no_ground_count":   "0",
			"stuck_relay_count": "1",
		}},
		{"settings", map[string]string{
			"pilot_setting":  "32",
			"settings_flags": "0x0201",
			"timer_start":    "22:30",
			"timer_end":      "06:15",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.group, func(t *testing.T) {
			ex, _ := scripted(t, tt.group)

			readings, err := ex.ExecuteGroup(context.Background(), tt.group)
			require.NoError(t, err)

			got := byKey(readings)
			require.Len(t, got, len(tt.want))
			for key, state := range tt.want {
				r, ok := got[key]
				if assert.True(t, ok, "missing reading %s", key) {
					assert.Equal(t, state, r.State(), key)
				}
			}
		})
	}
}

func TestStatusAttributes(t *testing.T) {
	ex, _ := scripted(t, "status")

	readings, err := ex.ExecuteGroup(context.Background(), "status")
	require.NoError(t, err)

	state := byKey(readings)["state"]
	assert.Equal(t, 3, state.Attributes["code"])
	assert.Equal(t, false, state.Attributes["fault"])
	assert.Equal(t, rapi.VFlags(0x240).Names(), state.Attributes["flags"])
}

func TestExecuteGroupErrors(t *testing.T) {
	ex, ch := scripted(t, "status", "energy")
	boom := errors.New("reply timeout")
	ch.RouteError("$GU", boom)

	_, err := ex.ExecuteGroup(context.Background(), "energy")
	var gerr *GroupError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "energy", gerr.Group)
	assert.ErrorIs(t, err, boom)

	_, err = ex.ExecuteGroup(context.Background(), "power")
	assert.ErrorContains(t, err, "not configured")
	assert.False(t, ex.Snapshot().Has("energy"))
}

func TestExecuteAllContinuesPastFailures(t *testing.T) {
	ex, ch := scripted(t)
	ch.Route("$GP", "$NK")

	results, err := ex.ExecuteAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, rapi.ErrNK)
	assert.Len(t, results, 6)
	assert.NotContains(t, results, "temperature")

	snap := ex.Snapshot()
	assert.Equal(t, rapi.StateCharging, snap.Status.State)
	assert.InDelta(t, 16.25, snap.Charge.Amps, 1e-9)
	assert.Equal(t, 40, snap.Capacity.MaxConfiguredAmps)
	assert.True(t, snap.Has("faults"))
	assert.False(t, snap.Has("temperature"))
	assert.False(t, snap.LastUpdate().IsZero())
}

func TestSnapshotIsACopy(t *testing.T) {
	ex, _ := scripted(t, "status")
	fixed := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	ex.now = func() time.Time { return fixed }

	_, err := ex.ExecuteGroup(context.Background(), "status")
	require.NoError(t, err)

	snap := ex.Snapshot()
	snap.Updated["status"] = time.Time{}
	assert.Equal(t, fixed, ex.Snapshot().Updated["status"])

	ex.SetVersion(rapi.VersionInfo{Firmware: "7.1.3", Protocol: "5.0.1", Connected: true})
	assert.Equal(t, "7.1.3", ex.Snapshot().Version.Firmware)
}

func TestSensorsCoverConfiguredGroups(t *testing.T) {
	ex, _ := scripted(t, "power", "energy")
	keys := make([]string, 0)
	for _, s := range ex.Sensors() {
		keys = append(keys, s.Key)
	}
	assert.Equal(t, []string{"session_energy", "total_energy", "current", "voltage", "power"}, keys)
	assert.Equal(t, []string{"energy", "power"}, ex.Groups())
}
