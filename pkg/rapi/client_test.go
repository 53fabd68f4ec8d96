package rapi_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openevse-mqtt-bridge/pkg/rapi"
	"openevse-mqtt-bridge/pkg/rapi/rapitest"
)

// connected returns a client that negotiated the given protocol version
func connected(t *testing.T, protocol string) (*rapi.Client, *rapitest.Channel) {
	t.Helper()
	ch := rapitest.New().Enqueue("$OK 7.1.3 " + protocol)
	c := rapi.NewClient()
	_, err := c.Connect(context.Background(), ch)
	require.NoError(t, err)
	ch.Reset()
	return c, ch
}

func TestConnect(t *testing.T) {
	ctx := context.Background()

	t.Run("negotiates version", func(t *testing.T) {
		ch := rapitest.New().Enqueue("$OK 7.1.3 5.0.1")
		c := rapi.NewClient()

		info, err := c.Connect(ctx, ch)
		require.NoError(t, err)
		assert.True(t, info.Connected)
		assert.Equal(t, "7.1.3", info.Firmware)
		assert.Equal(t, "5.0.1", info.Protocol)
		assert.Equal(t, rapi.ProtocolVersion(5001), info.Version)
		assert.True(t, c.IsConnected())
		assert.Equal(t, rapi.ProtocolVersion(5001), c.ProtocolVersion())
		assert.Equal(t, []string{"$GV"}, ch.Sent())
	})

	t.Run("malformed version stays disconnected", func(t *testing.T) {
		ch := rapitest.New().Enqueue("$OK 7.1.3 5.0")
		c := rapi.NewClient()

		info, err := c.Connect(ctx, ch)
		assert.ErrorIs(t, err, rapi.ErrInvalidVersion)
		assert.False(t, info.Connected)
		assert.Equal(t, "7.1.3", info.Firmware)
		assert.Equal(t, "5.0", info.Protocol)
		assert.False(t, c.IsConnected())
		assert.Equal(t, rapi.DefaultProtocolVersion, c.ProtocolVersion())
	})

	t.Run("channel failure passes through", func(t *testing.T) {
		boom := errors.New("link down")
		ch := rapitest.New().EnqueueError(boom)
		c := rapi.NewClient()

		_, err := c.Connect(ctx, ch)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, rapi.ResultFailure, rapi.CodeOf(err))
		assert.False(t, c.IsConnected())
	})

	t.Run("short reply", func(t *testing.T) {
		ch := rapitest.New().Enqueue("$OK 7.1.3")
		c := rapi.NewClient()

		_, err := c.Connect(ctx, ch)
		assert.ErrorIs(t, err, rapi.ErrInvalidResponse)
		assert.False(t, c.IsConnected())
	})

	t.Run("reconnect resets state", func(t *testing.T) {
		c, _ := connected(t, "5.0.0")
		require.True(t, c.IsConnected())

		ch := rapitest.New().Enqueue("$NK")
		_, err := c.Connect(ctx, ch)
		assert.ErrorIs(t, err, rapi.ErrNK)
		assert.False(t, c.IsConnected())
	})

	t.Run("nil channel", func(t *testing.T) {
		_, err := rapi.NewClient().Connect(ctx, nil)
		assert.ErrorIs(t, err, rapi.ErrNotBound)
	})
}

func TestUnboundClient(t *testing.T) {
	c := rapi.NewClient()
	_, err := c.GetStatus(context.Background())
	assert.ErrorIs(t, err, rapi.ErrNotBound)
	assert.ErrorIs(t, c.Enable(context.Background()), rapi.ErrNotBound)
	assert.ErrorIs(t, c.HeartbeatPulse(context.Background(), true), rapi.ErrNotBound)
}

func TestGetStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("legacy decimal layout", func(t *testing.T) {
		c, ch := connected(t, "3.0.0")
		ch.Enqueue("$OK 3 120")

		st, err := c.GetStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, rapi.StateCharging, st.State)
		assert.Equal(t, 120*time.Second, st.SessionTime)
		assert.Equal(t, rapi.StateInvalid, st.PilotState)
		assert.Equal(t, rapi.VFlags(0), st.VFlags)
	})

	t.Run("hex layout", func(t *testing.T) {
		c, ch := connected(t, "5.0.0")
		ch.Enqueue("$OK fe 60 1 240")

		st, err := c.GetStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, rapi.StateSleeping, st.State)
		assert.Equal(t, 60*time.Second, st.SessionTime)
		assert.Equal(t, rapi.StateNotConnected, st.PilotState)
		assert.Equal(t, rapi.VFlagChargingOn|rapi.VFlagSessionEnded, st.VFlags)
	})

	t.Run("elapsed stays decimal on hex layout", func(t *testing.T) {
		c, ch := connected(t, "5.0.0")
		ch.Enqueue("$OK 3 10 3 40")

		st, err := c.GetStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, 10*time.Second, st.SessionTime)
		assert.Equal(t, rapi.VFlagChargingOn, st.VFlags)
	})

	t.Run("legacy reply on new protocol is invalid", func(t *testing.T) {
		c, ch := connected(t, "5.0.0")
		ch.Enqueue("$OK 3 120")

		st, err := c.GetStatus(ctx)
		assert.ErrorIs(t, err, rapi.ErrInvalidResponse)
		assert.Equal(t, rapi.ResultInvalidResponse, rapi.CodeOf(err))
		assert.Zero(t, st)
	})

	t.Run("hex state on legacy protocol is invalid", func(t *testing.T) {
		c, ch := connected(t, "4.0.0")
		ch.Enqueue("$OK fe 120")

		st, err := c.GetStatus(ctx)
		assert.ErrorIs(t, err, rapi.ErrInvalidResponse)
		assert.Zero(t, st)
	})
}

func TestGetTime(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		reply   string
		want    time.Time
		wantErr error
	}{
		{"valid", "$OK 24 3 15 10 20 30", time.Date(2024, time.March, 15, 10, 20, 30, 0, time.UTC), nil},
		{"clock unset", "$OK 165 165 165 165 165 85", time.Time{}, rapi.ErrFeatureNotSupported},
		{"partial sentinel", "$OK 24 3 165 10 20 30", time.Time{}, rapi.ErrFeatureNotSupported},
		{"seconds sentinel", "$OK 24 3 15 10 20 85", time.Time{}, rapi.ErrFeatureNotSupported},
		{"short", "$OK 24 3 15 10 20", time.Time{}, rapi.ErrInvalidResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ch := connected(t, "5.0.0")
			ch.Enqueue(tt.reply)

			got, err := c.GetTime(ctx)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, got.IsZero())
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v", got)
		})
	}

	t.Run("feature not supported code", func(t *testing.T) {
		c, ch := connected(t, "5.0.0")
		ch.Enqueue("$OK 165 165 165 165 165 85")
		_, err := c.GetTime(ctx)
		assert.Equal(t, rapi.ResultFeatureNotSupported, rapi.CodeOf(err))
	})
}

func TestQueries(t *testing.T) {
	ctx := context.Background()
	c, ch := connected(t, "5.0.0")

	ch.Enqueue("$OK 16000 240000")
	cv, err := c.GetChargeCurrentAndVoltage(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 16.0, cv.Amps, 1e-9)
	assert.InDelta(t, 240.0, cv.Volts, 1e-9)
	assert.InDelta(t, 3840.0, cv.Watts(), 1e-6)

	ch.Enqueue("$OK 250 -2560 305")
	temps, err := c.GetTemperature(ctx)
	require.NoError(t, err)
	assert.Equal(t, rapi.TemperatureReading{Celsius: 25.0, Valid: true}, temps[rapi.SensorDS3231])
	assert.Equal(t, rapi.TemperatureReading{}, temps[rapi.SensorMCP9808])
	assert.Equal(t, rapi.TemperatureReading{Celsius: 30.5, Valid: true}, temps[rapi.SensorTMP007])

	ch.Enqueue("$OK 7200 123456")
	energy, err := c.GetEnergy(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, energy.SessionWh, 1e-9)
	assert.InDelta(t, 123.456, energy.TotalKWh, 1e-9)

	ch.Enqueue("$OK 1 a ff")
	faults, err := c.GetFaultCounters(ctx)
	require.NoError(t, err)
	assert.Equal(t, rapi.FaultCounters{GFCI: 1, NoGround: 10, StuckRelay: 255}, faults)

	ch.Enqueue("$OK 32 0201")
	settings, err := c.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, rapi.Settings{PilotAmps: 32, Flags: 0x201}, settings)

	ch.Enqueue("$OK ABC123")
	serial, err := c.GetSerial(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ABC123", serial)

	ch.Enqueue("$OK 6 80 32 40")
	capacity, err := c.GetCurrentCapacity(ctx)
	require.NoError(t, err)
	assert.Equal(t, rapi.CurrentCapacity{MinAmps: 6, MaxHardwareAmps: 80, PilotAmps: 32, MaxConfiguredAmps: 40}, capacity)

	ch.Enqueue("$OK 220 -5")
	ammeter, err := c.GetAmmeterSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, rapi.AmmeterSettings{Scale: 220, Offset: -5}, ammeter)

	ch.Enqueue("$OK 22 0 6 30")
	timer, err := c.GetTimer(ctx)
	require.NoError(t, err)
	assert.Equal(t, rapi.Timer{StartHour: 22, StartMinute: 0, EndHour: 6, EndMinute: 30}, timer)
	assert.True(t, timer.Enabled())

	ch.Enqueue("$OK 7.1.3 5.0.0")
	info, err := c.GetVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, rapi.ProtocolVersion(5000), info.Version)
	assert.True(t, info.Connected)

	assert.Equal(t, []string{"$GG", "$GP", "$GU", "$GF", "$GE", "$GI", "$GC", "$GA", "$GD", "$GV"}, ch.Sent())
}

// Every query answered OK with one token too few must fail with a zero payload
func TestQueriesShortReply(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		reply string
		call  func(c *rapi.Client) (any, error)
	}{
		{"GetVersion", "$OK 7.1.3", func(c *rapi.Client) (any, error) { return c.GetVersion(ctx) }},
		{"GetStatus", "$OK 3 10 3", func(c *rapi.Client) (any, error) { return c.GetStatus(ctx) }},
		{"GetTime", "$OK 24 3 15 10 20", func(c *rapi.Client) (any, error) { return c.GetTime(ctx) }},
		{"GetChargeCurrentAndVoltage", "$OK 16000", func(c *rapi.Client) (any, error) { return c.GetChargeCurrentAndVoltage(ctx) }},
		{"GetTemperature", "$OK 250 300", func(c *rapi.Client) (any, error) { return c.GetTemperature(ctx) }},
		{"GetEnergy", "$OK 7200", func(c *rapi.Client) (any, error) { return c.GetEnergy(ctx) }},
		{"GetFaultCounters", "$OK 1 2", func(c *rapi.Client) (any, error) { return c.GetFaultCounters(ctx) }},
		{"GetSettings", "$OK 32", func(c *rapi.Client) (any, error) { return c.GetSettings(ctx) }},
		{"GetSerial", "$OK", func(c *rapi.Client) (any, error) { return c.GetSerial(ctx) }},
		{"GetCurrentCapacity", "$OK 6 80 32", func(c *rapi.Client) (any, error) { return c.GetCurrentCapacity(ctx) }},
		{"GetAmmeterSettings", "$OK 220", func(c *rapi.Client) (any, error) { return c.GetAmmeterSettings(ctx) }},
		{"GetTimer", "$OK 22 0 6", func(c *rapi.Client) (any, error) { return c.GetTimer(ctx) }},
		{"HeartbeatEnable", "$OK 60 6", func(c *rapi.Client) (any, error) { return c.HeartbeatEnable(ctx, 60, 6) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ch := connected(t, "5.0.0")
			ch.Enqueue(tt.reply)

			got, err := tt.call(c)
			assert.ErrorIs(t, err, rapi.ErrInvalidResponse)
			assert.Zero(t, got)
		})
	}
}

func TestQueryNKAndMalformedField(t *testing.T) {
	ctx := context.Background()
	c, ch := connected(t, "5.0.0")

	ch.Enqueue("$NK")
	_, err := c.GetEnergy(ctx)
	assert.ErrorIs(t, err, rapi.ErrNK)
	assert.Equal(t, rapi.ResultNK, rapi.CodeOf(err))

	ch.Enqueue("$OK x 240000")
	cv, err := c.GetChargeCurrentAndVoltage(ctx)
	assert.ErrorIs(t, err, rapi.ErrInvalidResponse)
	assert.Zero(t, cv)

	ch.Enqueue("$OK 1 zz 3")
	faults, err := c.GetFaultCounters(ctx)
	assert.ErrorIs(t, err, rapi.ErrInvalidResponse)
	assert.Zero(t, faults)
}

func TestSetCurrentCapacity(t *testing.T) {
	ctx := context.Background()

	t.Run("saved value round trips", func(t *testing.T) {
		c, ch := connected(t, "5.0.0")
		ch.Enqueue("$OK 40", "$OK 6 80 40 40")

		res, err := c.SetCurrentCapacity(ctx, 40, true)
		require.NoError(t, err)
		assert.False(t, res.Clamped)

		capacity, err := c.GetCurrentCapacity(ctx)
		require.NoError(t, err)
		assert.Equal(t, res.Amps, capacity.MaxConfiguredAmps)
		assert.Equal(t, []string{"$SC 40", "$GC"}, ch.Sent())
	})

	t.Run("volatile", func(t *testing.T) {
		c, ch := connected(t, "5.0.0")
		ch.Enqueue("$OK 16")

		res, err := c.SetCurrentCapacity(ctx, 16, false)
		require.NoError(t, err)
		assert.Equal(t, 16, res.Amps)
		assert.Equal(t, []string{"$SC 16 V"}, ch.Sent())
	})

	t.Run("clamped", func(t *testing.T) {
		c, ch := connected(t, "5.0.0")
		ch.Enqueue("$NK 32")

		res, err := c.SetCurrentCapacity(ctx, 99, true)
		require.NoError(t, err)
		assert.Equal(t, rapi.CapacityResult{Amps: 32, Clamped: true}, res)
	})

	t.Run("NK without amps", func(t *testing.T) {
		c, ch := connected(t, "5.0.0")
		ch.Enqueue("$NK")

		res, err := c.SetCurrentCapacity(ctx, 99, true)
		assert.ErrorIs(t, err, rapi.ErrInvalidResponse)
		assert.Zero(t, res)
	})
}

func TestHeartbeatPulse(t *testing.T) {
	ctx := context.Background()

	t.Run("acknowledges missed pulse", func(t *testing.T) {
		c, ch := connected(t, "5.0.0")
		ch.Enqueue("$NK", "$OK")

		require.NoError(t, c.HeartbeatPulse(ctx, true))
		assert.Equal(t, []string{"$SY", "$SY 165"}, ch.Sent())
	})

	t.Run("reports NK without ack", func(t *testing.T) {
		c, ch := connected(t, "5.0.0")
		ch.Enqueue("$NK")

		err := c.HeartbeatPulse(ctx, false)
		assert.ErrorIs(t, err, rapi.ErrNK)
		assert.Equal(t, []string{"$SY"}, ch.Sent())
	})

	t.Run("ack rejected", func(t *testing.T) {
		c, ch := connected(t, "5.0.0")
		ch.Enqueue("$NK", "$NK")

		assert.ErrorIs(t, c.HeartbeatPulse(ctx, true), rapi.ErrNK)
	})

	t.Run("ok pulse", func(t *testing.T) {
		c, ch := connected(t, "5.0.0")
		ch.Enqueue("$OK")

		require.NoError(t, c.HeartbeatPulse(ctx, true))
		assert.Equal(t, []string{"$SY"}, ch.Sent())
	})
}

func TestHeartbeatEnable(t *testing.T) {
	c, ch := connected(t, "5.0.0")
	ch.Enqueue("$OK 60 6 1")

	hs, err := c.HeartbeatEnable(context.Background(), 60, 6)
	require.NoError(t, err)
	assert.Equal(t, rapi.HeartbeatStatus{Interval: 60, CurrentLimit: 6, Triggered: rapi.HeartbeatMissedAcked}, hs)
	assert.Equal(t, []string{"$SY 60 6"}, ch.Sent())
}

func TestCommandFormatting(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		reply string
		call  func(c *rapi.Client) error
		want  string
	}{
		{"service level", "$OK", func(c *rapi.Client) error { return c.SetServiceLevel(ctx, rapi.ServiceLevelAuto) }, "$SL A"},
		{"ammeter", "$OK 220 0", func(c *rapi.Client) error { return c.SetAmmeterSettings(ctx, 220, 0) }, "$SA 220 0"},
		{"voltage", "$OK", func(c *rapi.Client) error { return c.SetVoltage(ctx, 230000) }, "$SV 230000"},
		{"voltage volts", "$OK", func(c *rapi.Client) error { return c.SetVoltageVolts(ctx, 240.1234) }, "$SV 240123"},
		{"timer", "$OK", func(c *rapi.Client) error { return c.SetTimer(ctx, 22, 0, 6, 30) }, "$ST 22 0 6 30"},
		{"clear timer", "$OK", func(c *rapi.Client) error { return c.ClearTimer(ctx) }, "$ST 0 0 0 0"},
		{"set time", "$OK", func(c *rapi.Client) error {
			return c.SetTime(ctx, time.Date(2024, time.December, 31, 23, 59, 58, 0, time.UTC))
		}, "$S1 24 12 31 23 59 58"},
		{"set clock", "$OK", func(c *rapi.Client) error {
			return c.SetClock(ctx, rapi.ClockFields{Year: 2031, Month: time.January, Day: 2, Hour: 3, Minute: 4, Second: 5})
		}, "$S1 31 1 2 3 4 5"},
		{"enable", "$OK", func(c *rapi.Client) error { return c.Enable(ctx) }, "$FE"},
		{"sleep", "$OK", func(c *rapi.Client) error { return c.Sleep(ctx) }, "$FS"},
		{"disable", "$OK", func(c *rapi.Client) error { return c.Disable(ctx) }, "$FD"},
		{"restart", "$OK", func(c *rapi.Client) error { return c.Restart(ctx) }, "$FR"},
		{"clear boot lock", "$OK", func(c *rapi.Client) error { return c.ClearBootLock(ctx) }, "$SB"},
		{"feature", "$OK", func(c *rapi.Client) error { return c.Feature(ctx, rapi.FeatureGroundCheck, false) }, "$FF G 0"},
		{"lcd enable", "$OK", func(c *rapi.Client) error { return c.LCDEnable(ctx, true) }, "$F0 1"},
		{"lcd colour", "$OK", func(c *rapi.Client) error { return c.LCDSetColour(ctx, rapi.LCDTeal) }, "$FB 6"},
		{"lcd text", "$OK", func(c *rapi.Client) error { return c.LCDDisplayText(ctx, 0, 1, "Hi there") }, "$FP 0 1 Hi\xfethere"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ch := connected(t, "5.0.0")
			ch.Enqueue(tt.reply)

			require.NoError(t, tt.call(c))
			assert.Equal(t, []string{tt.want}, ch.Sent())
		})
	}

	t.Run("ammeter needs echo", func(t *testing.T) {
		c, ch := connected(t, "5.0.0")
		ch.Enqueue("$OK")
		assert.ErrorIs(t, c.SetAmmeterSettings(ctx, 220, 0), rapi.ErrInvalidResponse)
	})

	t.Run("NK is surfaced", func(t *testing.T) {
		c, ch := connected(t, "5.0.0")
		ch.Enqueue("$NK")
		assert.ErrorIs(t, c.Enable(ctx), rapi.ErrNK)
	})
}

// blockingChannel never answers; Send returns when the context ends
type blockingChannel struct{}

func (blockingChannel) Send(ctx context.Context, _ string) (*rapi.Reply, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingChannel) SetEventHandler(func(string)) {}

func TestCommandTimeout(t *testing.T) {
	c := rapi.NewClient(rapi.WithTimeout(20 * time.Millisecond))

	start := time.Now()
	_, err := c.Connect(context.Background(), blockingChannel{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, c.IsConnected())
}

// overlapChannel records whether two commands were ever in flight together
type overlapChannel struct {
	inflight atomic.Int32
	overlap  atomic.Bool
	count    atomic.Int32
}

func (o *overlapChannel) Send(_ context.Context, command string) (*rapi.Reply, error) {
	if o.inflight.Add(1) > 1 {
		o.overlap.Store(true)
	}
	defer o.inflight.Add(-1)
	o.count.Add(1)
	time.Sleep(time.Millisecond)

	if command == "$GV" {
		return rapi.NewReply("$OK 7.1.3 5.0.0"), nil
	}
	return rapi.NewReply("$OK 3 10 3 40"), nil
}

func (o *overlapChannel) SetEventHandler(func(string)) {}

func TestCommandsAreSerialized(t *testing.T) {
	ctx := context.Background()
	ch := &overlapChannel{}
	c := rapi.NewClient()
	_, err := c.Connect(ctx, ch)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.GetStatus(ctx)
			_ = c.HeartbeatPulse(ctx, true)
		}()
	}
	wg.Wait()

	assert.False(t, ch.overlap.Load(), "two commands were outstanding at once")
	assert.Equal(t, int32(17), ch.count.Load())
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, rapi.ResultOK, rapi.CodeOf(nil))
	assert.Equal(t, rapi.ResultNK, rapi.CodeOf(rapi.ErrNK))
	assert.Equal(t, rapi.ResultInvalidResponse, rapi.CodeOf(rapi.ErrInvalidResponse))
	assert.Equal(t, rapi.ResultFeatureNotSupported, rapi.CodeOf(rapi.ErrFeatureNotSupported))
	assert.Equal(t, rapi.ResultFailure, rapi.CodeOf(errors.New("other")))
	assert.Equal(t, "FEATURE_NOT_SUPPORTED", rapi.ResultFeatureNotSupported.String())
}
