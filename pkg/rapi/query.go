package rapi

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	clockUnset        = 165
	clockSecondsUnset = 85

	temperatureAbsent = -2560
)

// GetVersion queries $GV without touching the connection state
func (c *Client) GetVersion(ctx context.Context) (VersionInfo, error) {
	tokens, err := c.query(ctx, "$GV", 3)
	if err != nil {
		return VersionInfo{}, err
	}

	info := VersionInfo{
		Firmware:  tokens[1],
		Protocol:  tokens[2],
		Connected: c.IsConnected(),
	}
	if v, err := ParseVersion(info.Protocol); err == nil {
		info.Version = v
	}
	return info, nil
}

// GetStatus queries $GS. The reply layout depends on the negotiated version;
// below 5.0.0 PilotState is StateInvalid and VFlags is zero.
func (c *Client) GetStatus(ctx context.Context) (Status, error) {
	const cmd = "$GS"
	layout := statusLayout(c.ProtocolVersion())

	tokens, err := c.query(ctx, cmd, layout.minTokens)
	if err != nil {
		return Status{}, err
	}

	f := fields{command: cmd, tokens: tokens}
	st := Status{
		State:       EVSEState(f.int(1, layout.base)),
		SessionTime: time.Duration(f.int64(2)) * time.Second,
		PilotState:  StateInvalid,
	}
	if layout.minTokens >= 5 {
		st.PilotState = EVSEState(f.int(3, layout.base))
		st.VFlags = VFlags(f.uint32(4, 16))
	}
	if f.err != nil {
		return Status{}, f.err
	}
	return st, nil
}

// GetTime reads the controller RTC. A clock that was never set reports
// 165 in its date fields (85 for seconds) and yields ErrFeatureNotSupported.
func (c *Client) GetTime(ctx context.Context) (time.Time, error) {
	const cmd = "$GT"
	tokens, err := c.query(ctx, cmd, 7)
	if err != nil {
		return time.Time{}, err
	}

	f := fields{command: cmd, tokens: tokens}
	year, month, day := f.int(1, 10), f.int(2, 10), f.int(3, 10)
	hour, minute, second := f.int(4, 10), f.int(5, 10), f.int(6, 10)
	if f.err != nil {
		return time.Time{}, f.err
	}

	if year == clockUnset || month == clockUnset || day == clockUnset ||
		hour == clockUnset || minute == clockUnset || second == clockSecondsUnset {
		return time.Time{}, fmt.Errorf("%s: %w: clock not set", cmd, ErrFeatureNotSupported)
	}

	return time.Date(2000+year, time.Month(month), day, hour, minute, second, 0, c.location), nil
}

// GetChargeCurrentAndVoltage queries $GG and converts mA/mV to A/V
func (c *Client) GetChargeCurrentAndVoltage(ctx context.Context) (ChargeReading, error) {
	const cmd = "$GG"
	tokens, err := c.query(ctx, cmd, 3)
	if err != nil {
		return ChargeReading{}, err
	}

	f := fields{command: cmd, tokens: tokens}
	r := ChargeReading{
		Amps:  float64(f.int64(1)) / 1000,
		Volts: float64(f.int64(2)) / 1000,
	}
	if f.err != nil {
		return ChargeReading{}, f.err
	}
	return r, nil
}

// GetTemperature queries $GP. Absent sensors are reported as invalid with 0 °C.
func (c *Client) GetTemperature(ctx context.Context) (Temperatures, error) {
	const cmd = "$GP"
	tokens, err := c.query(ctx, cmd, 4)
	if err != nil {
		return Temperatures{}, err
	}

	f := fields{command: cmd, tokens: tokens}
	var temps Temperatures
	for i := range temps {
		raw := f.int(i+1, 10)
		if raw != temperatureAbsent {
			temps[i] = TemperatureReading{Celsius: float64(raw) / 10, Valid: true}
		}
	}
	if f.err != nil {
		return Temperatures{}, f.err
	}
	return temps, nil
}

// GetEnergy queries $GU: session watt-seconds and accumulated Wh
func (c *Client) GetEnergy(ctx context.Context) (Energy, error) {
	const cmd = "$GU"
	tokens, err := c.query(ctx, cmd, 3)
	if err != nil {
		return Energy{}, err
	}

	f := fields{command: cmd, tokens: tokens}
	e := Energy{
		SessionWh: float64(f.int64(1)) / 3600,
		TotalKWh:  float64(f.int64(2)) / 1000,
	}
	if f.err != nil {
		return Energy{}, f.err
	}
	return e, nil
}

// GetFaultCounters queries $GF; the counters are hex
func (c *Client) GetFaultCounters(ctx context.Context) (FaultCounters, error) {
	const cmd = "$GF"
	tokens, err := c.query(ctx, cmd, 4)
	if err != nil {
		return FaultCounters{}, err
	}

	f := fields{command: cmd, tokens: tokens}
	fc := FaultCounters{
		GFCI:       f.int(1, 16),
		NoGround:   f.int(2, 16),
		StuckRelay: f.int(3, 16),
	}
	if f.err != nil {
		return FaultCounters{}, f.err
	}
	return fc, nil
}

// GetSettings queries $GE: pilot amps (decimal) and settings flags (hex)
func (c *Client) GetSettings(ctx context.Context) (Settings, error) {
	const cmd = "$GE"
	tokens, err := c.query(ctx, cmd, 3)
	if err != nil {
		return Settings{}, err
	}

	f := fields{command: cmd, tokens: tokens}
	s := Settings{
		PilotAmps: f.int(1, 10),
		Flags:     f.uint32(2, 16),
	}
	if f.err != nil {
		return Settings{}, f.err
	}
	return s, nil
}

// GetSerial queries $GI for the MCU id
func (c *Client) GetSerial(ctx context.Context) (string, error) {
	tokens, err := c.query(ctx, "$GI", 2)
	if err != nil {
		return "", err
	}
	return strings.TrimLeft(tokens[1], " "), nil
}

// GetCurrentCapacity queries $GC
func (c *Client) GetCurrentCapacity(ctx context.Context) (CurrentCapacity, error) {
	const cmd = "$GC"
	tokens, err := c.query(ctx, cmd, 5)
	if err != nil {
		return CurrentCapacity{}, err
	}

	f := fields{command: cmd, tokens: tokens}
	cc := CurrentCapacity{
		MinAmps:           f.int(1, 10),
		MaxHardwareAmps:   f.int(2, 10),
		PilotAmps:         f.int(3, 10),
		MaxConfiguredAmps: f.int(4, 10),
	}
	if f.err != nil {
		return CurrentCapacity{}, f.err
	}
	return cc, nil
}

// GetAmmeterSettings queries $GA
func (c *Client) GetAmmeterSettings(ctx context.Context) (AmmeterSettings, error) {
	const cmd = "$GA"
	tokens, err := c.query(ctx, cmd, 3)
	if err != nil {
		return AmmeterSettings{}, err
	}

	f := fields{command: cmd, tokens: tokens}
	a := AmmeterSettings{
		Scale:  f.int(1, 10),
		Offset: f.int(2, 10),
	}
	if f.err != nil {
		return AmmeterSettings{}, f.err
	}
	return a, nil
}

// GetTimer queries $GD; an all-zero Timer means no timer is set
func (c *Client) GetTimer(ctx context.Context) (Timer, error) {
	const cmd = "$GD"
	tokens, err := c.query(ctx, cmd, 5)
	if err != nil {
		return Timer{}, err
	}

	f := fields{command: cmd, tokens: tokens}
	t := Timer{
		StartHour:   f.int(1, 10),
		StartMinute: f.int(2, 10),
		EndHour:     f.int(3, 10),
		EndMinute:   f.int(4, 10),
	}
	if f.err != nil {
		return Timer{}, f.err
	}
	return t, nil
}
