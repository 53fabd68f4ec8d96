package rapi

import (
	"context"
	"fmt"
	"math"
	"time"
)

// lcdSpaceMarker stands in for a space inside $FP text
const lcdSpaceMarker = 0xFE

func boolArg(on bool) int {
	if on {
		return 1
	}
	return 0
}

// do sends a command whose OK reply carries no payload
func (c *Client) do(ctx context.Context, command string) error {
	_, err := c.query(ctx, command, 1)
	return err
}

// SetServiceLevel selects L1, L2 or automatic detection
func (c *Client) SetServiceLevel(ctx context.Context, level ServiceLevel) error {
	return c.do(ctx, fmt.Sprintf("$SL %c", level))
}

// SetCurrentCapacity sets the pilot current. Unless save is set the value
// is volatile and lost on restart. The controller answers NK when it clamps
// the request to its limits; both OK and NK carry the resulting amps.
func (c *Client) SetCurrentCapacity(ctx context.Context, amps int, save bool) (CapacityResult, error) {
	cmd := fmt.Sprintf("$SC %d", amps)
	if !save {
		cmd += " V"
	}

	c.cmdMu.Lock()
	reply, err := c.send(ctx, cmd)
	c.cmdMu.Unlock()
	if err != nil {
		return CapacityResult{}, err
	}

	code := reply.Code()
	if (code != ResultOK && code != ResultNK) || len(reply.Tokens) < 2 {
		return CapacityResult{}, fmt.Errorf("$SC: %w: %q", ErrInvalidResponse, reply.String())
	}

	f := fields{command: cmd, tokens: reply.Tokens}
	res := CapacityResult{Amps: f.int(1, 10), Clamped: code == ResultNK}
	if f.err != nil {
		return CapacityResult{}, f.err
	}
	return res, nil
}

// SetAmmeterSettings writes the ammeter scale factor and offset
func (c *Client) SetAmmeterSettings(ctx context.Context, scale, offset int) error {
	_, err := c.query(ctx, fmt.Sprintf("$SA %d %d", scale, offset), 2)
	return err
}

// SetVoltage sets the voltage used for power calculation, in millivolts
func (c *Client) SetVoltage(ctx context.Context, millivolts int) error {
	return c.do(ctx, fmt.Sprintf("$SV %d", millivolts))
}

// SetVoltageVolts is SetVoltage with volts, rounded to the nearest millivolt
func (c *Client) SetVoltageVolts(ctx context.Context, volts float64) error {
	return c.SetVoltage(ctx, int(math.Round(volts*1000)))
}

// SetTimer sets the daily charge window; all zero cancels it
func (c *Client) SetTimer(ctx context.Context, startHour, startMinute, endHour, endMinute int) error {
	return c.do(ctx, fmt.Sprintf("$ST %d %d %d %d", startHour, startMinute, endHour, endMinute))
}

// ClearTimer cancels the charge timer
func (c *Client) ClearTimer(ctx context.Context) error {
	return c.SetTimer(ctx, 0, 0, 0, 0)
}

// SetTime sets the controller RTC from t, converted to the client location
func (c *Client) SetTime(ctx context.Context, t time.Time) error {
	t = t.In(c.location)
	return c.SetClock(ctx, ClockFields{
		Year:   t.Year(),
		Month:  t.Month(),
		Day:    t.Day(),
		Hour:   t.Hour(),
		Minute: t.Minute(),
		Second: t.Second(),
	})
}

// SetClock sets the controller RTC from broken-down fields. The year is
// sent as two digits.
func (c *Client) SetClock(ctx context.Context, cf ClockFields) error {
	return c.do(ctx, fmt.Sprintf("$S1 %d %d %d %d %d %d",
		cf.Year%100, int(cf.Month), cf.Day, cf.Hour, cf.Minute, cf.Second))
}

// Enable wakes the controller from sleep or disabled state
func (c *Client) Enable(ctx context.Context) error {
	return c.do(ctx, "$FE")
}

// Sleep puts the controller to sleep; the pilot stays on
func (c *Client) Sleep(ctx context.Context) error {
	return c.do(ctx, "$FS")
}

// Disable disables the controller; the pilot goes off
func (c *Client) Disable(ctx context.Context) error {
	return c.do(ctx, "$FD")
}

// Restart reboots the controller
func (c *Client) Restart(ctx context.Context) error {
	return c.do(ctx, "$FR")
}

// ClearBootLock releases the boot lock so charging can start
func (c *Client) ClearBootLock(ctx context.Context) error {
	return c.do(ctx, "$SB")
}

// Feature enables or disables one of the controller's checks
func (c *Client) Feature(ctx context.Context, id Feature, on bool) error {
	return c.do(ctx, fmt.Sprintf("$FF %c %d", id, boolArg(on)))
}

// LCDEnable turns display updates on or off
func (c *Client) LCDEnable(ctx context.Context, on bool) error {
	return c.do(ctx, fmt.Sprintf("$F0 %d", boolArg(on)))
}

// LCDSetColour sets the backlight colour
func (c *Client) LCDSetColour(ctx context.Context, colour LCDColour) error {
	return c.do(ctx, fmt.Sprintf("$FB %d", colour))
}

// LCDDisplayText writes text at column x, row y
func (c *Client) LCDDisplayText(ctx context.Context, x, y int, text string) error {
	return c.do(ctx, lcdTextCommand(x, y, text))
}

// lcdTextCommand builds "$FP x y text" with the spaces inside text replaced
// by the marker byte, so only the first three spaces separate arguments
func lcdTextCommand(x, y int, text string) string {
	cmd := []byte(fmt.Sprintf("$FP %d %d %s", x, y, text))
	spaces := 0
	for i, b := range cmd {
		if b != ' ' {
			continue
		}
		spaces++
		if spaces > 3 {
			cmd[i] = lcdSpaceMarker
		}
	}
	return string(cmd)
}

// HeartbeatEnable configures heartbeat supervision: if no pulse arrives
// within interval seconds the controller limits current to limit amps
func (c *Client) HeartbeatEnable(ctx context.Context, interval, limit int) (HeartbeatStatus, error) {
	cmd := fmt.Sprintf("$SY %d %d", interval, limit)
	tokens, err := c.query(ctx, cmd, 4)
	if err != nil {
		return HeartbeatStatus{}, err
	}

	f := fields{command: cmd, tokens: tokens}
	hs := HeartbeatStatus{
		Interval:     f.int(1, 10),
		CurrentLimit: f.int(2, 10),
		Triggered:    HeartbeatTrigger(f.int(3, 10)),
	}
	if f.err != nil {
		return HeartbeatStatus{}, f.err
	}
	return hs, nil
}

// HeartbeatPulse sends a heartbeat. An NK reply means an earlier pulse was
// missed; with ackMissed the miss is acknowledged in the same command slot
// and the acknowledgement's result is returned instead.
func (c *Client) HeartbeatPulse(ctx context.Context, ackMissed bool) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	reply, err := c.send(ctx, "$SY")
	if err != nil {
		return err
	}
	if reply.Code() != ResultNK || !ackMissed {
		_, err = expectOK("$SY", reply, 1)
		return err
	}

	ack := fmt.Sprintf("$SY %d", HeartbeatCookie)
	reply, err = c.send(ctx, ack)
	if err != nil {
		return err
	}
	_, err = expectOK(ack, reply, 1)
	return err
}
