package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"openevse-mqtt-bridge/pkg/rapi"
)

// Console maps typed lines to RAPI calls and prints the outcome
type Console struct {
	client *rapi.Client
	out    io.Writer
}

// NewConsole creates a console writing to out
func NewConsole(client *rapi.Client, out io.Writer) *Console {
	return &Console{client: client, out: out}
}

// Execute runs one input line. Lines starting with '$' are sent verbatim.
func (c *Console) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if strings.HasPrefix(line, "$") {
		reply, err := c.client.Raw(ctx, line)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s\n", reply)
		return nil
	}

	parts := strings.Fields(line)
	switch strings.ToLower(parts[0]) {
	case "help", "?":
		c.printHelp()
	case "version":
		info, err := c.client.GetVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "firmware %s, protocol %s\n", info.Firmware, info.Protocol)
	case "status":
		st, err := c.client.GetStatus(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "state %s, session %s", st.State, st.SessionTime)
		if st.PilotState != rapi.StateInvalid {
			fmt.Fprintf(c.out, ", pilot %s, flags %v", st.PilotState, st.VFlags.Names())
		}
		fmt.Fprintln(c.out)
	case "power":
		r, err := c.client.GetChargeCurrentAndVoltage(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%.2f A, %.1f V, %.0f W\n", r.Amps, r.Volts, r.Watts())
	case "energy":
		e, err := c.client.GetEnergy(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "session %.0f Wh, total %.1f kWh\n", e.SessionWh, e.TotalKWh)
	case "temp":
		temps, err := c.client.GetTemperature(ctx)
		if err != nil {
			return err
		}
		for i, t := range temps {
			if t.Valid {
				fmt.Fprintf(c.out, "%s: %.1f °C\n", rapi.TemperatureSensor(i), t.Celsius)
			} else {
				fmt.Fprintf(c.out, "%s: not fitted\n", rapi.TemperatureSensor(i))
			}
		}
	case "capacity":
		cc, err := c.client.GetCurrentCapacity(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "min %dA, max %dA (hardware %dA), pilot %dA\n",
			cc.MinAmps, cc.MaxConfiguredAmps, cc.MaxHardwareAmps, cc.PilotAmps)
	case "time":
		t, err := c.client.GetTime(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s\n", t.Format("2006-01-02 15:04:05 MST"))
	case "synctime":
		now := time.Now()
		if err := c.client.SetTime(ctx, now); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "clock set to %s\n", now.In(c.client.Location()).Format("2006-01-02 15:04:05"))
	case "enable":
		return c.ok(c.client.Enable(ctx))
	case "disable":
		return c.ok(c.client.Disable(ctx))
	case "sleep":
		return c.ok(c.client.Sleep(ctx))
	case "current":
		if len(parts) != 2 {
			return fmt.Errorf("usage: current <amps>")
		}
		amps, err := strconv.Atoi(parts[1])
		if err != nil || amps <= 0 {
			return fmt.Errorf("invalid current %q", parts[1])
		}
		res, err := c.client.SetCurrentCapacity(ctx, amps, false)
		if err != nil {
			return err
		}
		if res.Clamped {
			fmt.Fprintf(c.out, "clamped to %dA\n", res.Amps)
		} else {
			fmt.Fprintf(c.out, "%dA\n", res.Amps)
		}
	default:
		return fmt.Errorf("unknown command %q (try help)", parts[0])
	}
	return nil
}

func (c *Console) ok(err error) error {
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, "OK")
	return nil
}

// WatchEvents prints controller events until the observers are replaced
func (c *Console) WatchEvents() {
	c.client.OnState(func(ev rapi.StateEvent) {
		fmt.Fprintf(c.out, "<< state %s\n", ev.State)
	})
	c.client.OnBoot(func(ev rapi.BootEvent) {
		fmt.Fprintf(c.out, "<< boot firmware %s, POST %s\n", ev.Firmware, ev.POST)
	})
	c.client.OnWiFi(func(mode rapi.WiFiMode) {
		fmt.Fprintf(c.out, "<< wifi %s\n", mode)
	})
	c.client.OnButton(func(press int) {
		fmt.Fprintf(c.out, "<< button %d\n", press)
	})
}

func (c *Console) printHelp() {
	fmt.Fprint(c.out, `Commands:
  $XX ...      send a raw RAPI command
  version      firmware and protocol ($GV)
  status       state and flags ($GS)
  power        current and voltage ($GG)
  energy       session and total energy ($GU)
  temp         temperatures ($GP)
  capacity     current limits ($GC)
  time         controller clock ($GT)
  synctime     set the controller clock to now ($S1)
  enable | disable | sleep
  current N    set the charge current (volatile)
  quit
`)
}
