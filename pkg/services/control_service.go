package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	bridgeerrors "openevse-mqtt-bridge/pkg/errors"
	"openevse-mqtt-bridge/pkg/logger"
	"openevse-mqtt-bridge/pkg/mqtt"
	"openevse-mqtt-bridge/pkg/rapi"
	"openevse-mqtt-bridge/pkg/topics"
)

// ControlPubSub is what the control service needs from the broker side
type ControlPubSub interface {
	mqtt.Subscriber
	mqtt.MessagePublisher
}

// CommandResult is published to <state_prefix>/set/<command>/result
type CommandResult struct {
	Command   string `json:"command"`
	Payload   string `json:"payload"`
	Result    string `json:"result"`
	Value     string `json:"value,omitempty"`
	Clamped   bool   `json:"clamped,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// ResultInvalidRequest is reported when a payload does not parse
const ResultInvalidRequest = "INVALID_REQUEST"

const defaultCommandDeadline = 15 * time.Second

type commandFunc func(ctx context.Context, s *ControlService, payload string) (CommandResult, error)

// refresh lists the groups polled again after a successful command
type command struct {
	run     commandFunc
	refresh []string
}

var commands = map[string]command{
	"current":         {run: setCurrent, refresh: []string{"capacity", "settings"}},
	"enable":          {run: simple((*rapi.Client).Enable), refresh: []string{"status"}},
	"disable":         {run: simple((*rapi.Client).Disable), refresh: []string{"status"}},
	"sleep":           {run: simple((*rapi.Client).Sleep), refresh: []string{"status"}},
	"restart":         {run: simple((*rapi.Client).Restart)},
	"clear_boot_lock": {run: simple((*rapi.Client).ClearBootLock), refresh: []string{"status"}},
	"service_level":   {run: setServiceLevel, refresh: []string{"settings", "capacity"}},
	"timer":           {run: setTimer, refresh: []string{"settings"}},
	"lcd_colour":      {run: setLCDColour},
	"lcd_text":        {run: setLCDText},
	"feature":         {run: setFeature, refresh: []string{"settings"}},
	"sync_time":       {run: syncTime},
}

// Commands returns the supported command names
func Commands() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	return names
}

// ControlService maps MQTT control messages to controller mutations
type ControlService struct {
	client      *rapi.Client
	pubsub      ControlPubSub
	statePrefix string
	saveCurrent bool

	// Trigger requests an immediate poll of a group (scheduler.Trigger)
	Trigger func(group string) bool

	mu  sync.RWMutex
	ctx context.Context
	wg  sync.WaitGroup
	now func() time.Time
}

// NewControlService creates the control service
func NewControlService(client *rapi.Client, pubsub ControlPubSub, statePrefix string, saveCurrent bool) *ControlService {
	return &ControlService{
		client:      client,
		pubsub:      pubsub,
		statePrefix: statePrefix,
		saveCurrent: saveCurrent,
		now:         time.Now,
	}
}

// Start subscribes to the control topics and blocks until ctx is done
func (s *ControlService) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	topic := topics.BuildSetWildcard(s.statePrefix)
	if err := s.pubsub.Subscribe(topic, s.onMessage); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	logger.LogInfo("🎛️ Control service listening on %s", topic)

	<-ctx.Done()
	s.wg.Wait()
	return nil
}

func (s *ControlService) onMessage(topic string, payload []byte) {
	name, ok := topics.ParseSetTopic(s.statePrefix, topic)
	if !ok {
		return
	}

	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Handle(ctx, name, string(payload))
	}()
}

// Handle executes one command and publishes its result
func (s *ControlService) Handle(ctx context.Context, name, payload string) CommandResult {
	ctx, cancel := context.WithTimeout(ctx, defaultCommandDeadline)
	defer cancel()

	payload = strings.TrimSpace(payload)
	res, err := s.Execute(ctx, name, payload)
	res.Command = name
	res.Payload = payload
	res.Timestamp = s.now().UTC().Format(time.RFC3339)

	if err != nil {
		logger.LogWarn("🎛️ Command %s(%q) failed: %v", name, payload, err)
	} else {
		logger.LogInfo("🎛️ Command %s(%q): %s", name, payload, res.Result)
	}

	data, mErr := json.Marshal(res)
	if mErr == nil {
		mErr = s.pubsub.Publish(ctx, topics.BuildResultTopic(s.statePrefix, name), false, data)
	}
	if mErr != nil {
		logger.LogError("⚠️ Error publishing result of %s: %v", name, mErr)
	}
	return res
}

// Execute runs a named command without publishing; Result is always set
func (s *ControlService) Execute(ctx context.Context, name, payload string) (CommandResult, error) {
	cmd, ok := commands[name]
	if !ok {
		err := bridgeerrors.NewValidationError("command", "one of the supported commands", name)
		return CommandResult{Result: ResultInvalidRequest, Error: err.Error()}, err
	}

	res, err := cmd.run(ctx, s, payload)
	if err != nil {
		var vErr *bridgeerrors.ValidationError
		if errors.As(err, &vErr) {
			res.Result = ResultInvalidRequest
		} else {
			res.Result = rapi.CodeOf(err).String()
		}
		res.Error = err.Error()
		return res, err
	}

	res.Result = rapi.ResultOK.String()
	if s.Trigger != nil {
		for _, group := range cmd.refresh {
			s.Trigger(group)
		}
	}
	return res, nil
}

func simple(fn func(*rapi.Client, context.Context) error) commandFunc {
	return func(ctx context.Context, s *ControlService, _ string) (CommandResult, error) {
		return CommandResult{}, fn(s.client, ctx)
	}
}

func setCurrent(ctx context.Context, s *ControlService, payload string) (CommandResult, error) {
	amps, err := strconv.Atoi(payload)
	if err != nil || amps <= 0 {
		return CommandResult{}, bridgeerrors.NewValidationError("current", "positive integer amps", payload)
	}
	cr, err := s.client.SetCurrentCapacity(ctx, amps, s.saveCurrent)
	if err != nil {
		return CommandResult{}, err
	}
	return CommandResult{Value: strconv.Itoa(cr.Amps), Clamped: cr.Clamped}, nil
}

func setServiceLevel(ctx context.Context, s *ControlService, payload string) (CommandResult, error) {
	var level rapi.ServiceLevel
	switch strings.ToLower(payload) {
	case "1":
		level = rapi.ServiceLevel1
	case "2":
		level = rapi.ServiceLevel2
	case "a", "auto":
		level = rapi.ServiceLevelAuto
	default:
		return CommandResult{}, bridgeerrors.NewValidationError("service_level", "1, 2 or auto", payload)
	}
	return CommandResult{}, s.client.SetServiceLevel(ctx, level)
}

// ParseTimer parses "HH:MM-HH:MM"; "off" clears the timer
func ParseTimer(payload string) (rapi.Timer, error) {
	if strings.EqualFold(payload, "off") {
		return rapi.Timer{}, nil
	}

	invalid := bridgeerrors.NewValidationError("timer", "HH:MM-HH:MM or off", payload)
	start, end, ok := strings.Cut(payload, "-")
	if !ok {
		return rapi.Timer{}, invalid
	}
	sh, sm, err1 := parseClock(start)
	eh, em, err2 := parseClock(end)
	if err1 != nil || err2 != nil {
		return rapi.Timer{}, invalid
	}
	return rapi.Timer{StartHour: sh, StartMinute: sm, EndHour: eh, EndMinute: em}, nil
}

func parseClock(s string) (int, int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}

func setTimer(ctx context.Context, s *ControlService, payload string) (CommandResult, error) {
	t, err := ParseTimer(payload)
	if err != nil {
		return CommandResult{}, err
	}
	if !t.Enabled() {
		return CommandResult{Value: "off"}, s.client.ClearTimer(ctx)
	}
	return CommandResult{}, s.client.SetTimer(ctx, t.StartHour, t.StartMinute, t.EndHour, t.EndMinute)
}

func setLCDColour(ctx context.Context, s *ControlService, payload string) (CommandResult, error) {
	colour, ok := rapi.ParseLCDColour(payload)
	if !ok {
		if n, err := strconv.Atoi(payload); err == nil && n >= int(rapi.LCDOff) && n <= int(rapi.LCDWhite) {
			colour, ok = rapi.LCDColour(n), true
		}
	}
	if !ok {
		return CommandResult{}, bridgeerrors.NewValidationError("lcd_colour", "colour name or 0-7", payload)
	}
	return CommandResult{}, s.client.LCDSetColour(ctx, colour)
}

// setLCDText accepts "text" (written at 0,0) or "x y text"
func setLCDText(ctx context.Context, s *ControlService, payload string) (CommandResult, error) {
	x, y, text := 0, 0, payload
	if parts := strings.SplitN(payload, " ", 3); len(parts) == 3 {
		px, errX := strconv.Atoi(parts[0])
		py, errY := strconv.Atoi(parts[1])
		if errX == nil && errY == nil {
			x, y, text = px, py, parts[2]
		}
	}
	if text == "" {
		return CommandResult{}, bridgeerrors.NewValidationError("lcd_text", "non-empty text", payload)
	}
	return CommandResult{}, s.client.LCDDisplayText(ctx, x, y, text)
}

// setFeature accepts "<id> <0|1>", e.g. "G 1"
func setFeature(ctx context.Context, s *ControlService, payload string) (CommandResult, error) {
	invalid := bridgeerrors.NewValidationError("feature", "<B|D|E|F|G|R|T|V> <0|1>", payload)
	parts := strings.Fields(payload)
	if len(parts) != 2 || len(parts[0]) != 1 {
		return CommandResult{}, invalid
	}
	id := rapi.Feature(strings.ToUpper(parts[0])[0])
	on, err := strconv.ParseBool(parts[1])
	if !id.Valid() || err != nil {
		return CommandResult{}, invalid
	}
	return CommandResult{}, s.client.Feature(ctx, id, on)
}

func syncTime(ctx context.Context, s *ControlService, _ string) (CommandResult, error) {
	now := s.now()
	if err := s.client.SetTime(ctx, now); err != nil {
		return CommandResult{}, err
	}
	return CommandResult{Value: now.In(s.client.Location()).Format("2006-01-02 15:04:05")}, nil
}
