package rapi

import (
	"strconv"
	"strings"
)

// StateEvent is an unsolicited state change. Legacy $ST events only carry
// the EVSE state; PilotState is then StateInvalid and the rest is zero.
type StateEvent struct {
	State           EVSEState
	PilotState      EVSEState
	CurrentCapacity int
	VFlags          VFlags
}

// BootEvent is sent by the controller after power-on self test
type BootEvent struct {
	POST     POSTCode
	Firmware string
}

// OnState registers the state change observer, replacing any previous one.
// nil clears it.
func (c *Client) OnState(fn func(StateEvent)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// OnBoot registers the boot observer
func (c *Client) OnBoot(fn func(BootEvent)) {
	c.mu.Lock()
	c.onBoot = fn
	c.mu.Unlock()
}

// OnWiFi registers the Wi-Fi mode observer
func (c *Client) OnWiFi(fn func(WiFiMode)) {
	c.mu.Lock()
	c.onWiFi = fn
	c.mu.Unlock()
}

// OnButton registers the button press observer
func (c *Client) OnButton(fn func(int)) {
	c.mu.Lock()
	c.onButton = fn
	c.mu.Unlock()
}

// handleEvent is installed on the channel by Connect. Malformed lines and
// unknown event kinds are dropped.
func (c *Client) handleEvent(line string) {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return
	}

	c.mu.RLock()
	onState, onBoot, onWiFi, onButton := c.onState, c.onBoot, c.onWiFi, c.onButton
	c.mu.RUnlock()

	switch tokens[0] {
	case "$ST":
		if onState == nil || len(tokens) < 2 {
			return
		}
		state, ok := parseEventInt(tokens[1], 16)
		if !ok {
			return
		}
		onState(StateEvent{State: EVSEState(state), PilotState: StateInvalid})

	case "$AT":
		if onState == nil || len(tokens) < 5 {
			return
		}
		state, ok1 := parseEventInt(tokens[1], 16)
		pilot, ok2 := parseEventInt(tokens[2], 16)
		capacity, ok3 := parseEventInt(tokens[3], 10)
		vflags, ok4 := parseEventInt(tokens[4], 16)
		if !ok1 || !ok2 || !ok3 || !ok4 {
			return
		}
		onState(StateEvent{
			State:           EVSEState(state),
			PilotState:      EVSEState(pilot),
			CurrentCapacity: capacity,
			VFlags:          VFlags(vflags),
		})

	case "$AB":
		if onBoot == nil || len(tokens) < 3 {
			return
		}
		post, ok := parseEventInt(tokens[1], 16)
		if !ok {
			return
		}
		onBoot(BootEvent{POST: POSTCode(post), Firmware: tokens[2]})

	case "$WF":
		if onWiFi == nil || len(tokens) < 2 {
			return
		}
		mode, ok := parseEventInt(tokens[1], 10)
		if !ok {
			return
		}
		onWiFi(WiFiMode(mode))

	case "$AN":
		if onButton == nil || len(tokens) < 2 {
			return
		}
		press, ok := parseEventInt(tokens[1], 10)
		if !ok {
			return
		}
		onButton(press)
	}
}

func parseEventInt(tok string, base int) (int, bool) {
	n, err := strconv.ParseInt(tok, base, 64)
	if err != nil {
		return 0, false
	}
	return int(n), true
}
