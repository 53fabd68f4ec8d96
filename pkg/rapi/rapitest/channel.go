// Package rapitest provides a scripted in-memory rapi.Channel
package rapitest

import (
	"context"
	"errors"
	"sync"

	"openevse-mqtt-bridge/pkg/rapi"
)

// ErrUnscripted is returned by Send when no reply has been scripted
var ErrUnscripted = errors.New("rapitest: no scripted reply")

type step struct {
	line string
	err  error
}

// Channel replays scripted replies. Queued replies are consumed in order;
// once the queue is empty, replies are looked up by mnemonic.
type Channel struct {
	mu      sync.Mutex
	queue   []step
	routes  map[string]step
	sent    []string
	handler func(line string)
}

// New creates an empty scripted channel
func New() *Channel {
	return &Channel{routes: make(map[string]step)}
}

// Enqueue adds a reply line for the next unanswered command
func (c *Channel) Enqueue(lines ...string) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range lines {
		c.queue = append(c.queue, step{line: l})
	}
	return c
}

// EnqueueError makes the next command fail with err
func (c *Channel) EnqueueError(err error) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, step{err: err})
	return c
}

// Route answers every command with the given mnemonic ("$GS") with line
func (c *Channel) Route(mnemonic, line string) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes[mnemonic] = step{line: line}
	return c
}

// RouteError fails every command with the given mnemonic
func (c *Channel) RouteError(mnemonic string, err error) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes[mnemonic] = step{err: err}
	return c
}

// Send implements rapi.Channel
func (c *Channel) Send(ctx context.Context, command string) (*rapi.Reply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.sent = append(c.sent, command)

	var s step
	switch {
	case len(c.queue) > 0:
		s = c.queue[0]
		c.queue = c.queue[1:]
	default:
		r, ok := c.routes[rapi.Mnemonic(command)]
		if !ok {
			c.mu.Unlock()
			return nil, ErrUnscripted
		}
		s = r
	}
	c.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	return rapi.NewReply(s.line), nil
}

// SetEventHandler implements rapi.Channel
func (c *Channel) SetEventHandler(handler func(line string)) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

// Emit delivers an unsolicited line to the registered handler
func (c *Channel) Emit(line string) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(line)
	}
}

// Sent returns the commands submitted so far
func (c *Channel) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	copy(out, c.sent)
	return out
}

// Reset clears sent commands and the reply queue; routes are kept
func (c *Channel) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
	c.queue = nil
}
