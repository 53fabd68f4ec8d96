package rapi

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// DefaultTimeout bounds a single command round trip
const DefaultTimeout = 5 * time.Second

// Option configures a Client
type Option func(*Client)

// WithTimeout sets the per-command timeout; zero or negative leaves the
// caller's context as the only bound
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithLocation sets the time zone used to read and set the controller clock
func WithLocation(loc *time.Location) Option {
	return func(c *Client) {
		if loc != nil {
			c.location = loc
		}
	}
}

// Client speaks RAPI to one controller over a Channel.
// Commands are serialized; at most one is outstanding at a time.
type Client struct {
	mu        sync.RWMutex
	channel   Channel
	connected bool
	version   ProtocolVersion

	onState  func(StateEvent)
	onBoot   func(BootEvent)
	onWiFi   func(WiFiMode)
	onButton func(int)

	// cmdMu serializes command submission
	cmdMu sync.Mutex

	timeout  time.Duration
	location *time.Location
}

// NewClient creates an unbound client
func NewClient(opts ...Option) *Client {
	c := &Client{
		version:  DefaultProtocolVersion,
		timeout:  DefaultTimeout,
		location: time.UTC,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect binds ch, installs the event handler and negotiates the protocol
// version with $GV. The client is Connected only if the protocol string
// parses; the raw strings are returned either way.
func (c *Client) Connect(ctx context.Context, ch Channel) (VersionInfo, error) {
	if ch == nil {
		return VersionInfo{}, ErrNotBound
	}

	c.mu.Lock()
	c.channel = ch
	c.connected = false
	c.mu.Unlock()

	ch.SetEventHandler(c.handleEvent)

	tokens, err := c.query(ctx, "$GV", 3)
	if err != nil {
		return VersionInfo{Version: c.ProtocolVersion()}, err
	}

	info := VersionInfo{Firmware: tokens[1], Protocol: tokens[2]}
	v, err := ParseVersion(info.Protocol)
	if err != nil {
		info.Version = c.ProtocolVersion()
		return info, err
	}

	c.mu.Lock()
	c.version = v
	c.connected = true
	c.mu.Unlock()

	info.Version = v
	info.Connected = true
	return info, nil
}

// IsConnected reports whether version negotiation has succeeded
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// ProtocolVersion returns the negotiated version, or 1.0.0 before negotiation
func (c *Client) ProtocolVersion() ProtocolVersion {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Location returns the time zone used for clock operations
func (c *Client) Location() *time.Location {
	return c.location
}

// Raw sends an arbitrary command line and returns the reply as-is
func (c *Client) Raw(ctx context.Context, command string) (*Reply, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	return c.send(ctx, command)
}

func (c *Client) boundChannel() Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// send submits one command; the caller holds cmdMu
func (c *Client) send(ctx context.Context, command string) (*Reply, error) {
	ch := c.boundChannel()
	if ch == nil {
		return nil, ErrNotBound
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	reply, err := ch.Send(ctx, command)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", Mnemonic(command), err)
	}
	if reply == nil {
		return nil, fmt.Errorf("%s: %w", Mnemonic(command), ErrInvalidResponse)
	}
	return reply, nil
}

// query sends command and returns the tokens of an OK reply that carries
// at least minTokens tokens
func (c *Client) query(ctx context.Context, command string, minTokens int) ([]string, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	reply, err := c.send(ctx, command)
	if err != nil {
		return nil, err
	}
	return expectOK(command, reply, minTokens)
}

func expectOK(command string, reply *Reply, minTokens int) ([]string, error) {
	switch reply.Code() {
	case ResultOK:
		if len(reply.Tokens) < minTokens {
			return nil, fmt.Errorf("%s: %w: got %d tokens, want %d",
				Mnemonic(command), ErrInvalidResponse, len(reply.Tokens), minTokens)
		}
		return reply.Tokens, nil
	case ResultNK:
		return nil, fmt.Errorf("%s: %w", Mnemonic(command), ErrNK)
	default:
		return nil, fmt.Errorf("%s: %w: %q", Mnemonic(command), ErrInvalidResponse, reply.String())
	}
}

// fields decodes positional tokens, remembering the first failure so a
// reply is never half decoded
type fields struct {
	command string
	tokens  []string
	err     error
}

func (f *fields) int(i, base int) int {
	if f.err != nil {
		return 0
	}
	n, err := strconv.ParseInt(f.tokens[i], base, 64)
	if err != nil {
		f.err = fmt.Errorf("%s: %w: field %d %q", Mnemonic(f.command), ErrInvalidResponse, i, f.tokens[i])
		return 0
	}
	return int(n)
}

func (f *fields) int64(i int) int64 {
	if f.err != nil {
		return 0
	}
	n, err := strconv.ParseInt(f.tokens[i], 10, 64)
	if err != nil {
		f.err = fmt.Errorf("%s: %w: field %d %q", Mnemonic(f.command), ErrInvalidResponse, i, f.tokens[i])
		return 0
	}
	return n
}

func (f *fields) uint32(i, base int) uint32 {
	if f.err != nil {
		return 0
	}
	n, err := strconv.ParseUint(f.tokens[i], base, 32)
	if err != nil {
		f.err = fmt.Errorf("%s: %w: field %d %q", Mnemonic(f.command), ErrInvalidResponse, i, f.tokens[i])
		return 0
	}
	return uint32(n)
}
