package rapi

import (
	"context"
	"strings"
)

// Channel carries RAPI command lines to the controller and correlates replies.
// Implementations must return exactly one reply per Send and deliver every
// line that is not a correlated reply to the registered event handler.
type Channel interface {
	// Send submits one command line ("$XX arg ...", no checksum) and waits
	// for its reply. Errors are channel failures (timeout, link down).
	Send(ctx context.Context, command string) (*Reply, error)

	// SetEventHandler registers the sink for unsolicited lines
	SetEventHandler(handler func(line string))
}

// Reply is a correlated controller response split into tokens.
// Tokens[0] is "$OK" or "$NK".
type Reply struct {
	Tokens []string
}

// NewReply tokenizes a reply line that has already had its checksum and
// sequence suffix removed
func NewReply(line string) *Reply {
	return &Reply{Tokens: strings.Fields(line)}
}

// Code classifies the reply by its leading token
func (r *Reply) Code() ResultCode {
	if r == nil || len(r.Tokens) == 0 {
		return ResultInvalidResponse
	}
	switch r.Tokens[0] {
	case "$OK":
		return ResultOK
	case "$NK":
		return ResultNK
	default:
		return ResultFailure
	}
}

func (r *Reply) String() string {
	if r == nil {
		return ""
	}
	return strings.Join(r.Tokens, " ")
}

// IsReplyLine reports whether a raw line is a command reply rather than an event
func IsReplyLine(line string) bool {
	line = strings.TrimSpace(line)
	return strings.HasPrefix(line, "$OK") || strings.HasPrefix(line, "$NK")
}

// Mnemonic returns the "$XX" part of a command line
func Mnemonic(command string) string {
	command = strings.TrimSpace(command)
	if i := strings.IndexByte(command, ' '); i >= 0 {
		return command[:i]
	}
	return command
}

// Args returns everything after the mnemonic, without the separating space
func Args(command string) string {
	command = strings.TrimSpace(command)
	if i := strings.IndexByte(command, ' '); i >= 0 {
		return command[i+1:]
	}
	return ""
}
