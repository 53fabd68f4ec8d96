package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openevse-mqtt-bridge/pkg/rapi"
	"openevse-mqtt-bridge/pkg/rapi/rapitest"
)

func newTestConsole(t *testing.T) (*Console, *rapitest.Channel, *bytes.Buffer) {
	t.Helper()
	ch := rapitest.New().Enqueue("$OK 7.1.3 5.0.1")
	client := rapi.NewClient()
	_, err := client.Connect(context.Background(), ch)
	require.NoError(t, err)
	ch.Reset()

	out := &bytes.Buffer{}
	return NewConsole(client, out), ch, out
}

func TestConsoleCommands(t *testing.T) {
	tests := []struct {
		line  string
		route string
		reply string
		sent  string
		want  string
	}{
		{"$GV", "$GV", "$OK 7.1.3 5.0.1", "$GV", "$OK 7.1.3 5.0.1\n"},
		{"energy", "$GU", "$OK 36000 12345", "$GU", "session 10 Wh, total 12.3 kWh\n"},
		{"power", "$GG", "$OK 16000 240000", "$GG", "16.00 A, 240.0 V, 3840 W\n"},
		{"enable", "$FE", "$OK", "$FE", "OK\n"},
		{"current 16", "$SC", "$OK 16", "$SC 16 V", "16A\n"},
		{"current 80", "$SC", "$NK 32", "$SC 80 V", "clamped to 32A\n"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			console, ch, out := newTestConsole(t)
			ch.Route(tt.route, tt.reply)

			require.NoError(t, console.Execute(context.Background(), tt.line))
			assert.Equal(t, []string{tt.sent}, ch.Sent())
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestConsoleErrors(t *testing.T) {
	console, ch, out := newTestConsole(t)
	ch.Route("$FS", "$NK")

	err := console.Execute(context.Background(), "sleep")
	require.Error(t, err)
	assert.Equal(t, rapi.ResultNK, rapi.CodeOf(err))

	assert.Error(t, console.Execute(context.Background(), "current lots"))
	assert.Error(t, console.Execute(context.Background(), "launch"))
	assert.NoError(t, console.Execute(context.Background(), "   "))
	assert.Equal(t, []string{"$FS"}, ch.Sent())
	assert.Empty(t, out.String())
}

func TestConsoleEvents(t *testing.T) {
	console, ch, out := newTestConsole(t)
	console.WatchEvents()

	ch.Emit("$ST 3")
	ch.Emit("$WF 1")
	ch.Emit("$AN 2")

	assert.Equal(t, "<< state Charging\n<< wifi client\n<< button 2\n", out.String())
}
