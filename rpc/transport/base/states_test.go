package base

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateTransitions(t *testing.T) {
	legal := map[ConnState][]ConnState{
		StateInit:        {StateHandshaking, StateTerminated},
		StateHandshaking: {StateReady, StateTerminated},
		StateReady:       {StateProcessing, StateTerminated},
		StateProcessing:  {StateReady, StateTerminated},
		StateTerminated:  {},
	}
	all := []ConnState{StateInit, StateHandshaking, StateReady, StateProcessing, StateTerminated}

	for from, targets := range legal {
		for _, to := range all {
			want := false
			for _, l := range targets {
				if l == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
	assert.False(t, ConnState(42).CanTransition(StateReady))
	assert.Equal(t, "STATE(42)", ConnState(42).String())
}

func TestIllegalTransitionPanics(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	tr := NewBaseServerTransport(testConnector{}, nil).(*serverTransport)
	c := newConnection(1, server, tr)

	assert.Equal(t, StateInit, c.State())
	assert.Panics(t, func() { c.transition(StateReady) })

	c.transition(StateHandshaking)
	c.transition(StateReady)
	c.transition(StateProcessing)
	assert.Panics(t, func() { c.transition(StateHandshaking) })
	assert.Equal(t, StateProcessing, c.State())
}
