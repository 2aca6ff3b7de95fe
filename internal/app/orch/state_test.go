package orch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionHappyPath(t *testing.T) {
	s := CallState{Phase: PhaseIdle}
	s, err := transition(s, event{kind: evAcquire, channel: "voice-1"})
	require.NoError(t, err)
	assert.Equal(t, PhaseConnecting, s.Phase)

	s, err = transition(s, event{kind: evJoined, on: true})
	require.NoError(t, err)
	assert.Equal(t, CallState{Phase: PhaseInCall, ChannelID: "voice-1", Video: true}, s)

	s, err = transition(s, event{kind: evScreen, on: true})
	require.NoError(t, err)
	assert.True(t, s.Screen)

	s, err = transition(s, event{kind: evReset})
	require.NoError(t, err)
	assert.Equal(t, CallState{Phase: PhaseIdle}, s)
}

func TestTransitionRejectsIllegalMoves(t *testing.T) {
	idle := CallState{Phase: PhaseIdle}
	_, err := transition(idle, event{kind: evScreen, on: true})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, err, ErrNotInCall)

	_, err = transition(idle, event{kind: evCamera, on: true})
	assert.ErrorIs(t, err, ErrNotInCall)

	_, err = transition(idle, event{kind: evJoined})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	in := CallState{Phase: PhaseInCall, ChannelID: "c"}
	_, err = transition(in, event{kind: evAcquire, channel: "d"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = transition(in, event{kind: evScreen, on: false})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = transition(CallState{Phase: PhaseConnecting}, event{kind: evScreen, on: true})
	assert.ErrorIs(t, err, ErrNotInCall)
}

func TestResetFromAnywhere(t *testing.T) {
	for _, s := range []CallState{
		{Phase: PhaseIdle},
		{Phase: PhaseConnecting, ChannelID: "c"},
		{Phase: PhaseInCall, ChannelID: "c", Video: true, Screen: true, Inbound: true},
	} {
		got, err := transition(s, event{kind: evReset})
		require.NoError(t, err)
		assert.Equal(t, CallState{Phase: PhaseIdle}, got)
	}
}
