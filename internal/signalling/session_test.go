package signalling

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionsReplace(t *testing.T) {
	sessions := NewSessions()
	first := &Connection{Session: Session{ClientID: "a", MovieID: "m1"}}
	second := &Connection{Session: Session{ClientID: "a", MovieID: "m2"}}

	assert.Nil(t, sessions.Register(first))
	assert.Same(t, first, sessions.Register(second))
	assert.Equal(t, 1, sessions.Len())

	assert.False(t, sessions.Unregister(first), "stale connection must not evict its replacement")
	movie, ok := sessions.MovieOf("a")
	require.True(t, ok)
	assert.Equal(t, "m2", movie)

	assert.True(t, sessions.Unregister(second))
	_, ok = sessions.Lookup("a")
	assert.False(t, ok)
}

func TestRelayForwardWithoutTarget(t *testing.T) {
	sessions := NewSessions()
	sessions.Register(&Connection{Session: Session{ClientID: "b", MovieID: "m2"}})
	relay := NewRelay(nil, sessions, "")

	err := relay.Forward(context.Background(), Envelope{Type: "rtcOffer", From: "a", To: "b", MovieID: "m1"})
	assert.ErrorIs(t, err, ErrPeerUnreachable)

	err = relay.Forward(context.Background(), Envelope{Type: "rtcOffer", From: "a", To: "c", MovieID: "m1"})
	assert.ErrorIs(t, err, ErrPeerUnreachable)
}
