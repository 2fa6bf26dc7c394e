package signalling

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/kalash/swarm-cdn/internal/keys"
	"github.com/kalash/swarm-cdn/internal/logging"
)

var ErrPeerUnreachable = errors.New("target peer is not connected")

// Relay forwards RTC negotiation envelopes between peers of the same movie.
// Targets on this instance are written directly; anything else goes out on
// a store channel that every instance subscribes to.
type Relay struct {
	rdb      redis.UniversalClient
	sessions *Sessions
	channel  string
}

func NewRelay(rdb redis.UniversalClient, sessions *Sessions, channel string) *Relay {
	return &Relay{rdb: rdb, sessions: sessions, channel: keys.RelayChannel(channel)}
}

func (r *Relay) Forward(ctx context.Context, env Envelope) error {
	if conn, ok := r.sessions.Lookup(env.To); ok {
		if conn.Session.MovieID != env.MovieID {
			return fmt.Errorf("%w: %s", ErrPeerUnreachable, env.To)
		}
		return conn.Send(ctx, env)
	}
	if r.rdb == nil {
		return fmt.Errorf("%w: %s", ErrPeerUnreachable, env.To)
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel, payload).Err()
}

// Serve delivers envelopes published by other instances to local sessions.
func (r *Relay) Serve(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("relay subscription closed")
			}
			r.deliver(ctx, msg.Payload)
		}
	}
}

func (r *Relay) deliver(ctx context.Context, payload string) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		logging.Warn().Err(err).Msg("drop malformed relay envelope")
		return
	}
	conn, ok := r.sessions.Lookup(env.To)
	if !ok || conn.Session.MovieID != env.MovieID {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	if err := conn.Send(ctx, env); err != nil {
		logging.Debug().Err(err).Str("peer", env.To).Msg("relay delivery failed")
	}
}

func (r *Relay) String() string {
	return "signalling-relay"
}
