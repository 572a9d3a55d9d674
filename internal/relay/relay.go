// ABOUTME: Redis pub/sub relay that spreads conversation fan-out across gateway instances
// ABOUTME: Delivers to the local hub first, then publishes an envelope other instances replay

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/homedecor/support-gateway/internal/metrics"
	"github.com/homedecor/support-gateway/internal/realtime"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "support-gateway:fanout"

// ErrMalformedEnvelope is returned for relay messages that cannot be decoded
var ErrMalformedEnvelope = errors.New("malformed relay envelope")

// LocalBroadcaster delivers a payload to the connections held by this instance.
type LocalBroadcaster interface {
	Broadcast(key realtime.GroupKey, payload []byte) int
}

type envelope struct {
	Origin    string             `json:"origin"`
	Namespace realtime.Namespace `json:"namespace"`
	Name      string             `json:"name"`
	Payload   json.RawMessage    `json:"payload"`
}

// Relay implements realtime.Publisher over redis pub/sub.
type Relay struct {
	client  *redis.Client
	channel string
	origin  string
	local   LocalBroadcaster
	logger  *slog.Logger
}

var _ realtime.Publisher = (*Relay)(nil)

// Dial parses a redis URL and verifies the server answers.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("relay: parse url: %w", err)
	}
	c := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("relay: ping: %w", err)
	}
	return c, nil
}

// New creates a Relay publishing on channel. Pass nil logger for default.
func New(client *redis.Client, channel string, local LocalBroadcaster, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if channel == "" {
		channel = DefaultChannel
	}
	origin := uuid.New().String()
	return &Relay{
		client:  client,
		channel: channel,
		origin:  origin,
		local:   local,
		logger:  logger.With("component", "relay", "origin", origin),
	}
}

// Origin identifies this instance in published envelopes.
func (r *Relay) Origin() string { return r.origin }

// Publish delivers payload to local members, then forwards it to the other
// instances. Local delivery happens even when redis is unavailable.
func (r *Relay) Publish(ctx context.Context, key realtime.GroupKey, payload []byte) error {
	r.local.Broadcast(key, payload)

	data, err := json.Marshal(envelope{
		Origin:    r.origin,
		Namespace: key.Namespace,
		Name:      key.Name,
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("relay: encode envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("relay: publish: %w", err)
	}
	metrics.RecordRelay("out")
	return nil
}

// Run subscribes to the relay channel and replays envelopes from other
// instances until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("relay: subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("relay subscribed", "channel", r.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := r.deliver([]byte(msg.Payload)); err != nil {
				r.logger.Warn("dropping relay message", "error", err)
			}
		}
	}
}

// deliver replays one envelope to local members. Envelopes this instance
// published were already delivered locally and are skipped.
func (r *Relay) deliver(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Origin == r.origin {
		return nil
	}
	key := realtime.GroupKey{Namespace: env.Namespace, Name: env.Name}
	if key.Namespace == "" || key.Name == "" || len(env.Payload) == 0 {
		return fmt.Errorf("%w: missing group or payload", ErrMalformedEnvelope)
	}

	n := r.local.Broadcast(key, env.Payload)
	metrics.RecordRelay("in")
	r.logger.Debug("relayed message delivered",
		"group", key.String(),
		"from", env.Origin,
		"delivered", n)
	return nil
}

// Close releases the redis client.
func (r *Relay) Close() error {
	return r.client.Close()
}
