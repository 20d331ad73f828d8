package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gokatarajesh/live-quiz/internal/metrics"
	ws "github.com/gokatarajesh/live-quiz/pkg/http/ws"
)

// Kind names one of the per-session channels.
type Kind string

const (
	KindStudents       Kind = "broadcast_students"
	KindActiveStudents Kind = "broadcast_active_students"
	KindTeacher        Kind = "broadcast_teacher"
	KindFeedbackList   Kind = "individual_feedback_list"
	KindForceClose     Kind = "force_close_students"
)

var kinds = []Kind{KindStudents, KindActiveStudents, KindTeacher, KindFeedbackList, KindForceClose}

const envelopeVersion = 1

// Envelope is the wire form of everything published on a session channel.
type Envelope struct {
	V            int                   `json:"v"`
	PIN          string                `json:"pin"`
	Kind         Kind                  `json:"kind"`
	Origin       string                `json:"origin"`
	Message      *ws.Message           `json:"message,omitempty"`
	Recipients   []string              `json:"recipients,omitempty"`
	PerRecipient map[string]ws.Message `json:"per_recipient,omitempty"`
}

// Channel returns the pub/sub channel for a PIN and kind.
func Channel(pin string, kind Kind) string {
	return fmt.Sprintf("live:%s:%s", pin, kind)
}

// Channels returns every channel of a PIN.
func Channels(pin string) []string {
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, Channel(pin, k))
	}
	return out
}

// Deliverer hands envelopes to the sockets held by this instance.
type Deliverer interface {
	DeliverStudents(pin string, recipients []string, msg ws.Message) int
	DeliverTeacher(pin string, msg ws.Message) int
	DeliverEach(pin string, perStudent map[string]ws.Message) int
	ForceCloseStudents(pin string) int
}

// Fabric publishes session events to Redis and routes received events to the
// local Deliverer. One PubSub connection carries every PIN this instance
// holds sockets for.
type Fabric struct {
	client    *redis.Client
	pubsub    *redis.PubSub
	deliverer Deliverer
	origin    string
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewFabric creates a fabric with no active subscriptions.
func NewFabric(client *redis.Client, origin string, m *metrics.Metrics, logger zerolog.Logger) *Fabric {
	if m == nil {
		m = metrics.Nop()
	}
	return &Fabric{
		client:  client,
		pubsub:  client.Subscribe(context.Background()),
		origin:  origin,
		metrics: m,
		logger:  logger.With().Str("component", "broadcast_fabric").Str("instance_id", origin).Logger(),
	}
}

// SetDeliverer sets the local delivery target. It must be called before Run.
func (f *Fabric) SetDeliverer(d Deliverer) {
	f.deliverer = d
}

// Subscribe attaches this instance to every channel of pin.
func (f *Fabric) Subscribe(ctx context.Context, pin string) error {
	if err := f.pubsub.Subscribe(ctx, Channels(pin)...); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	f.logger.Debug().Str("pin", pin).Msg("subscribed")
	return nil
}

// Unsubscribe detaches this instance from pin's channels.
func (f *Fabric) Unsubscribe(ctx context.Context, pin string) error {
	if err := f.pubsub.Unsubscribe(ctx, Channels(pin)...); err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	f.logger.Debug().Str("pin", pin).Msg("unsubscribed")
	return nil
}

// Publish sends env to its channel. Failures are logged, not returned.
func (f *Fabric) Publish(ctx context.Context, env Envelope) {
	env.V = envelopeVersion
	env.Origin = f.origin
	data, err := json.Marshal(env)
	if err != nil {
		f.logger.Error().Err(err).Str("pin", env.PIN).Str("kind", string(env.Kind)).Msg("marshal envelope")
		return
	}
	if err := f.client.Publish(ctx, Channel(env.PIN, env.Kind), data).Err(); err != nil {
		f.logger.Warn().Err(err).Str("pin", env.PIN).Str("kind", string(env.Kind)).Msg("publish failed")
		return
	}
	f.metrics.BroadcastPublished.WithLabelValues(string(env.Kind)).Inc()
}

// ToStudents publishes msg to every student of pin.
func (f *Fabric) ToStudents(ctx context.Context, pin string, msg ws.Message) {
	f.Publish(ctx, Envelope{PIN: pin, Kind: KindStudents, Message: &msg})
}

// ToActiveStudents publishes msg to the listed students only. The list is
// resolved by the caller at publish time.
func (f *Fabric) ToActiveStudents(ctx context.Context, pin string, recipients []string, msg ws.Message) {
	if recipients == nil {
		recipients = []string{}
	}
	f.Publish(ctx, Envelope{PIN: pin, Kind: KindActiveStudents, Message: &msg, Recipients: recipients})
}

// ToTeacher publishes msg to the teacher of pin.
func (f *Fabric) ToTeacher(ctx context.Context, pin string, msg ws.Message) {
	f.Publish(ctx, Envelope{PIN: pin, Kind: KindTeacher, Message: &msg})
}

// ToEach publishes one message per student in a single envelope.
func (f *Fabric) ToEach(ctx context.Context, pin string, perStudent map[string]ws.Message) {
	f.Publish(ctx, Envelope{PIN: pin, Kind: KindFeedbackList, PerRecipient: perStudent})
}

// ForceCloseStudents asks every instance to drop the student sockets of pin.
func (f *Fabric) ForceCloseStudents(ctx context.Context, pin string) {
	f.Publish(ctx, Envelope{PIN: pin, Kind: KindForceClose})
}

// Run dispatches received envelopes until ctx is cancelled.
func (f *Fabric) Run(ctx context.Context) error {
	if f.deliverer == nil {
		return fmt.Errorf("broadcast: no deliverer")
	}

	ch := f.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			f.dispatch([]byte(msg.Payload))
		}
	}
}

// Close releases the PubSub connection.
func (f *Fabric) Close() error {
	return f.pubsub.Close()
}

func (f *Fabric) dispatch(payload []byte) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		f.logger.Warn().Err(err).Msg("failed to decode envelope")
		return
	}
	if env.V != envelopeVersion {
		f.logger.Warn().Int("v", env.V).Str("pin", env.PIN).Msg("unsupported envelope version")
		return
	}

	var delivered int
	switch env.Kind {
	case KindStudents:
		if env.Message != nil {
			delivered = f.deliverer.DeliverStudents(env.PIN, nil, *env.Message)
		}
	case KindActiveStudents:
		recipients := env.Recipients
		if recipients == nil {
			recipients = []string{}
		}
		if env.Message != nil {
			delivered = f.deliverer.DeliverStudents(env.PIN, recipients, *env.Message)
		}
	case KindTeacher:
		if env.Message != nil {
			delivered = f.deliverer.DeliverTeacher(env.PIN, *env.Message)
		}
	case KindFeedbackList:
		delivered = f.deliverer.DeliverEach(env.PIN, env.PerRecipient)
	case KindForceClose:
		delivered = f.deliverer.ForceCloseStudents(env.PIN)
	default:
		f.logger.Warn().Str("kind", string(env.Kind)).Msg("unknown envelope kind")
		return
	}

	if delivered > 0 {
		f.metrics.BroadcastDelivered.WithLabelValues(string(env.Kind)).Add(float64(delivered))
	}
}
