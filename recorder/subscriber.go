package recorder

import (
	"log/slog"
	"time"

	"github.com/c360/busrecorder/metric"
	"github.com/c360/busrecorder/natsclient"
	"github.com/c360/busrecorder/protocol"
)

// BusSubscription is a handle to one active topic subscription
type BusSubscription interface {
	Unsubscribe() error
}

// Bus is the subscription surface the recorder needs from the pub/sub bus
type Bus interface {
	// Subscribe registers a callback for a subject. The callback runs on
	// the bus delivery goroutine and must not block.
	Subscribe(subject string, handler func(subject string, data []byte)) (BusSubscription, error)
}

// natsBus adapts natsclient.Client to the Bus interface
type natsBus struct {
	client *natsclient.Client
}

// NewNATSBus wraps a NATS client as a recorder Bus
func NewNATSBus(client *natsclient.Client) Bus {
	return &natsBus{client: client}
}

func (b *natsBus) Subscribe(subject string, handler func(string, []byte)) (BusSubscription, error) {
	return b.client.Subscribe(subject, handler)
}

// subscribeSession declares one subscription per session topic. The
// callback is allocation-lean: it short-circuits unless the session is
// Recording, wraps the payload as a Sample without copying, and pushes
// into the topic's buffer.
func subscribeSession(bus Bus, session *Session, metrics *metric.Metrics, logger *slog.Logger) error {
	for _, topic := range session.Topics() {
		topic := topic
		buffer := session.Buffer(topic)
		subject := natsclient.KeyToSubject(topic)

		sub, err := bus.Subscribe(subject, func(_ string, data []byte) {
			switch session.State() {
			case protocol.StateRecording:
			case protocol.StatePaused:
				// Samples arriving during Pause are discarded and counted
				session.discardedPaused.Add(1)
				if metrics != nil {
					metrics.SamplesDiscarded.WithLabelValues("paused").Inc()
				}
				return
			default:
				return
			}

			buffer.Push(Sample{
				Topic:       topic,
				TimestampNS: time.Now().UnixNano(),
				Payload:     data,
			})
		})
		if err != nil {
			// Roll back subscriptions already made for this session
			unsubscribeSession(session, logger)
			return err
		}
		session.subs = append(session.subs, sub)
	}

	logger.Debug("Subscribed to session topics",
		"recording_id", session.RecordingID(),
		"topics", len(session.Topics()))
	return nil
}

// unsubscribeSession drops all of the session's subscriptions. The bus
// guarantees no further callbacks once Unsubscribe returns.
func unsubscribeSession(session *Session, logger *slog.Logger) {
	for _, sub := range session.subs {
		if err := sub.Unsubscribe(); err != nil {
			logger.Warn("Failed to unsubscribe",
				"recording_id", session.RecordingID(),
				"error", err)
		}
	}
	session.subs = nil
}
