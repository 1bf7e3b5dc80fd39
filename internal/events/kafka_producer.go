package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/driver-console/internal/models"
	"github.com/example/driver-console/internal/observability"
	"github.com/example/driver-console/internal/tracker"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes tracker lifecycle events to Kafka, keyed by driver so
// one driver's events stay ordered within a partition.
type Producer struct {
	writer   messageWriter
	driverID string
	log      *slog.Logger
}

func NewKafkaProducer(brokers []string, topic, driverID string, log *slog.Logger) *Producer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.Hash{}})
	return newProducer(w, driverID, log)
}

func newProducer(w messageWriter, driverID string, log *slog.Logger) *Producer {
	if log == nil {
		log = slog.Default()
	}
	return &Producer{writer: w, driverID: driverID, log: log}
}

// Record flattens an event into the journal form.
func Record(driverID string, ev tracker.Event) models.LifecycleRecord {
	return models.LifecycleRecord{
		EventID:   ev.ID,
		DriverID:  driverID,
		Type:      string(ev.Type),
		Phase:     string(ev.State.Phase),
		RequestID: ev.RequestID,
		TripID:    ev.TripID,
		Fare:      ev.Fare,
		At:        ev.At.UTC(),
	}
}

func (p *Producer) Publish(ctx context.Context, ev tracker.Event) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(Record(p.driverID, ev))
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(p.driverID), Value: b})
}

// Forward publishes every event except countdown ticks until the channel
// closes or ctx is done. Failures are logged and counted, never retried.
func (p *Producer) Forward(ctx context.Context, events <-chan tracker.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type == tracker.EventCountdownTick {
				continue
			}
			if err := p.Publish(ctx, ev); err != nil {
				observability.EventsPublished.WithLabelValues("error").Inc()
				p.log.Warn("publish lifecycle event failed", "event_type", ev.Type, "error", err)
				continue
			}
			observability.EventsPublished.WithLabelValues("ok").Inc()
		}
	}
}

func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
