package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	streamName     = "KUMI_CHARTSETS"
	streamSubjects = "chartsets.>"
)

// NATSPublisher publishes envelopes to a JetStream stream. The envelope id is
// the message id, so redeliveries inside the duplicate window are dropped.
type NATSPublisher struct {
	url  string
	conn *nats.Conn
	js   nats.JetStreamContext
}

func NewNATSPublisher(url string) *NATSPublisher {
	return &NATSPublisher{url: url}
}

// Connect dials the server and creates the stream when it does not exist.
func (p *NATSPublisher) Connect(ctx context.Context) error {
	if p.url == "" {
		return fmt.Errorf("events: nats url is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	conn, err := nats.Connect(p.url, nats.Name("kumi-chartsets"))
	if err != nil {
		return fmt.Errorf("events: nats connect: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return fmt.Errorf("events: jetstream context: %w", err)
	}

	if _, err := js.StreamInfo(streamName); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			conn.Close()
			return fmt.Errorf("events: stream info: %w", err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:       streamName,
			Subjects:   []string{streamSubjects},
			Retention:  nats.LimitsPolicy,
			MaxAge:     7 * 24 * time.Hour,
			Discard:    nats.DiscardOld,
			Storage:    nats.FileStorage,
			Duplicates: 2 * time.Minute,
		})
		if err != nil {
			conn.Close()
			return fmt.Errorf("events: create stream %s: %w", streamName, err)
		}
	}

	p.conn = conn
	p.js = js
	return nil
}

func (p *NATSPublisher) Publish(ctx context.Context, envelope Envelope) error {
	if p.js == nil {
		return fmt.Errorf("events: nats publisher is not connected")
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("events: encode envelope: %w", err)
	}
	if _, err := p.js.Publish(envelope.Subject(), payload, nats.MsgId(envelope.ID), nats.Context(ctx)); err != nil {
		return fmt.Errorf("events: publish %s: %w", envelope.Type, err)
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	if p.conn != nil {
		if err := p.conn.Drain(); err != nil {
			p.conn.Close()
			return err
		}
	}
	return nil
}
