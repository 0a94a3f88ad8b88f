// Package memory records published domain events in process. It backs the
// service when no Pub/Sub project is configured, and tests read it back.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// PublishedMessage is one recorded Publish call.
type PublishedMessage struct {
	ID      string
	Topic   string
	Payload any
}

// Publisher implements intel.Publisher by appending to a log.
type Publisher struct {
	mu  sync.RWMutex
	log []PublishedMessage
}

func New() *Publisher {
	return &Publisher{}
}

// Publish records payload under topic. Like the Pub/Sub client it refuses
// work once ctx is done. IDs are memory-1, memory-2, and so on.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("memory-%d", len(p.log)+1)
	p.log = append(p.log, PublishedMessage{ID: id, Topic: topic, Payload: payload})
	return id, nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]PublishedMessage(nil), p.log...)
}

// Topic returns the payloads sent to topic in publish order.
func (p *Publisher) Topic(topic string) []any {
	var out []any
	for _, m := range p.Messages() {
		if m.Topic == topic {
			out = append(out, m.Payload)
		}
	}
	return out
}
