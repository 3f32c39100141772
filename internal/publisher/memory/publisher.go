// Package memory keeps published record messages in process, for local runs
// without a broker and for tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/JakeFAU/jobhunt-agent/internal/publisher"
)

// Message is one accepted publish, encoded as the Pub/Sub adapter would
// send it.
type Message struct {
	ID    string
	Topic string
	publisher.Message
}

// Publisher records messages instead of sending them.
type Publisher struct {
	mu   sync.Mutex
	msgs []Message
	fail error
}

// New returns an empty Publisher.
func New() *Publisher { return &Publisher{} }

// FailWith makes every later Publish return err; nil restores success.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	p.fail = err
	p.mu.Unlock()
}

func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	msg, err := publisher.Encode(ctx, payload)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, p.fail)
	}
	id := fmt.Sprintf("memory-%d", len(p.msgs)+1)
	p.msgs = append(p.msgs, Message{ID: id, Topic: topic, Message: msg})
	return id, nil
}

// Messages returns a copy of what has been published so far.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.msgs)
}
