// Package memory keeps published page events in process for tests and dry runs.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/webscraper/internal/scraper"
)

// Message is one accepted publish, with the attributes a broker would see.
type Message struct {
	ID         string
	Topic      string
	Event      scraper.PageEvent
	Attributes map[string]string
}

// Publisher records page events per topic.
type Publisher struct {
	// Err, when set, is returned by every Publish call.
	Err error

	mu       sync.RWMutex
	messages []Message
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish accepts a scraper.PageEvent (or pointer to one). The event id is
// returned as the message id; events without one get a sequence id.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", errors.New("memory publisher: topic is required")
	}
	var event scraper.PageEvent
	switch v := payload.(type) {
	case scraper.PageEvent:
		event = v
	case *scraper.PageEvent:
		if v == nil {
			return "", errors.New("memory publisher: nil event")
		}
		event = *v
	default:
		return "", fmt.Errorf("memory publisher: unsupported payload %T", payload)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return "", p.Err
	}
	id := event.EventID
	if id == "" {
		id = fmt.Sprintf("memory-%d", len(p.messages)+1)
	}
	p.messages = append(p.messages, Message{
		ID:         id,
		Topic:      topic,
		Event:      event,
		Attributes: event.Attributes(),
	})
	return id, nil
}

// Messages returns a copy of every accepted publish in order.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// Events returns the events published to topic for jobID.
func (p *Publisher) Events(topic, jobID string) []scraper.PageEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []scraper.PageEvent
	for _, m := range p.messages {
		if m.Topic == topic && m.Event.JobID == jobID {
			out = append(out, m.Event)
		}
	}
	return out
}
