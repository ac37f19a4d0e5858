// Package memory keeps published run summaries in process. It stands in for
// Pub/Sub when no project is configured.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Message is one encoded publish.
type Message struct {
	ID    string
	Topic string
	Data  []byte
}

// Publisher encodes payloads as JSON, exactly as the Pub/Sub publisher
// does, and appends them to an in-memory log.
type Publisher struct {
	mu       sync.RWMutex
	messages []Message
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish encodes payload and records it under topic.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", errors.New("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Data: data})
	return id, nil
}

// Messages returns a copy of every recorded message, oldest first.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// Last decodes the newest message on topic into v. It reports false when
// topic has no messages.
func (p *Publisher) Last(topic string, v any) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for i := len(p.messages) - 1; i >= 0; i-- {
		if p.messages[i].Topic != topic {
			continue
		}
		if err := json.Unmarshal(p.messages[i].Data, v); err != nil {
			return true, fmt.Errorf("decode %s: %w", p.messages[i].ID, err)
		}
		return true, nil
	}
	return false, nil
}
