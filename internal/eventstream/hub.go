package eventstream

import (
	"context"
	"strings"
	"sync"
)

const (
	DefaultBufferSize       = 50
	DefaultSubscriberBuffer = 16
)

// Hub is the in-process Publisher. Each subject keeps a short backlog that new
// subscribers receive on Subscribe.
type Hub struct {
	mu               sync.RWMutex
	streams          map[string]*stream
	bufferSize       int
	subscriberBuffer int
}

type stream struct {
	mu     sync.Mutex
	buffer []Event
	subs   map[uint64]chan Event
	nextID uint64
}

type Subscription struct {
	hub     *Hub
	subject string
	id      uint64
	ch      chan Event
	once    sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[string]*stream),
		bufferSize:       DefaultBufferSize,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

func (h *Hub) Publish(_ context.Context, event Event) error {
	if h == nil {
		return ErrHubUnavailable
	}
	if strings.TrimSpace(event.Name) == "" {
		return ErrInvalidEvent
	}
	subject := strings.TrimSpace(event.SubjectID)
	if subject == "" {
		return ErrInvalidSubject
	}
	h.deliver(subject, event)
	return nil
}

// deliver appends to the subject backlog and pushes to live subscribers.
// Subjects nobody listens to are dropped.
func (h *Hub) deliver(subject string, event Event) {
	h.mu.RLock()
	stream := h.streams[subject]
	h.mu.RUnlock()
	if stream == nil {
		return
	}

	stream.mu.Lock()
	stream.buffer = append(stream.buffer, event)
	if len(stream.buffer) > h.bufferSize {
		stream.buffer = stream.buffer[len(stream.buffer)-h.bufferSize:]
	}
	subs := make([]chan Event, 0, len(stream.subs))
	for _, ch := range stream.subs {
		subs = append(subs, ch)
	}
	stream.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *Hub) Subscribe(subjectID string) (*Subscription, []Event, error) {
	if h == nil {
		return nil, nil, ErrHubUnavailable
	}
	subject := strings.TrimSpace(subjectID)
	if subject == "" {
		return nil, nil, ErrInvalidSubject
	}

	stream := h.ensureStream(subject)
	stream.mu.Lock()
	if stream.subs == nil {
		stream.subs = make(map[uint64]chan Event)
	}
	id := stream.nextID
	stream.nextID++
	ch := make(chan Event, h.subscriberBuffer)
	stream.subs[id] = ch
	buffer := append([]Event(nil), stream.buffer...)
	stream.mu.Unlock()

	return &Subscription{
		hub:     h,
		subject: subject,
		id:      id,
		ch:      ch,
	}, buffer, nil
}

// SubscriberCount returns the number of live subscribers for subjectID.
func (h *Hub) SubscriberCount(subjectID string) int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	stream := h.streams[strings.TrimSpace(subjectID)]
	h.mu.RUnlock()
	if stream == nil {
		return 0
	}
	stream.mu.Lock()
	defer stream.mu.Unlock()
	return len(stream.subs)
}

func (h *Hub) ensureStream(subject string) *stream {
	h.mu.RLock()
	current := h.streams[subject]
	h.mu.RUnlock()
	if current != nil {
		return current
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	current = h.streams[subject]
	if current == nil {
		current = &stream{subs: make(map[uint64]chan Event)}
		h.streams[subject] = current
	}
	return current
}

func (h *Hub) unsubscribe(subject string, id uint64) {
	h.mu.RLock()
	stream := h.streams[subject]
	h.mu.RUnlock()
	if stream == nil {
		return
	}

	stream.mu.Lock()
	delete(stream.subs, id)
	remaining := len(stream.subs)
	stream.mu.Unlock()
	if remaining != 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.streams[subject] != stream {
		return
	}
	stream.mu.Lock()
	empty := len(stream.subs) == 0
	stream.mu.Unlock()
	if empty {
		delete(h.streams, subject)
	}
}

func (s *Subscription) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.subject, s.id)
	})
}
