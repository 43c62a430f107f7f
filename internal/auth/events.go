package auth

import (
	"sync"
)

// EventHub fans auth events out to subscribers. Every subscriber receives
// events in publish order on its own goroutine; nothing is dropped.
type EventHub struct {
	mu          sync.RWMutex
	subscribers map[int64]*eventSubscriber
	nextID      int64
	closed      bool
}

type eventSubscriber struct {
	id      int64
	hub     *EventHub
	handler EventHandler

	mu    sync.Mutex
	queue []Event
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// NewEventHub constructs an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{subscribers: make(map[int64]*eventSubscriber)}
}

// Subscribe registers handler and queues initial ahead of any later publish.
func (h *EventHub) Subscribe(handler EventHandler, initial *Event) Subscription {
	subscriber := &eventSubscriber{
		hub:     h,
		handler: handler,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		subscriber.stop()
		return subscriber
	}
	h.nextID++
	subscriber.id = h.nextID
	h.subscribers[subscriber.id] = subscriber
	if initial != nil {
		subscriber.enqueue(*initial)
	}
	h.mu.Unlock()

	go subscriber.run()
	return subscriber
}

// Publish queues event for every current subscriber.
func (h *EventHub) Publish(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, subscriber := range h.subscribers {
		subscriber.enqueue(event)
	}
}

// Close stops every subscriber. Events still queued are discarded.
func (h *EventHub) Close() {
	h.mu.Lock()
	subscribers := h.subscribers
	h.subscribers = make(map[int64]*eventSubscriber)
	h.closed = true
	h.mu.Unlock()
	for _, subscriber := range subscribers {
		subscriber.stop()
	}
}

// Len reports the number of live subscribers.
func (h *EventHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

func (s *eventSubscriber) Unsubscribe() {
	if s.hub != nil {
		s.hub.mu.Lock()
		delete(s.hub.subscribers, s.id)
		s.hub.mu.Unlock()
	}
	s.stop()
}

func (s *eventSubscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *eventSubscriber) enqueue(event Event) {
	s.mu.Lock()
	s.queue = append(s.queue, event)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *eventSubscriber) next() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Event{}, false
	}
	event := s.queue[0]
	s.queue[0] = Event{}
	s.queue = s.queue[1:]
	return event, true
}

func (s *eventSubscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			event, ok := s.next()
			if !ok {
				break
			}
			select {
			case <-s.done:
				return
			default:
			}
			s.handler(event)
		}
	}
}
