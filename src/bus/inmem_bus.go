package bus

import (
	"errors"
	"sync"
)

// ErrBusClosed is returned by operations on a bus that has been closed.
var ErrBusClosed = errors.New("bus closed")

// InmemBus implements the Bus interface in memory, to allow the relay to
// run, and be tested, without an external broker. Handlers are invoked
// synchronously from Publish, outside of any lock.
type InmemBus struct {
	sync.RWMutex
	channels map[string]map[uint64]*inmemSubscription
	nextID   uint64
	closed   bool
}

// NewInmemBus returns an empty InmemBus.
func NewInmemBus() *InmemBus {
	return &InmemBus{
		channels: make(map[string]map[uint64]*inmemSubscription),
	}
}

// Subscribe implements the Bus interface.
func (b *InmemBus) Subscribe(channel string, handler Handler) (Subscription, error) {
	b.Lock()
	defer b.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	b.nextID++
	sub := &inmemSubscription{
		bus:     b,
		id:      b.nextID,
		channel: channel,
		handler: handler,
	}

	subs, ok := b.channels[channel]
	if !ok {
		subs = make(map[uint64]*inmemSubscription)
		b.channels[channel] = subs
	}
	subs[sub.id] = sub

	return sub, nil
}

// Publish implements the Bus interface.
func (b *InmemBus) Publish(channel string, payload []byte) error {
	b.RLock()
	if b.closed {
		b.RUnlock()
		return ErrBusClosed
	}
	handlers := make([]Handler, 0, len(b.channels[channel]))
	for _, sub := range b.channels[channel] {
		handlers = append(handlers, sub.handler)
	}
	b.RUnlock()

	for _, h := range handlers {
		cp := make([]byte, len(payload))
		copy(cp, payload)
		h(channel, cp)
	}

	return nil
}

// NumSub implements the Bus interface.
func (b *InmemBus) NumSub(channel string) (int, error) {
	b.RLock()
	defer b.RUnlock()

	if b.closed {
		return 0, ErrBusClosed
	}
	return len(b.channels[channel]), nil
}

// Close implements the Bus interface. It drops every subscription.
func (b *InmemBus) Close() error {
	b.Lock()
	defer b.Unlock()

	b.closed = true
	b.channels = make(map[string]map[uint64]*inmemSubscription)
	return nil
}

func (b *InmemBus) remove(sub *inmemSubscription) {
	b.Lock()
	defer b.Unlock()

	subs, ok := b.channels[sub.channel]
	if !ok {
		return
	}
	delete(subs, sub.id)
	if len(subs) == 0 {
		delete(b.channels, sub.channel)
	}
}

type inmemSubscription struct {
	bus     *InmemBus
	id      uint64
	channel string
	handler Handler
	once    sync.Once
}

func (s *inmemSubscription) Channel() string {
	return s.channel
}

func (s *inmemSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.bus.remove(s)
	})
	return nil
}
