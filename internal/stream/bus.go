package stream

import (
	"fmt"
	"sync"

	"TransitFleet/internal/util"
)

// Handler receives events for one channel. A returned error or a panic is
// logged and does not reach other subscribers.
type Handler func(Event) error

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id      uint64
	channel Channel
	handler Handler
	bus     *bus
	once    sync.Once
}

// Channel returns the channel the subscription listens on.
func (s *Subscription) Channel() Channel {
	if s == nil {
		return ""
	}
	return s.channel
}

// Cancel removes the subscription. Calling it more than once is harmless.
func (s *Subscription) Cancel() {
	if s == nil || s.bus == nil {
		return
	}
	s.once.Do(func() { s.bus.remove(s) })
}

type bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Channel][]*Subscription
}

func newBus() *bus {
	b := &bus{subs: make(map[Channel][]*Subscription, len(Channels))}
	for _, ch := range Channels {
		b.subs[ch] = nil
	}
	return b
}

func (b *bus) add(ch Channel, h Handler) *Subscription {
	if !ch.valid() {
		util.Warn("[stream] subscribe to unknown channel %q ignored", ch)
		return &Subscription{channel: ch}
	}
	if h == nil {
		util.Warn("[stream] nil handler for %s ignored", ch)
		return &Subscription{channel: ch}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{id: b.nextID, channel: ch, handler: h, bus: b}
	b.subs[ch] = append(b.subs[ch], sub)
	return sub
}

func (b *bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[sub.channel]
	for i, s := range list {
		if s == sub {
			b.subs[sub.channel] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

func (b *bus) count(ch Channel) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[ch])
}

// emit calls every handler on the event's channel in subscription order.
func (b *bus) emit(ev Event) {
	b.mu.RLock()
	list := b.subs[ev.Channel()]
	b.mu.RUnlock()

	for _, sub := range list {
		if err := deliver(sub, ev); err != nil {
			util.Error("[stream] subscriber %d on %s: %v", sub.id, ev.Channel(), err)
		}
	}
}

func deliver(sub *Subscription, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return sub.handler(ev)
}
