package bus

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Topic identifies a circuit on a named gateway. Signals carry no payload:
// subscribers re-read the circuit cache when notified.
type Topic struct {
	Gateway string
	Device  string
	Circuit string
}

func (t Topic) String() string {
	return fmt.Sprintf("%s_%s_%s", t.Gateway, t.Device, t.Circuit)
}

type Handler func()

type subscriber struct {
	id uint64
	h  Handler
}

// Bus is a fire-and-forget publish/subscribe dispatcher keyed by Topic.
// Handlers run synchronously on the publishing goroutine in subscription order,
// so they must not block.
type Bus struct {
	l      sync.RWMutex
	nextID uint64
	subs   map[Topic][]subscriber
}

func New() *Bus {
	return &Bus{subs: map[Topic][]subscriber{}}
}

// Subscribe registers h for topic and returns a function removing it.
func (b *Bus) Subscribe(topic Topic, h Handler) (unsubscribe func()) {
	b.l.Lock()
	defer b.l.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscriber{id: id, h: h})
	logrus.Debugf("bus: %s subscribed", topic)

	return func() {
		b.l.Lock()
		defer b.l.Unlock()

		subs := b.subs[topic]
		for i, s := range subs {
			if s.id == id {
				b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(b.subs[topic]) == 0 {
			delete(b.subs, topic)
		}
	}
}

func (b *Bus) Publish(topic Topic) {
	b.l.RLock()
	subs := b.subs[topic]
	b.l.RUnlock()

	logrus.Tracef("bus: %s published to %d subscribers", topic, len(subs))
	for _, s := range subs {
		s.h()
	}
}
