package supervisor

import (
	"sync"

	"github.com/google/uuid"

	"github.com/kolkov/devsv/internal/lifecycle"
)

// Subscription delivers status events to one sink, in emission order, on a
// goroutine of its own. A slow sink delays only itself.
type Subscription struct {
	ID uuid.UUID

	sv   *Supervisor
	fn   func(StatusEvent)
	mu   sync.Mutex
	q    []StatusEvent
	wake chan struct{}
	stop chan struct{}
	once sync.Once
}

// Subscribe registers fn for every status event emitted from now on. After
// Close, the returned subscription is already stopped.
func (s *Supervisor) Subscribe(fn func(StatusEvent)) *Subscription {
	sub := &Subscription{
		ID:   uuid.New(),
		sv:   s,
		fn:   fn,
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		sub.close()
		return sub
	}
	s.subsMu.Lock()
	s.subs[sub] = struct{}{}
	s.subsMu.Unlock()
	s.subsWG.Add(1)
	go func() {
		defer s.subsWG.Done()
		sub.run()
	}()
	s.log.Debugf("Subscriber %s registered", sub.ID)
	return sub
}

// Unsubscribe stops delivery. Queued events that were not yet delivered are
// dropped. It is safe to call from within the sink.
func (sub *Subscription) Unsubscribe() {
	sub.sv.subsMu.Lock()
	delete(sub.sv.subs, sub)
	sub.sv.subsMu.Unlock()
	sub.close()
}

func (sub *Subscription) close() {
	sub.once.Do(func() { close(sub.stop) })
}

func (sub *Subscription) push(ev StatusEvent) {
	sub.mu.Lock()
	sub.q = append(sub.q, ev)
	sub.mu.Unlock()
	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

func (sub *Subscription) run() {
	for {
		select {
		case <-sub.stop:
			return
		case <-sub.wake:
		}

		sub.mu.Lock()
		batch := sub.q
		sub.q = nil
		sub.mu.Unlock()

		for _, ev := range batch {
			select {
			case <-sub.stop:
				return
			default:
			}
			sub.fn(ev)
		}
	}
}

// emit hands ev to every subscriber. It never blocks on a sink.
func (s *Supervisor) emit(ev StatusEvent) {
	s.subsMu.Lock()
	subs := make([]*Subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subsMu.Unlock()

	for _, sub := range subs {
		sub.push(ev)
	}
}

func (s *Supervisor) emitEntry(e lifecycle.Entry) {
	s.emit(StatusEvent{Service: e.Name, State: e.State, Message: e.Message, Time: e.Updated})
}
