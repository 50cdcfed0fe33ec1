package events

import (
	"sync"
)

const subscriptionBuffer = 256

// Broker fans execution events out to run-scoped subscribers. Events are
// delivered in emission order for the lifetime of a subscription; a late
// subscriber only observes events published after it subscribed, and
// nothing is replayed across runs.
type Broker struct {
	mu   sync.Mutex
	runs map[string]map[*Subscription]struct{}
	seq  map[string]int
}

// Subscription is one observer's live view of a run.
type Subscription struct {
	ch      chan Event
	broker  *Broker
	runID   string
	once    sync.Once
	dropped int
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		runs: make(map[string]map[*Subscription]struct{}),
		seq:  make(map[string]int),
	}
}

// Subscribe registers interest in a run and returns the live event feed.
func (b *Broker) Subscribe(runID string) *Subscription {
	sub := &Subscription{
		ch:     make(chan Event, subscriptionBuffer),
		broker: b,
		runID:  runID,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.runs[runID] == nil {
		b.runs[runID] = make(map[*Subscription]struct{})
	}
	b.runs[runID][sub] = struct{}{}
	return sub
}

// Publish stamps the event with the run's next sequence number and fans it
// out. A subscriber that cannot keep up loses the event rather than
// stalling the run; the loss is counted on its subscription.
func (b *Broker) Publish(ev Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq[ev.RunID]++
	ev.Seq = b.seq[ev.RunID]

	for sub := range b.runs[ev.RunID] {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped++
		}
	}
	return ev
}

// CloseRun ends every subscription of a run and forgets its sequence
// counter. Subsequent runs start a fresh, non-replayable stream.
func (b *Broker) CloseRun(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.runs[runID] {
		sub.closeChannel()
	}
	delete(b.runs, runID)
	delete(b.seq, runID)
}

// Events returns the receive side of the subscription. The channel closes
// when the run finishes or the subscription is closed.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped reports how many events this subscriber lost to back-pressure.
func (s *Subscription) Dropped() int {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	return s.dropped
}

// Close detaches the subscription from the broker.
func (s *Subscription) Close() {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()

	if subs, ok := s.broker.runs[s.runID]; ok {
		if _, present := subs[s]; present {
			delete(subs, s)
			s.closeChannel()
		}
	}
}

// closeChannel must be called with the broker lock held.
func (s *Subscription) closeChannel() {
	s.once.Do(func() { close(s.ch) })
}
