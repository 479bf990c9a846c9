package cache

import "sync"

// Table names a group of rows observers can subscribe to.
type Table string

const (
	TableAccounts Table = "accounts"
	TableIssues   Table = "issues"
	TableWorklogs Table = "worklogs"
)

// broker fans commit notifications out to subscribers. Each subscriber has a
// one-slot channel, so bursts of commits collapse into a single wake-up.
type broker struct {
	mu     sync.Mutex
	next   int
	subs   map[int]*subscription
	closed bool
}

type subscription struct {
	tables map[Table]bool
	ch     chan struct{}
}

func newBroker() *broker {
	return &broker{subs: make(map[int]*subscription)}
}

// subscribe registers interest in tables. The returned channel is closed when
// the broker closes or cancel is called.
func (b *broker) subscribe(tables ...Table) (<-chan struct{}, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan struct{}, 1)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	sub := &subscription{tables: make(map[Table]bool, len(tables)), ch: ch}
	for _, t := range tables {
		sub.tables[t] = true
	}
	id := b.next
	b.next++
	b.subs[id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if s, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.ch)
			}
		})
	}
	return ch, cancel
}

func (b *broker) publish(tables ...Table) {
	if len(tables) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		for _, t := range tables {
			if !sub.tables[t] {
				continue
			}
			select {
			case sub.ch <- struct{}{}:
			default:
			}
			break
		}
	}
}

func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
