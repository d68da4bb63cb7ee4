package store

import (
	"sync"

	"github.com/snacka/presence/internal/domain"
)

// ChangeKind classifies a store change for subscribers.
type ChangeKind int

const (
	// ChangeMembership covers joins, leaves, full loads and clears.
	ChangeMembership ChangeKind = iota
	// ChangeFlags covers self and server flag updates.
	ChangeFlags
	// ChangeSpeaking covers the transient speaking indicator.
	ChangeSpeaking
)

// Change is one logical store mutation. User is empty for whole-channel
// changes; subscribers re-read via Snapshot.
type Change struct {
	Channel domain.ChannelID
	Kind    ChangeKind
	User    domain.UserID
}

const subscriberBuffer = 64

// Notifier fans store changes out to per-channel subscribers. Batchable
// changes are dropped when a subscriber falls behind (the next Snapshot read
// catches it up); speaking changes evict the oldest queued change instead so
// the indicator never waits behind a backlog.
type Notifier struct {
	mu   sync.RWMutex
	subs map[domain.ChannelID][]chan Change
}

func newNotifier() *Notifier {
	return &Notifier{subs: make(map[domain.ChannelID][]chan Change)}
}

func (n *Notifier) subscribe(ch domain.ChannelID) (<-chan Change, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	c := make(chan Change, subscriberBuffer)
	n.subs[ch] = append(n.subs[ch], c)

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		subs := n.subs[ch]
		for i, s := range subs {
			if s == c {
				n.subs[ch] = append(subs[:i], subs[i+1:]...)
				close(c)
				return
			}
		}
	}
	return c, cancel
}

func (n *Notifier) publish(change Change) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, c := range n.subs[change.Channel] {
		select {
		case c <- change:
		default:
			// Subscriber is behind; it will re-sync from a snapshot.
		}
	}
}

func (n *Notifier) publishSpeaking(change Change) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, c := range n.subs[change.Channel] {
		select {
		case c <- change:
			continue
		default:
		}
		// Queue full: make room so the latest speaking state lands.
		select {
		case <-c:
		default:
		}
		select {
		case c <- change:
		default:
		}
	}
}
