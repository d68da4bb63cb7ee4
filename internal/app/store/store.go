// Package store holds the canonical in-memory projection of channel
// membership and per-participant media flags. Single-writer, many-reader:
// the engine loop is the only mutator, readers take snapshots from any
// goroutine.
package store

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/snacka/presence/internal/domain"
)

// MutationHook observes membership and screen-share transitions. Hooks run
// synchronously under the store's write lock so stream existence can never
// be observed out of step with the flag that implies it.
type MutationHook interface {
	ParticipantAdded(ch domain.ChannelID, p domain.Participant)
	// ParticipantRemoved receives the participant's final state so a
	// removal during an active screen share still tears the share down.
	ParticipantRemoved(ch domain.ChannelID, p domain.Participant)
	ScreenShareChanged(ch domain.ChannelID, user domain.UserID, on bool)
}

type channelState struct {
	participants map[domain.UserID]*domain.Participant
	order        []domain.UserID
}

// Store is a threadsafe projection of voice channel state. All mutations
// are total: targeting an absent participant or channel is a benign no-op.
type Store struct {
	mu       sync.RWMutex
	channels map[domain.ChannelID]*channelState
	hooks    []MutationHook
	notifier *Notifier
}

func New() *Store {
	return &Store{
		channels: make(map[domain.ChannelID]*channelState),
		notifier: newNotifier(),
	}
}

// AddHook registers a mutation hook. Not safe to call once mutations have
// begun; wire hooks at construction time.
func (s *Store) AddHook(h MutationHook) {
	s.hooks = append(s.hooks, h)
}

// Subscribe returns a change feed for one channel and a cancel func.
func (s *Store) Subscribe(ch domain.ChannelID) (<-chan Change, func()) {
	return s.notifier.subscribe(ch)
}

func (s *Store) channel(ch domain.ChannelID) *channelState {
	cs, ok := s.channels[ch]
	if !ok {
		cs = &channelState{participants: make(map[domain.UserID]*domain.Participant)}
		s.channels[ch] = cs
	}
	return cs
}

// SetParticipants replaces a channel's membership with the authoritative
// list. Entries already present are updated in place so unchanged rows do
// not flicker through a remove/add cycle.
func (s *Store) SetParticipants(ch domain.ChannelID, list []domain.Participant) {
	s.mu.Lock()
	cs := s.channel(ch)

	seen := make(map[domain.UserID]struct{}, len(list))
	order := make([]domain.UserID, 0, len(list))
	for i := range list {
		p := list[i]
		seen[p.UserID] = struct{}{}
		order = append(order, p.UserID)

		if existing, ok := cs.participants[p.UserID]; ok {
			wasSharing := existing.ScreenSharing
			*existing = p
			existing.ApplyFlags(domain.FlagUpdate{})
			if wasSharing != existing.ScreenSharing {
				s.fireShareChanged(ch, p.UserID, existing.ScreenSharing)
			}
			continue
		}
		np := p
		np.ApplyFlags(domain.FlagUpdate{})
		cs.participants[p.UserID] = &np
		s.fireAdded(ch, np)
	}

	for uid, p := range cs.participants {
		if _, ok := seen[uid]; ok {
			continue
		}
		removed := *p
		delete(cs.participants, uid)
		s.fireRemoved(ch, removed)
	}
	cs.order = order
	s.mu.Unlock()

	s.notifier.publish(Change{Channel: ch, Kind: ChangeMembership})
	log.Debug().Str("module", "store").Str("channel", string(ch)).Int("count", len(list)).Msg("participants set")
}

// AddParticipant is a no-op if the user is already present; join events can
// race with an initial full load.
func (s *Store) AddParticipant(ch domain.ChannelID, p domain.Participant) {
	s.mu.Lock()
	cs := s.channel(ch)
	if _, ok := cs.participants[p.UserID]; ok {
		s.mu.Unlock()
		return
	}
	np := p
	np.ApplyFlags(domain.FlagUpdate{})
	cs.participants[p.UserID] = &np
	cs.order = append(cs.order, p.UserID)
	s.fireAdded(ch, np)
	s.mu.Unlock()

	s.notifier.publish(Change{Channel: ch, Kind: ChangeMembership, User: p.UserID})
	log.Info().Str("module", "store").Str("channel", string(ch)).Str("user", string(p.UserID)).Msg("participant added")
}

// RemoveParticipant is a no-op if the user is absent.
func (s *Store) RemoveParticipant(ch domain.ChannelID, user domain.UserID) {
	s.mu.Lock()
	cs, ok := s.channels[ch]
	if !ok {
		s.mu.Unlock()
		return
	}
	p, ok := cs.participants[user]
	if !ok {
		s.mu.Unlock()
		return
	}
	removed := *p
	delete(cs.participants, user)
	for i, uid := range cs.order {
		if uid == user {
			cs.order = append(cs.order[:i], cs.order[i+1:]...)
			break
		}
	}
	s.fireRemoved(ch, removed)
	s.mu.Unlock()

	s.notifier.publish(Change{Channel: ch, Kind: ChangeMembership, User: user})
	log.Info().Str("module", "store").Str("channel", string(ch)).Str("user", string(user)).Msg("participant removed")
}

// UpdateParticipantFlags applies a partial update of user-controlled flags.
// Derived flags and screen-share stream existence change under the same
// write lock as the flag itself.
func (s *Store) UpdateParticipantFlags(ch domain.ChannelID, user domain.UserID, u domain.FlagUpdate) {
	s.mu.Lock()
	p := s.lookup(ch, user)
	if p == nil {
		s.mu.Unlock()
		return
	}
	wasSharing := p.ScreenSharing
	p.ApplyFlags(u)
	if wasSharing != p.ScreenSharing {
		s.fireShareChanged(ch, user, p.ScreenSharing)
	}
	s.mu.Unlock()

	s.notifier.publish(Change{Channel: ch, Kind: ChangeFlags, User: user})
}

// UpdateServerFlags applies an admin-imposed partial update. Kept separate
// from self flags so a client toggle cannot clear an admin restriction.
func (s *Store) UpdateServerFlags(ch domain.ChannelID, user domain.UserID, u domain.ServerFlagUpdate) {
	s.mu.Lock()
	p := s.lookup(ch, user)
	if p == nil {
		s.mu.Unlock()
		return
	}
	p.ApplyServerFlags(u)
	s.mu.Unlock()

	s.notifier.publish(Change{Channel: ch, Kind: ChangeFlags, User: user})
}

// SetSpeaking updates the transient speaking indicator. Delivered on the
// notifier's latest-wins path so the indicator does not lag behind a
// backlog of batchable changes.
func (s *Store) SetSpeaking(ch domain.ChannelID, user domain.UserID, speaking bool) {
	s.mu.Lock()
	p := s.lookup(ch, user)
	if p == nil || p.Speaking == speaking {
		s.mu.Unlock()
		return
	}
	p.Speaking = speaking
	s.mu.Unlock()

	s.notifier.publishSpeaking(Change{Channel: ch, Kind: ChangeSpeaking, User: user})
}

// Snapshot returns the channel's participants in list order. The copies are
// safe to hand to any goroutine.
func (s *Store) Snapshot(ch domain.ChannelID) []domain.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.channels[ch]
	if !ok {
		return nil
	}
	out := make([]domain.Participant, 0, len(cs.order))
	for _, uid := range cs.order {
		if p, ok := cs.participants[uid]; ok {
			out = append(out, *p)
		}
	}
	return out
}

// Get returns a copy of one participant.
func (s *Store) Get(ch domain.ChannelID, user domain.UserID) (domain.Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.lookup(ch, user)
	if p == nil {
		return domain.Participant{}, false
	}
	return *p, true
}

// Clear drops all participant state for a channel, firing removal hooks so
// derived streams are torn down.
func (s *Store) Clear(ch domain.ChannelID) {
	s.mu.Lock()
	cs, ok := s.channels[ch]
	if !ok {
		s.mu.Unlock()
		return
	}
	for _, p := range cs.participants {
		s.fireRemoved(ch, *p)
	}
	delete(s.channels, ch)
	s.mu.Unlock()

	s.notifier.publish(Change{Channel: ch, Kind: ChangeMembership})
	log.Info().Str("module", "store").Str("channel", string(ch)).Msg("channel cleared")
}

func (s *Store) lookup(ch domain.ChannelID, user domain.UserID) *domain.Participant {
	cs, ok := s.channels[ch]
	if !ok {
		return nil
	}
	return cs.participants[user]
}

func (s *Store) fireAdded(ch domain.ChannelID, p domain.Participant) {
	for _, h := range s.hooks {
		h.ParticipantAdded(ch, p)
	}
}

func (s *Store) fireRemoved(ch domain.ChannelID, p domain.Participant) {
	for _, h := range s.hooks {
		h.ParticipantRemoved(ch, p)
	}
}

func (s *Store) fireShareChanged(ch domain.ChannelID, user domain.UserID, on bool) {
	for _, h := range s.hooks {
		h.ScreenShareChanged(ch, user, on)
	}
}
