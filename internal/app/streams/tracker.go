// Package streams derives the set of live media streams from store
// transitions and owns their creation/teardown ordering.
package streams

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/snacka/presence/internal/core"
	"github.com/snacka/presence/internal/domain"
)

type streamKey struct {
	channel domain.ChannelID
	user    domain.UserID
	kind    domain.StreamKind
}

// Tracker implements store.MutationHook. For every participant it keeps
// exactly one camera stream (the video tile, placeholder when the camera is
// off) and a screen-share stream bracketing the ScreenSharing flag's edges.
// Create is idempotent: a full load and an unsolicited join for the same
// user in a short window must not produce a second handle.
type Tracker struct {
	mu   sync.Mutex
	live map[streamKey]struct{}
	sink core.StreamSink
}

func New(sink core.StreamSink) *Tracker {
	return &Tracker{
		live: make(map[streamKey]struct{}),
		sink: sink,
	}
}

func (t *Tracker) ParticipantAdded(ch domain.ChannelID, p domain.Participant) {
	t.create(ch, p.UserID, domain.StreamCamera)
	if p.ScreenSharing {
		t.create(ch, p.UserID, domain.StreamScreenShare)
	}
}

func (t *Tracker) ParticipantRemoved(ch domain.ChannelID, p domain.Participant) {
	// Share teardown first so a true→removed transition never leaks a handle.
	t.destroy(ch, p.UserID, domain.StreamScreenShare)
	t.destroy(ch, p.UserID, domain.StreamCamera)
}

func (t *Tracker) ScreenShareChanged(ch domain.ChannelID, user domain.UserID, on bool) {
	if on {
		t.create(ch, user, domain.StreamScreenShare)
		return
	}
	t.destroy(ch, user, domain.StreamScreenShare)
}

// Has reports whether a live handle exists for the given stream.
func (t *Tracker) Has(ch domain.ChannelID, user domain.UserID, kind domain.StreamKind) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.live[streamKey{ch, user, kind}]
	return ok
}

// Live returns the current streams for a channel.
func (t *Tracker) Live(ch domain.ChannelID) []domain.Stream {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.Stream, 0, len(t.live))
	for k := range t.live {
		if k.channel == ch {
			out = append(out, domain.Stream{Channel: k.channel, User: k.user, Kind: k.kind})
		}
	}
	return out
}

func (t *Tracker) create(ch domain.ChannelID, user domain.UserID, kind domain.StreamKind) {
	key := streamKey{ch, user, kind}
	t.mu.Lock()
	if _, ok := t.live[key]; ok {
		t.mu.Unlock()
		log.Debug().Str("module", "streams").Str("user", string(user)).Str("kind", string(kind)).Msg("duplicate create ignored")
		return
	}
	t.live[key] = struct{}{}
	t.mu.Unlock()

	if t.sink != nil {
		t.sink.StreamAdded(domain.Stream{Channel: ch, User: user, Kind: kind})
	}
}

func (t *Tracker) destroy(ch domain.ChannelID, user domain.UserID, kind domain.StreamKind) {
	key := streamKey{ch, user, kind}
	t.mu.Lock()
	if _, ok := t.live[key]; !ok {
		t.mu.Unlock()
		return
	}
	delete(t.live, key)
	t.mu.Unlock()

	if t.sink != nil {
		t.sink.StreamRemoved(domain.Stream{Channel: ch, User: user, Kind: kind})
	}
}
