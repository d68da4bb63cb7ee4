package session

import (
	"github.com/rs/zerolog/log"

	"github.com/snacka/presence/internal/domain"
)

// Multi-device arbitration. The server is the arbiter of which device keeps
// a voice session; this side only records the outcome and enforces that
// "connected to ch" and "ch held on another device" are never both true for
// the same channel.

// HandleSessionElsewhere records that the account holds a live session on
// another device. Normally the local device is not in voice when this
// arrives; if it still is (brief overlap window), the local session is
// drained first so the invariant holds by construction. Called from the
// engine's writer goroutine.
func (s *Session) HandleSessionElsewhere(ch domain.ChannelID, name domain.ChannelName) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.target == ch && s.status != domain.StatusDisconnected {
		s.teardownLocked(ch)
	}
	s.other = domain.OtherDeviceSession{Channel: ch, Name: name}
	log.Info().Str("module", "session").Str("channel", string(ch)).Msg("session active on other device")
}

// HandleVoiceDisconnected processes a server eviction: the same account
// joined voice elsewhere. A silent leave tears down local media and state
// exactly like LeaveChannel but sends no leave request (the server already
// knows). A stale eviction for a channel we are no longer in is ignored.
// Called from the engine's writer goroutine.
func (s *Session) HandleVoiceDisconnected(ch domain.ChannelID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.target != ch {
		log.Debug().Str("module", "session").Str("channel", string(ch)).Msg("stale eviction ignored")
		return
	}
	name := s.currentName
	s.teardownLocked(ch)
	s.other = domain.OtherDeviceSession{Channel: ch, Name: name}
	log.Info().Str("module", "session").Str("channel", string(ch)).Msg("evicted: session moved to other device")
}
