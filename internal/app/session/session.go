// Package session owns the local user's voice session: the join/leave state
// machine, media toggles, and multi-device arbitration. The "current
// channel" pointer lives here and only JoinChannel/LeaveChannel (and the
// arbiter's silent leave) mutate it.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/snacka/presence/internal/app/store"
	"github.com/snacka/presence/internal/core"
	"github.com/snacka/presence/internal/domain"
)

var (
	// ErrNotInChannel is returned by toggles issued outside a voice session.
	ErrNotInChannel = errors.New("not in a voice channel")
	// ErrServerMuted rejects a local unmute while an admin mute is in force.
	ErrServerMuted = errors.New("muted by server")
	// ErrServerDeafened rejects a local undeafen while an admin deafen is in force.
	ErrServerDeafened = errors.New("deafened by server")
	// ErrSuperseded reports a join whose completion arrived after the user
	// had already targeted another channel.
	ErrSuperseded = errors.New("join superseded")
)

// Prefs persists the local media preferences across restarts.
type Prefs interface {
	Load() (muted, deafened bool)
	Save(muted, deafened bool)
}

// Dispatch runs fn on the engine's single writer goroutine and returns once
// it has executed. All session and store mutations go through it.
type Dispatch func(fn func())

// Session tracks the local user's link to at most one current channel.
type Session struct {
	self        domain.UserID
	displayName string

	store     *store.Store
	transport core.VoiceTransport
	media     core.MediaController
	prefs     Prefs
	exec      Dispatch

	mu          sync.RWMutex
	target      domain.ChannelID // channel a join is aimed at, or the joined one
	current     domain.ChannelID // channel actually joined
	currentName domain.ChannelName
	status      domain.ConnectionStatus
	other       domain.OtherDeviceSession
}

func New(self domain.UserID, displayName string, st *store.Store, transport core.VoiceTransport, media core.MediaController, prefs Prefs, exec Dispatch) *Session {
	if exec == nil {
		exec = func(fn func()) { fn() }
	}
	return &Session{
		self:        self,
		displayName: displayName,
		store:       st,
		transport:   transport,
		media:       media,
		prefs:       prefs,
		exec:        exec,
	}
}

// Status returns the connection status for the current channel.
func (s *Session) Status() domain.ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Current returns the joined channel, or empty.
func (s *Session) Current() (domain.ChannelID, domain.ChannelName) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.currentName
}

// OtherDevice returns the recorded session held elsewhere, if any.
func (s *Session) OtherDevice() domain.OtherDeviceSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.other
}

// OwnsVoiceState reports whether a pushed voice-state change for user in ch
// describes this device's own state. While we target the channel, the local
// record is authoritative for self: a late server echo of a pre-toggle state
// must not overwrite a toggle that already happened here.
func (s *Session) OwnsVoiceState(ch domain.ChannelID, user domain.UserID) bool {
	if user != s.self {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.target == ch
}

// JoinChannel joins ch, first fully draining any current session so the old
// channel's media never overlaps the new one. On failure no partial
// participant state is retained. A completion that arrives after the user
// targeted a different channel is dropped, never applied.
func (s *Session) JoinChannel(ctx context.Context, ch domain.ChannelID) error {
	var prev domain.ChannelID
	s.exec(func() {
		s.mu.Lock()
		prev = s.target
		if prev != "" {
			s.teardownLocked(prev)
		}
		s.target = ch
		s.status = domain.StatusConnecting
		s.mu.Unlock()
	})
	if prev != "" {
		if err := s.transport.LeaveChannel(ctx, prev); err != nil {
			log.Warn().Err(err).Str("module", "session").Str("channel", string(prev)).Msg("leave notify failed")
		}
	}

	res, err := s.transport.JoinChannel(ctx, ch)

	var stale bool
	s.exec(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.target != ch {
			stale = true
			return
		}
		if err != nil {
			s.target = ""
			s.status = domain.StatusDisconnected
			return
		}
		s.current = ch
		s.currentName = res.Name
		s.status = domain.StatusConnected
		if s.other.Channel == ch {
			s.other = domain.OtherDeviceSession{}
		}
		s.store.SetParticipants(ch, res.Participants)
		s.applyPrefsLocked(ch)
	})
	if stale {
		return ErrSuperseded
	}
	if err != nil {
		return err
	}

	// Broadcast the restored preferences so other clients see them.
	muted, deafened := s.prefs.Load()
	flags := domain.FlagUpdate{SelfMuted: domain.Bool(muted || deafened), SelfDeafened: domain.Bool(deafened)}
	if err := s.transport.UpdateVoiceState(ctx, ch, flags); err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("preference broadcast failed")
	}
	log.Info().Str("module", "session").Str("channel", string(ch)).Msg("joined channel")
	return nil
}

// LeaveChannel stops local captures, tears down streams, clears the store,
// and notifies the server.
func (s *Session) LeaveChannel(ctx context.Context) error {
	var prev domain.ChannelID
	s.exec(func() {
		s.mu.Lock()
		prev = s.target
		if prev != "" {
			s.teardownLocked(prev)
		}
		s.mu.Unlock()
	})
	if prev == "" {
		return nil
	}
	if err := s.transport.LeaveChannel(ctx, prev); err != nil {
		return err
	}
	log.Info().Str("module", "session").Str("channel", string(prev)).Msg("left channel")
	return nil
}

// teardownLocked drains the local session: captures stopped, streams torn
// down via store removal hooks, status reset. Callers hold s.mu and run on
// the writer goroutine. No server notification happens here.
func (s *Session) teardownLocked(ch domain.ChannelID) {
	if s.media != nil {
		s.media.StopCapture(domain.StreamScreenShare)
		s.media.StopCapture(domain.StreamCamera)
	}
	s.store.Clear(ch)
	s.target = ""
	s.current = ""
	s.currentName = ""
	s.status = domain.StatusDisconnected
	if s.other.Channel == ch {
		s.other = domain.OtherDeviceSession{}
	}
}

// applyPrefsLocked applies persisted media preferences to the local record
// right after the authoritative list loads.
func (s *Session) applyPrefsLocked(ch domain.ChannelID) {
	muted, deafened := s.prefs.Load()
	if deafened {
		muted = true
	}
	s.store.UpdateParticipantFlags(ch, s.self, domain.FlagUpdate{
		SelfMuted:    domain.Bool(muted),
		SelfDeafened: domain.Bool(deafened),
	})
}

// TransportDown marks an established session as reconnecting. The join and
// leave paths surface their own transport errors.
func (s *Session) TransportDown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == domain.StatusConnected {
		s.status = domain.StatusReconnecting
		log.Warn().Str("module", "session").Str("channel", string(s.current)).Msg("transport lost, reconnecting")
	}
}

// TransportUp restores a reconnecting session; the server re-pushes channel
// state after resubscription.
func (s *Session) TransportUp() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == domain.StatusReconnecting {
		s.status = domain.StatusConnected
		log.Info().Str("module", "session").Str("channel", string(s.current)).Msg("transport restored")
	}
}
