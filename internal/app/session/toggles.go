package session

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/snacka/presence/internal/app/optimistic"
	"github.com/snacka/presence/internal/domain"
)

// selfState fetches the local participant record for the joined channel.
func (s *Session) selfState() (domain.ChannelID, domain.Participant, error) {
	s.mu.RLock()
	ch := s.current
	s.mu.RUnlock()
	if ch == "" {
		return "", domain.Participant{}, ErrNotInChannel
	}
	p, ok := s.store.Get(ch, s.self)
	if !ok {
		return "", domain.Participant{}, ErrNotInChannel
	}
	return ch, p, nil
}

// flagMutation builds the shared optimistic edit for self-flag toggles: the
// store and persisted preference change before the server hears about it,
// and both revert if the request fails.
func (s *Session) flagMutation(ch domain.ChannelID, prev domain.Participant, flags domain.FlagUpdate) optimistic.Mutation[domain.Participant] {
	return optimistic.Mutation[domain.Participant]{
		Snapshot: prev,
		Apply: func() {
			s.exec(func() {
				s.store.UpdateParticipantFlags(ch, s.self, flags)
				if p, ok := s.store.Get(ch, s.self); ok {
					s.prefs.Save(p.SelfMuted, p.SelfDeafened)
				}
			})
		},
		Send: func(ctx context.Context) error {
			return s.transport.UpdateVoiceState(ctx, ch, flags)
		},
		Restore: func(prev domain.Participant) {
			s.exec(func() {
				s.store.UpdateParticipantFlags(ch, s.self, domain.FlagUpdate{
					SelfMuted:           domain.Bool(prev.SelfMuted),
					SelfDeafened:        domain.Bool(prev.SelfDeafened),
					CameraOn:            domain.Bool(prev.CameraOn),
					ScreenSharing:       domain.Bool(prev.ScreenSharing),
					ScreenShareHasAudio: domain.Bool(prev.ScreenShareHasAudio),
				})
				s.prefs.Save(prev.SelfMuted, prev.SelfDeafened)
			})
		},
	}
}

// ToggleMute flips the self mute. Unmuting is rejected locally while a
// server mute is in force.
func (s *Session) ToggleMute(ctx context.Context) error {
	ch, p, err := s.selfState()
	if err != nil {
		return err
	}
	want := !p.SelfMuted
	if !want && p.ServerMuted {
		return ErrServerMuted
	}
	return s.flagMutation(ch, p, domain.FlagUpdate{SelfMuted: domain.Bool(want)}).Run(ctx)
}

// ToggleDeafen flips the self deafen. Deafening also forces muting if not
// already muted; undeafening never auto-unmutes. Undeafening is rejected
// while a server deafen is in force.
func (s *Session) ToggleDeafen(ctx context.Context) error {
	ch, p, err := s.selfState()
	if err != nil {
		return err
	}
	want := !p.SelfDeafened
	if !want && p.ServerDeafened {
		return ErrServerDeafened
	}
	flags := domain.FlagUpdate{SelfDeafened: domain.Bool(want)}
	if want && !p.SelfMuted {
		flags.SelfMuted = domain.Bool(true)
	}
	return s.flagMutation(ch, p, flags).Run(ctx)
}

// ToggleCamera flips the camera flag and the local capture together. The
// capture is acquired before the flag goes up and released when it comes
// down, so capture ownership tracks the flag.
func (s *Session) ToggleCamera(ctx context.Context) error {
	ch, p, err := s.selfState()
	if err != nil {
		return err
	}
	want := !p.CameraOn
	if want {
		if err := s.media.StartCapture(domain.StreamCamera); err != nil {
			return err
		}
	} else {
		s.media.StopCapture(domain.StreamCamera)
	}

	m := s.flagMutation(ch, p, domain.FlagUpdate{CameraOn: domain.Bool(want)})
	restore := m.Restore
	m.Restore = func(prev domain.Participant) {
		if want {
			s.media.StopCapture(domain.StreamCamera)
		} else if err := s.media.StartCapture(domain.StreamCamera); err != nil {
			log.Warn().Err(err).Str("module", "session").Msg("camera re-acquire after rollback failed")
		}
		restore(prev)
	}
	return m.Run(ctx)
}

// StartScreenShare begins sharing the local screen, optionally with audio.
func (s *Session) StartScreenShare(ctx context.Context, withAudio bool) error {
	ch, p, err := s.selfState()
	if err != nil {
		return err
	}
	if p.ScreenSharing {
		return nil
	}
	if err := s.media.StartCapture(domain.StreamScreenShare); err != nil {
		return err
	}
	m := s.flagMutation(ch, p, domain.FlagUpdate{
		ScreenSharing:       domain.Bool(true),
		ScreenShareHasAudio: domain.Bool(withAudio),
	})
	restore := m.Restore
	m.Restore = func(prev domain.Participant) {
		s.media.StopCapture(domain.StreamScreenShare)
		restore(prev)
	}
	return m.Run(ctx)
}

// StopScreenShare ends the local screen share.
func (s *Session) StopScreenShare(ctx context.Context) error {
	ch, p, err := s.selfState()
	if err != nil {
		return err
	}
	if !p.ScreenSharing {
		return nil
	}
	s.media.StopCapture(domain.StreamScreenShare)
	return s.flagMutation(ch, p, domain.FlagUpdate{
		ScreenSharing:       domain.Bool(false),
		ScreenShareHasAudio: domain.Bool(false),
	}).Run(ctx)
}

// SetSpeaking publishes the local speaking indicator. Transient state: a
// failed notify is logged, never rolled back.
func (s *Session) SetSpeaking(ctx context.Context, speaking bool) {
	s.mu.RLock()
	ch := s.current
	s.mu.RUnlock()
	if ch == "" {
		return
	}
	s.exec(func() { s.store.SetSpeaking(ch, s.self, speaking) })
	if err := s.transport.UpdateSpeaking(ctx, ch, speaking); err != nil {
		log.Debug().Err(err).Str("module", "session").Msg("speaking notify failed")
	}
}

// SetServerFlags applies an admin mute/deafen to another participant,
// optimistically, rolling back if the server rejects the admin action.
func (s *Session) SetServerFlags(ctx context.Context, ch domain.ChannelID, user domain.UserID, flags domain.ServerFlagUpdate) error {
	prev, ok := s.store.Get(ch, user)
	if !ok {
		return ErrNotInChannel
	}
	m := optimistic.Mutation[domain.Participant]{
		Snapshot: prev,
		Apply: func() {
			s.exec(func() { s.store.UpdateServerFlags(ch, user, flags) })
		},
		Send: func(ctx context.Context) error {
			return s.transport.SetServerFlags(ctx, ch, user, flags)
		},
		Restore: func(prev domain.Participant) {
			s.exec(func() {
				s.store.UpdateServerFlags(ch, user, domain.ServerFlagUpdate{
					ServerMuted:    domain.Bool(prev.ServerMuted),
					ServerDeafened: domain.Bool(prev.ServerDeafened),
				})
			})
		},
	}
	return m.Run(ctx)
}

// MoveUser asks the server to move a participant to another channel. The
// membership change comes back as ordinary join/leave events.
func (s *Session) MoveUser(ctx context.Context, user domain.UserID, from, to domain.ChannelID) error {
	return s.transport.MoveUser(ctx, user, from, to)
}
