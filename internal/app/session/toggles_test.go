package session

import (
	"context"
	"errors"
	"testing"

	"github.com/snacka/presence/internal/app/store"
	"github.com/snacka/presence/internal/core"
	"github.com/snacka/presence/internal/domain"
)

// joined returns a session already connected to c1 with self present.
func joined(t *testing.T, tr *fakeTransport, media *fakeMedia, prefs *fakePrefs) (*Session, *store.Store) {
	t.Helper()
	if tr.joinResults == nil {
		tr.joinResults = map[domain.ChannelID]core.JoinResult{}
	}
	if _, ok := tr.joinResults["c1"]; !ok {
		tr.joinResults["c1"] = joinResult("c1", self, "u2")
	}
	s, st := newTestSession(tr, media, prefs)
	if err := s.JoinChannel(context.Background(), "c1"); err != nil {
		t.Fatalf("JoinChannel() error = %v, want nil", err)
	}
	// Drop the join-time preference broadcast from the recording.
	tr.updates = nil
	prefs.saves = 0
	return s, st
}

func TestToggleMute_NotInChannel(t *testing.T) {
	s, _ := newTestSession(&fakeTransport{}, &fakeMedia{}, &fakePrefs{})
	if err := s.ToggleMute(context.Background()); !errors.Is(err, ErrNotInChannel) {
		t.Fatalf("ToggleMute() error = %v, want ErrNotInChannel", err)
	}
}

func TestToggleMute_FlipsAndPersists(t *testing.T) {
	tr := &fakeTransport{}
	prefs := &fakePrefs{}
	s, st := joined(t, tr, &fakeMedia{}, prefs)

	if err := s.ToggleMute(context.Background()); err != nil {
		t.Fatalf("ToggleMute() error = %v, want nil", err)
	}

	p, _ := st.Get("c1", self)
	if !p.SelfMuted || !p.EffectiveMuted {
		t.Fatalf("self = %+v, want muted", p)
	}
	if !prefs.muted {
		t.Fatal("mute not persisted")
	}
	if len(tr.updates) != 1 {
		t.Fatalf("voice state updates = %d, want 1", len(tr.updates))
	}
}

func TestToggleMute_UnmuteRejectedWhileServerMuted(t *testing.T) {
	tr := &fakeTransport{}
	s, st := joined(t, tr, &fakeMedia{}, &fakePrefs{})

	// User mutes, an admin server-mutes, the user tries to unmute.
	if err := s.ToggleMute(context.Background()); err != nil {
		t.Fatalf("ToggleMute() error = %v, want nil", err)
	}
	st.UpdateServerFlags("c1", self, domain.ServerFlagUpdate{ServerMuted: domain.Bool(true)})

	if err := s.ToggleMute(context.Background()); !errors.Is(err, ErrServerMuted) {
		t.Fatalf("ToggleMute() error = %v, want ErrServerMuted", err)
	}

	// No request went out and the local state is untouched.
	if len(tr.updates) != 1 {
		t.Fatalf("voice state updates = %d, want 1 (rejected toggle must not send)", len(tr.updates))
	}
	p, _ := st.Get("c1", self)
	if !p.SelfMuted || !p.ServerMuted || !p.EffectiveMuted {
		t.Fatalf("self = %+v, want still muted on both axes", p)
	}
}

func TestToggleMute_RollsBackOnTransportFailure(t *testing.T) {
	tr := &fakeTransport{updateErr: errors.New("gateway down")}
	prefs := &fakePrefs{}
	s, st := joined(t, tr, &fakeMedia{}, prefs)

	if err := s.ToggleMute(context.Background()); err == nil {
		t.Fatal("ToggleMute() error = nil, want transport failure")
	}

	p, _ := st.Get("c1", self)
	if p.SelfMuted {
		t.Fatal("mute not rolled back")
	}
	if prefs.muted {
		t.Fatal("persisted preference not rolled back")
	}
}

func TestToggleDeafen_ForcesMute(t *testing.T) {
	tr := &fakeTransport{}
	s, st := joined(t, tr, &fakeMedia{}, &fakePrefs{})

	if err := s.ToggleDeafen(context.Background()); err != nil {
		t.Fatalf("ToggleDeafen() error = %v, want nil", err)
	}
	p, _ := st.Get("c1", self)
	if !p.SelfDeafened || !p.SelfMuted {
		t.Fatalf("self = %+v, want deafened and muted", p)
	}

	// Undeafening never auto-unmutes.
	if err := s.ToggleDeafen(context.Background()); err != nil {
		t.Fatalf("ToggleDeafen() error = %v, want nil", err)
	}
	p, _ = st.Get("c1", self)
	if p.SelfDeafened {
		t.Fatal("still deafened")
	}
	if !p.SelfMuted {
		t.Fatal("undeafen cleared the mute")
	}
}

func TestToggleDeafen_UndeafenRejectedWhileServerDeafened(t *testing.T) {
	tr := &fakeTransport{}
	s, st := joined(t, tr, &fakeMedia{}, &fakePrefs{})

	if err := s.ToggleDeafen(context.Background()); err != nil {
		t.Fatalf("ToggleDeafen() error = %v, want nil", err)
	}
	st.UpdateServerFlags("c1", self, domain.ServerFlagUpdate{ServerDeafened: domain.Bool(true)})

	if err := s.ToggleDeafen(context.Background()); !errors.Is(err, ErrServerDeafened) {
		t.Fatalf("ToggleDeafen() error = %v, want ErrServerDeafened", err)
	}
}

func TestToggleCamera_CaptureTracksFlag(t *testing.T) {
	tr := &fakeTransport{}
	media := &fakeMedia{}
	s, st := joined(t, tr, media, &fakePrefs{})

	if err := s.ToggleCamera(context.Background()); err != nil {
		t.Fatalf("ToggleCamera() error = %v, want nil", err)
	}
	p, _ := st.Get("c1", self)
	if !p.CameraOn {
		t.Fatal("camera flag not set")
	}
	if len(media.starts) != 1 || media.starts[0] != domain.StreamCamera {
		t.Fatalf("starts = %v, want [camera]", media.starts)
	}

	if err := s.ToggleCamera(context.Background()); err != nil {
		t.Fatalf("ToggleCamera() error = %v, want nil", err)
	}
	p, _ = st.Get("c1", self)
	if p.CameraOn {
		t.Fatal("camera flag not cleared")
	}
	if len(media.stops) != 1 || media.stops[0] != domain.StreamCamera {
		t.Fatalf("stops = %v, want [camera]", media.stops)
	}
}

func TestToggleCamera_CaptureFailureAbortsToggle(t *testing.T) {
	tr := &fakeTransport{}
	media := &fakeMedia{startErr: errors.New("device busy")}
	s, st := joined(t, tr, media, &fakePrefs{})

	if err := s.ToggleCamera(context.Background()); err == nil {
		t.Fatal("ToggleCamera() error = nil, want capture failure")
	}
	p, _ := st.Get("c1", self)
	if p.CameraOn {
		t.Fatal("camera flag set despite capture failure")
	}
	if len(tr.updates) != 0 {
		t.Fatalf("voice state updates = %d, want 0", len(tr.updates))
	}
}

func TestToggleCamera_ReleasesCaptureOnRollback(t *testing.T) {
	tr := &fakeTransport{updateErr: errors.New("gateway down")}
	media := &fakeMedia{}
	s, st := joined(t, tr, media, &fakePrefs{})

	if err := s.ToggleCamera(context.Background()); err == nil {
		t.Fatal("ToggleCamera() error = nil, want transport failure")
	}

	p, _ := st.Get("c1", self)
	if p.CameraOn {
		t.Fatal("camera flag not rolled back")
	}
	if len(media.stops) != 1 || media.stops[0] != domain.StreamCamera {
		t.Fatalf("stops = %v, want [camera] (capture released on rollback)", media.stops)
	}
}

func TestScreenShare_StartStop(t *testing.T) {
	tr := &fakeTransport{}
	media := &fakeMedia{}
	s, st := joined(t, tr, media, &fakePrefs{})

	if err := s.StartScreenShare(context.Background(), true); err != nil {
		t.Fatalf("StartScreenShare() error = %v, want nil", err)
	}
	p, _ := st.Get("c1", self)
	if !p.ScreenSharing || !p.ScreenShareHasAudio {
		t.Fatalf("self = %+v, want sharing with audio", p)
	}

	// Starting again is a no-op, not a second capture.
	if err := s.StartScreenShare(context.Background(), true); err != nil {
		t.Fatalf("StartScreenShare() error = %v, want nil", err)
	}
	if len(media.starts) != 1 {
		t.Fatalf("capture starts = %d, want 1", len(media.starts))
	}

	if err := s.StopScreenShare(context.Background()); err != nil {
		t.Fatalf("StopScreenShare() error = %v, want nil", err)
	}
	p, _ = st.Get("c1", self)
	if p.ScreenSharing || p.ScreenShareHasAudio {
		t.Fatalf("self = %+v, want share cleared", p)
	}
	if len(media.stops) != 1 || media.stops[0] != domain.StreamScreenShare {
		t.Fatalf("stops = %v, want [screen_share]", media.stops)
	}
}

func TestSetSpeaking_NoRollbackOnFailure(t *testing.T) {
	tr := &fakeTransport{speakErr: errors.New("gateway busy")}
	s, st := joined(t, tr, &fakeMedia{}, &fakePrefs{})

	s.SetSpeaking(context.Background(), true)

	// Transient state: the local indicator sticks even when the notify fails.
	p, _ := st.Get("c1", self)
	if !p.Speaking {
		t.Fatal("speaking indicator lost")
	}
}

func TestSetServerFlags_RollsBackOnRejection(t *testing.T) {
	tr := &fakeTransport{adminErr: errors.New("not an admin")}
	s, st := joined(t, tr, &fakeMedia{}, &fakePrefs{})

	if err := s.SetServerFlags(context.Background(), "c1", "u2", domain.ServerFlagUpdate{ServerMuted: domain.Bool(true)}); err == nil {
		t.Fatal("SetServerFlags() error = nil, want rejection")
	}

	p, _ := st.Get("c1", "u2")
	if p.ServerMuted {
		t.Fatal("server mute not rolled back")
	}
}

func TestSetServerFlags_UnknownTarget(t *testing.T) {
	tr := &fakeTransport{}
	s, _ := joined(t, tr, &fakeMedia{}, &fakePrefs{})

	err := s.SetServerFlags(context.Background(), "c1", "ghost", domain.ServerFlagUpdate{ServerMuted: domain.Bool(true)})
	if !errors.Is(err, ErrNotInChannel) {
		t.Fatalf("SetServerFlags() error = %v, want ErrNotInChannel", err)
	}
}
