package session

import (
	"context"
	"testing"

	"github.com/snacka/presence/internal/core"
	"github.com/snacka/presence/internal/domain"
)

func TestHandleVoiceDisconnected_SilentLeave(t *testing.T) {
	tr := &fakeTransport{}
	media := &fakeMedia{}
	s, st := joined(t, tr, media, &fakePrefs{})
	tr.leaves = nil

	s.HandleVoiceDisconnected("c1")

	if got := s.Status(); got != domain.StatusDisconnected {
		t.Fatalf("status = %v, want disconnected", got)
	}
	if got := len(st.Snapshot("c1")); got != 0 {
		t.Fatalf("participant count = %d, want 0", got)
	}
	if len(media.stops) == 0 {
		t.Fatal("captures not released")
	}
	other := s.OtherDevice()
	if !other.Active() || other.Channel != "c1" || other.Name != "room-c1" {
		t.Fatalf("other device = %+v, want c1/room-c1", other)
	}
	// The eviction is server-initiated: no leave request goes out.
	if len(tr.leaves) != 0 {
		t.Fatalf("leaves = %v, want none (silent leave)", tr.leaves)
	}
}

func TestHandleVoiceDisconnected_StaleEvictionIgnored(t *testing.T) {
	tr := &fakeTransport{}
	s, st := joined(t, tr, &fakeMedia{}, &fakePrefs{})

	s.HandleVoiceDisconnected("c9")

	if got := s.Status(); got != domain.StatusConnected {
		t.Fatalf("status = %v, want connected", got)
	}
	if got := len(st.Snapshot("c1")); got == 0 {
		t.Fatal("current channel state dropped by stale eviction")
	}
	if s.OtherDevice().Active() {
		t.Fatalf("other device = %+v, want none", s.OtherDevice())
	}
}

func TestHandleSessionElsewhere_RecordsOtherDevice(t *testing.T) {
	s, _ := newTestSession(&fakeTransport{}, &fakeMedia{}, &fakePrefs{})

	s.HandleSessionElsewhere("c3", "general")

	other := s.OtherDevice()
	if other.Channel != "c3" || other.Name != "general" {
		t.Fatalf("other device = %+v, want c3/general", other)
	}
}

func TestHandleSessionElsewhere_DrainsOverlappingLocalSession(t *testing.T) {
	tr := &fakeTransport{}
	s, st := joined(t, tr, &fakeMedia{}, &fakePrefs{})

	s.HandleSessionElsewhere("c1", "room-c1")

	if got := s.Status(); got != domain.StatusDisconnected {
		t.Fatalf("status = %v, want disconnected", got)
	}
	if got := len(st.Snapshot("c1")); got != 0 {
		t.Fatalf("participant count = %d, want 0", got)
	}
	if !s.OtherDevice().Active() {
		t.Fatal("other device session not recorded")
	}
}

// Joining a channel held on another device claims the session back: the
// invariant that "connected to ch" and "ch held elsewhere" are never both
// true must hold on this path too.
func TestJoinChannel_ClearsOtherDeviceForSameChannel(t *testing.T) {
	tr := &fakeTransport{}
	s, _ := newTestSession(tr, &fakeMedia{}, &fakePrefs{})
	tr.joinResults = map[domain.ChannelID]core.JoinResult{
		"c1": joinResult("c1", self),
	}

	s.HandleSessionElsewhere("c1", "room-c1")
	if err := s.JoinChannel(context.Background(), "c1"); err != nil {
		t.Fatalf("JoinChannel() error = %v, want nil", err)
	}

	if s.OtherDevice().Active() {
		t.Fatalf("other device = %+v, want none after reclaiming the session", s.OtherDevice())
	}
	if got := s.Status(); got != domain.StatusConnected {
		t.Fatalf("status = %v, want connected", got)
	}
}
