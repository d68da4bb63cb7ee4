package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestNewParticipant_Validation(t *testing.T) {
	if _, err := NewParticipant("u1", ""); !errors.Is(err, ErrDisplayNameEmpty) {
		t.Fatalf("error = %v, want ErrDisplayNameEmpty", err)
	}
	if _, err := NewParticipant("u1", strings.Repeat("x", MaxDisplayNameLen+1)); !errors.Is(err, ErrDisplayNameTooLong) {
		t.Fatalf("error = %v, want ErrDisplayNameTooLong", err)
	}
	p, err := NewParticipant("u1", "alice")
	if err != nil {
		t.Fatalf("error = %v, want nil", err)
	}
	if p.UserID != "u1" || p.DisplayName != "alice" {
		t.Fatalf("participant = %+v", p)
	}
}

func TestApplyFlags_NilFieldsUnchanged(t *testing.T) {
	p := Participant{SelfMuted: true, CameraOn: true}
	p.ApplyFlags(FlagUpdate{SelfDeafened: Bool(true)})

	if !p.SelfMuted || !p.CameraOn {
		t.Fatalf("participant = %+v, want untouched fields kept", p)
	}
	if !p.SelfDeafened {
		t.Fatal("SelfDeafened not applied")
	}
}

func TestApplyFlags_RecomputesDerived(t *testing.T) {
	var p Participant

	p.ApplyFlags(FlagUpdate{SelfMuted: Bool(true)})
	if !p.EffectiveMuted {
		t.Fatal("EffectiveMuted not derived from self mute")
	}

	p.ApplyFlags(FlagUpdate{SelfMuted: Bool(false)})
	if p.EffectiveMuted {
		t.Fatal("EffectiveMuted stuck after unmute")
	}

	p.ApplyServerFlags(ServerFlagUpdate{ServerMuted: Bool(true)})
	if !p.EffectiveMuted {
		t.Fatal("EffectiveMuted not derived from server mute")
	}

	// Clearing the self flag cannot clear the server-imposed restriction.
	p.ApplyFlags(FlagUpdate{SelfMuted: Bool(false)})
	if !p.EffectiveMuted {
		t.Fatal("self unmute cleared the server mute")
	}

	p.ApplyServerFlags(ServerFlagUpdate{ServerMuted: Bool(false)})
	if p.EffectiveMuted {
		t.Fatal("EffectiveMuted stuck after server unmute")
	}
}

func TestApplyServerFlags_IndependentOfSelf(t *testing.T) {
	var p Participant
	p.ApplyServerFlags(ServerFlagUpdate{ServerDeafened: Bool(true)})

	if p.SelfDeafened {
		t.Fatal("server deafen leaked into the self flag")
	}
	if !p.EffectiveDeafened {
		t.Fatal("EffectiveDeafened not derived")
	}
}
