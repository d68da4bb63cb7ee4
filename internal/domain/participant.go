package domain

import "errors"

const MaxDisplayNameLen = 36

var (
	ErrDisplayNameEmpty   = errors.New("display name empty")
	ErrDisplayNameTooLong = errors.New("display name too long")
)

// Participant is one user's live state inside a single voice channel.
// Self* flags are user-controlled; Server* flags are admin-imposed and form
// an independent axis. Effective* are derived and recomputed on every flag
// write, never set directly.
type Participant struct {
	UserID      UserID `json:"user_id"`
	DisplayName string `json:"display_name"`

	SelfMuted    bool `json:"self_muted"`
	SelfDeafened bool `json:"self_deafened"`

	ServerMuted    bool `json:"server_muted"`
	ServerDeafened bool `json:"server_deafened"`

	EffectiveMuted    bool `json:"effective_muted"`
	EffectiveDeafened bool `json:"effective_deafened"`

	CameraOn            bool `json:"camera_on"`
	ScreenSharing       bool `json:"screen_sharing"`
	ScreenShareHasAudio bool `json:"screen_share_has_audio"`

	// Speaking is transient, updated at high frequency, never persisted.
	Speaking bool `json:"speaking"`
}

// NewParticipant avoids raw literals in adapters and keeps construction obvious.
func NewParticipant(id UserID, displayName string) (*Participant, error) {
	if len(displayName) == 0 {
		return nil, ErrDisplayNameEmpty
	}
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	return &Participant{UserID: id, DisplayName: displayName}, nil
}

// FlagUpdate is a partial update of user-controlled flags. Nil fields are
// left unchanged.
type FlagUpdate struct {
	SelfMuted           *bool `json:"self_muted,omitempty"`
	SelfDeafened        *bool `json:"self_deafened,omitempty"`
	CameraOn            *bool `json:"camera_on,omitempty"`
	ScreenSharing       *bool `json:"screen_sharing,omitempty"`
	ScreenShareHasAudio *bool `json:"screen_share_has_audio,omitempty"`
}

// ServerFlagUpdate is a partial update of admin-imposed flags, kept separate
// so a client's own toggle can never clear an admin restriction.
type ServerFlagUpdate struct {
	ServerMuted    *bool `json:"server_muted,omitempty"`
	ServerDeafened *bool `json:"server_deafened,omitempty"`
}

// ApplyFlags applies the present fields and recomputes the derived flags.
func (p *Participant) ApplyFlags(u FlagUpdate) {
	if u.SelfMuted != nil {
		p.SelfMuted = *u.SelfMuted
	}
	if u.SelfDeafened != nil {
		p.SelfDeafened = *u.SelfDeafened
	}
	if u.CameraOn != nil {
		p.CameraOn = *u.CameraOn
	}
	if u.ScreenSharing != nil {
		p.ScreenSharing = *u.ScreenSharing
	}
	if u.ScreenShareHasAudio != nil {
		p.ScreenShareHasAudio = *u.ScreenShareHasAudio
	}
	p.recompute()
}

// ApplyServerFlags applies the present fields and recomputes the derived flags.
func (p *Participant) ApplyServerFlags(u ServerFlagUpdate) {
	if u.ServerMuted != nil {
		p.ServerMuted = *u.ServerMuted
	}
	if u.ServerDeafened != nil {
		p.ServerDeafened = *u.ServerDeafened
	}
	p.recompute()
}

func (p *Participant) recompute() {
	p.EffectiveMuted = p.SelfMuted || p.ServerMuted
	p.EffectiveDeafened = p.SelfDeafened || p.ServerDeafened
}

// Clone returns a copy safe to hand to readers.
func (p *Participant) Clone() Participant { return *p }

// Bool is a convenience for building partial updates.
func Bool(v bool) *bool { return &v }
