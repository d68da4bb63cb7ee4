// Package core defines the narrow interfaces the engine is wired with.
// Collaborators own their transport resources; the engine never closes them.
package core

import (
	"context"

	"github.com/snacka/presence/internal/domain"
)

// JoinResult is the server's response to a join request.
type JoinResult struct {
	Channel      domain.ChannelID     `json:"channel_id"`
	Name         domain.ChannelName   `json:"channel_name"`
	Participants []domain.Participant `json:"participants"`
}

// VoiceTransport issues outbound requests. Calls block until the server
// responds or ctx is done; the engine applies optimistic local state before
// calling and rolls back on error.
type VoiceTransport interface {
	JoinChannel(ctx context.Context, ch domain.ChannelID) (JoinResult, error)
	LeaveChannel(ctx context.Context, ch domain.ChannelID) error
	UpdateVoiceState(ctx context.Context, ch domain.ChannelID, flags domain.FlagUpdate) error
	UpdateSpeaking(ctx context.Context, ch domain.ChannelID, speaking bool) error

	// Admin operations.
	SetServerFlags(ctx context.Context, ch domain.ChannelID, user domain.UserID, flags domain.ServerFlagUpdate) error
	MoveUser(ctx context.Context, user domain.UserID, from, to domain.ChannelID) error

	// ReorderChannels carries a correlation token the server echoes back in
	// the resulting ChannelsReordered event.
	ReorderChannels(ctx context.Context, community domain.CommunityID, ordered []domain.ChannelID, token string) error
}

// MediaController owns local capture devices. At most one capture of a given
// kind is active at a time; starting a kind that is already live must first
// release the prior capture.
type MediaController interface {
	StartCapture(kind domain.StreamKind) error
	StopCapture(kind domain.StreamKind)
	Close()
}

// StreamSink receives stream lifecycle notifications (the renderer in the
// full client). Calls arrive synchronously with the store mutation that
// caused them.
type StreamSink interface {
	StreamAdded(s domain.Stream)
	StreamRemoved(s domain.Stream)
}
