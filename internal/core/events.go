package core

import "github.com/snacka/presence/internal/domain"

// EventType identifies a server-pushed state-change notification.
type EventType string

// Voice channel events.
const (
	// TypeParticipantJoined records a user joining a voice channel.
	TypeParticipantJoined EventType = "voice.participant_joined"
	// TypeParticipantLeft records a user leaving a voice channel.
	TypeParticipantLeft EventType = "voice.participant_left"
	// TypeParticipantState records a partial update of user-controlled flags.
	TypeParticipantState EventType = "voice.participant_state"
	// TypeServerState records an admin-imposed mute/deafen change.
	TypeServerState EventType = "voice.server_state"
	// TypeSpeaking records a speaking-indicator change.
	TypeSpeaking EventType = "voice.speaking"
)

// Multi-device session events.
const (
	// TypeSessionElsewhere records that this account holds a voice session
	// on another device.
	TypeSessionElsewhere EventType = "session.active_elsewhere"
	// TypeVoiceDisconnected records that the server evicted this device
	// from a channel because the account joined voice elsewhere.
	TypeVoiceDisconnected EventType = "session.voice_disconnected"
)

// Channel list events.
const (
	// TypeChannelsReordered records a new authoritative channel ordering.
	TypeChannelsReordered EventType = "channel.reordered"
	// TypeChannelDeleted records a channel removal.
	TypeChannelDeleted EventType = "channel.deleted"
)

// Event is a server push delivered by the gateway. Within one channel's
// stream, events must be handed to the sink in the order received.
type Event interface {
	Kind() EventType
}

type ParticipantJoined struct {
	Channel     domain.ChannelID   `json:"channel_id"`
	Participant domain.Participant `json:"participant"`
}

type ParticipantLeft struct {
	Channel domain.ChannelID `json:"channel_id"`
	User    domain.UserID    `json:"user_id"`
}

type ParticipantState struct {
	Channel domain.ChannelID  `json:"channel_id"`
	User    domain.UserID     `json:"user_id"`
	Flags   domain.FlagUpdate `json:"flags"`
}

type ServerState struct {
	Channel domain.ChannelID        `json:"channel_id"`
	User    domain.UserID           `json:"user_id"`
	Flags   domain.ServerFlagUpdate `json:"flags"`
}

type Speaking struct {
	Channel  domain.ChannelID `json:"channel_id"`
	User     domain.UserID    `json:"user_id"`
	Speaking bool             `json:"speaking"`
}

type SessionElsewhere struct {
	Channel domain.ChannelID   `json:"channel_id"`
	Name    domain.ChannelName `json:"channel_name"`
}

type VoiceDisconnected struct {
	Channel domain.ChannelID `json:"channel_id"`
}

type ChannelsReordered struct {
	Community domain.CommunityID `json:"community_id"`
	Channels  []domain.Channel   `json:"channels"`
	// Token correlates an echo with the local commit that caused it.
	// Empty for reorders initiated elsewhere.
	Token string `json:"token,omitempty"`
}

type ChannelDeleted struct {
	Channel domain.ChannelID `json:"channel_id"`
}

func (ParticipantJoined) Kind() EventType { return TypeParticipantJoined }
func (ParticipantLeft) Kind() EventType { return TypeParticipantLeft }
func (ParticipantState) Kind() EventType { return TypeParticipantState }
func (ServerState) Kind() EventType { return TypeServerState }
func (Speaking) Kind() EventType { return TypeSpeaking }
func (SessionElsewhere) Kind() EventType { return TypeSessionElsewhere }
func (VoiceDisconnected) Kind() EventType { return TypeVoiceDisconnected }
func (ChannelsReordered) Kind() EventType { return TypeChannelsReordered }
func (ChannelDeleted) Kind() EventType { return TypeChannelDeleted }

// EventSink consumes the ordered event stream. The gateway delivers from a
// single goroutine; the sink is responsible for marshalling onto its own
// writer context.
type EventSink interface {
	HandleEvent(Event)
	// TransportDown signals loss of the push channel; TransportUp signals
	// that it is live again (initial connect included).
	TransportDown()
	TransportUp()
}
