// Package app wires the presence engine together: the voice state store,
// stream tracker, local session, and reorder reconciler behind one
// command/query API for the presentation layer.
package app

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/snacka/presence/internal/app/reorder"
	"github.com/snacka/presence/internal/app/session"
	"github.com/snacka/presence/internal/app/store"
	"github.com/snacka/presence/internal/app/streams"
	"github.com/snacka/presence/internal/core"
	"github.com/snacka/presence/internal/domain"
)

// Engine is the synchronization core. All store, session, and ordering
// mutations run on the single goroutine driving Run; events from the
// gateway and commands from the UI are marshalled onto it, while network
// round trips happen in the caller's goroutine so local reads never block.
type Engine struct {
	store   *store.Store
	streams *streams.Tracker
	session *session.Session
	reorder *reorder.Reconciler
	calls   chan func()
	stopped chan struct{}
}

// New builds an engine for one logical user. The identity is explicit
// constructor state, not ambient globals.
func New(self domain.UserID, displayName string, transport core.VoiceTransport, media core.MediaController, sink core.StreamSink, prefs session.Prefs) *Engine {
	e := &Engine{
		store:   store.New(),
		calls:   make(chan func(), 128),
		stopped: make(chan struct{}),
	}
	e.streams = streams.New(sink)
	e.store.AddHook(e.streams)
	e.session = session.New(self, displayName, e.store, transport, media, prefs, e.dispatch)
	e.reorder = reorder.New(transport, e.dispatch)
	return e
}

// Run drives the writer loop until ctx is done. Exactly one Run per engine.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.stopped)
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "engine").Msg("writer loop stopped")
			return
		case fn := <-e.calls:
			fn()
		}
	}
}

// dispatch runs fn on the writer loop and waits for it. After shutdown it
// degrades to inline execution so teardown paths stay total. fn runs exactly
// once: the claim flag keeps a stop racing the enqueue from dropping it or
// running it twice.
func (e *Engine) dispatch(fn func()) {
	select {
	case <-e.stopped:
		fn()
		return
	default:
	}

	var claimed atomic.Bool
	done := make(chan struct{})
	select {
	case e.calls <- func() {
		if claimed.CompareAndSwap(false, true) {
			fn()
		}
		close(done)
	}:
	case <-e.stopped:
		fn()
		return
	}
	select {
	case <-done:
	case <-e.stopped:
		// The loop exited without picking it up; run it here.
		if claimed.CompareAndSwap(false, true) {
			fn()
		}
	}
}

// submit enqueues fn without waiting. Used for event application, where the
// gateway pump's send order is the ordering guarantee.
func (e *Engine) submit(fn func()) {
	select {
	case e.calls <- fn:
	case <-e.stopped:
	}
}

// HandleEvent implements core.EventSink. Events for one channel are applied
// in arrival order; unsolicited events merge directly and are never rolled
// back.
func (e *Engine) HandleEvent(evt core.Event) {
	e.submit(func() { e.apply(evt) })
}

func (e *Engine) apply(evt core.Event) {
	switch ev := evt.(type) {
	case core.ParticipantJoined:
		e.store.AddParticipant(ev.Channel, ev.Participant)
	case core.ParticipantLeft:
		e.store.RemoveParticipant(ev.Channel, ev.User)
	case core.ParticipantState:
		if e.session.OwnsVoiceState(ev.Channel, ev.User) {
			log.Debug().Str("module", "engine").Str("channel", string(ev.Channel)).Msg("self voice-state echo ignored")
			return
		}
		e.store.UpdateParticipantFlags(ev.Channel, ev.User, ev.Flags)
	case core.ServerState:
		e.store.UpdateServerFlags(ev.Channel, ev.User, ev.Flags)
	case core.Speaking:
		e.store.SetSpeaking(ev.Channel, ev.User, ev.Speaking)
	case core.SessionElsewhere:
		e.session.HandleSessionElsewhere(ev.Channel, ev.Name)
	case core.VoiceDisconnected:
		e.session.HandleVoiceDisconnected(ev.Channel)
	case core.ChannelsReordered:
		e.reorder.HandleReordered(ev)
	case core.ChannelDeleted:
		e.reorder.HandleChannelDeleted(ev.Channel)
	default:
		log.Warn().Str("module", "engine").Str("type", string(evt.Kind())).Msg("unknown event")
	}
}

// TransportDown implements core.EventSink.
func (e *Engine) TransportDown() {
	e.submit(func() { e.session.TransportDown() })
}

// TransportUp implements core.EventSink.
func (e *Engine) TransportUp() {
	e.submit(func() { e.session.TransportUp() })
}

// Commands (PresentationAdapter surface).

func (e *Engine) JoinChannel(ctx context.Context, ch domain.ChannelID) error {
	return e.session.JoinChannel(ctx, ch)
}

func (e *Engine) LeaveChannel(ctx context.Context) error {
	return e.session.LeaveChannel(ctx)
}

func (e *Engine) ToggleMute(ctx context.Context) error { return e.session.ToggleMute(ctx) }
func (e *Engine) ToggleDeafen(ctx context.Context) error { return e.session.ToggleDeafen(ctx) }
func (e *Engine) ToggleCamera(ctx context.Context) error { return e.session.ToggleCamera(ctx) }

func (e *Engine) StartScreenShare(ctx context.Context, withAudio bool) error {
	return e.session.StartScreenShare(ctx, withAudio)
}

func (e *Engine) StopScreenShare(ctx context.Context) error {
	return e.session.StopScreenShare(ctx)
}

func (e *Engine) SetSpeaking(ctx context.Context, speaking bool) {
	e.session.SetSpeaking(ctx, speaking)
}

func (e *Engine) SetServerFlags(ctx context.Context, ch domain.ChannelID, user domain.UserID, flags domain.ServerFlagUpdate) error {
	return e.session.SetServerFlags(ctx, ch, user, flags)
}

func (e *Engine) MoveUser(ctx context.Context, user domain.UserID, from, to domain.ChannelID) error {
	return e.session.MoveUser(ctx, user, from, to)
}

// LoadChannels installs the initial channel list for a community, as
// fetched by the caller over the CRUD API.
func (e *Engine) LoadChannels(community domain.CommunityID, channels []domain.Channel) {
	e.dispatch(func() { e.reorder.SetChannels(community, channels) })
}

func (e *Engine) BeginPreview(community domain.CommunityID, dragged, target domain.ChannelID, dropBefore bool) {
	e.dispatch(func() { e.reorder.BeginPreview(community, dragged, target, dropBefore) })
}

func (e *Engine) CancelPreview(community domain.CommunityID) {
	e.dispatch(func() { e.reorder.CancelPreview(community) })
}

func (e *Engine) CommitReorder(ctx context.Context, community domain.CommunityID, ordered []domain.ChannelID) error {
	return e.reorder.CommitReorder(ctx, community, ordered)
}

// Queries (read-only snapshots, safe from any goroutine).

func (e *Engine) Participants(ch domain.ChannelID) []domain.Participant {
	return e.store.Snapshot(ch)
}

func (e *Engine) Participant(ch domain.ChannelID, user domain.UserID) (domain.Participant, bool) {
	return e.store.Get(ch, user)
}

func (e *Engine) Status() domain.ConnectionStatus { return e.session.Status() }

func (e *Engine) Current() (domain.ChannelID, domain.ChannelName) { return e.session.Current() }

func (e *Engine) OtherDevice() domain.OtherDeviceSession { return e.session.OtherDevice() }

func (e *Engine) Channels(community domain.CommunityID) []domain.Channel {
	return e.reorder.Snapshot(community)
}

func (e *Engine) CurrentPreview(community domain.CommunityID) (reorder.Preview, bool) {
	return e.reorder.CurrentPreview(community)
}

// Subscribe returns the per-channel change feed for presentation bindings.
func (e *Engine) Subscribe(ch domain.ChannelID) (<-chan store.Change, func()) {
	return e.store.Subscribe(ch)
}

// Streams returns the live stream handles for a channel.
func (e *Engine) Streams(ch domain.ChannelID) []domain.Stream {
	return e.streams.Live(ch)
}
