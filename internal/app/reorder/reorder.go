// Package reorder manages optimistic reordering of the channel list with
// rollback on rejection and suppression of the server's confirming echo.
package reorder

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/snacka/presence/internal/app/optimistic"
	"github.com/snacka/presence/internal/core"
	"github.com/snacka/presence/internal/domain"
)

// Preview marks the dragged item and the gap it would drop into. It is pure
// visual state; the canonical ordering is untouched until commit.
type Preview struct {
	Dragged    domain.ChannelID
	Target     domain.ChannelID
	DropBefore bool
}

type list struct {
	channels []domain.Channel
	preview  *Preview
	// pending holds correlation tokens of commits whose echo is expected
	// and must be treated as a no-op. Per-commit tokens instead of one
	// shared flag: a later echo can never clear an unrelated commit.
	pending map[string]struct{}
}

// Dispatch runs fn on the engine's single writer goroutine and returns once
// it has executed.
type Dispatch func(fn func())

// Reconciler keeps one orderable channel list per community.
type Reconciler struct {
	mu        sync.RWMutex
	transport core.VoiceTransport
	exec      Dispatch
	lists     map[domain.CommunityID]*list
}

func New(transport core.VoiceTransport, exec Dispatch) *Reconciler {
	if exec == nil {
		exec = func(fn func()) { fn() }
	}
	return &Reconciler{
		transport: transport,
		exec:      exec,
		lists:     make(map[domain.CommunityID]*list),
	}
}

func (r *Reconciler) list(community domain.CommunityID) *list {
	l, ok := r.lists[community]
	if !ok {
		l = &list{pending: make(map[string]struct{})}
		r.lists[community] = l
	}
	return l
}

// SetChannels installs the authoritative list, normalizing positions dense.
func (r *Reconciler) SetChannels(community domain.CommunityID, channels []domain.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.list(community)
	l.channels = normalize(channels)
}

// BeginPreview records a drag gesture's visual gap. Repeated calls refine
// the preview; the canonical ordering stays untouched, so the rollback
// snapshot is taken at commit time and includes any server push that landed
// mid-drag.
func (r *Reconciler) BeginPreview(community domain.CommunityID, dragged, target domain.ChannelID, dropBefore bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.list(community)
	l.preview = &Preview{Dragged: dragged, Target: target, DropBefore: dropBefore}
}

// CancelPreview clears the gap markers. The ordering is unchanged.
func (r *Reconciler) CancelPreview(community domain.CommunityID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.list(community).preview = nil
}

// CurrentPreview returns the active drag preview, if any.
func (r *Reconciler) CurrentPreview(community domain.CommunityID) (Preview, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.lists[community]
	if !ok || l.preview == nil {
		return Preview{}, false
	}
	return *l.preview, true
}

// CommitReorder applies the new order locally, clears the preview, and
// confirms with the server. The confirming echo is keyed by a correlation
// token and applied as a no-op; on rejection or transport failure the exact
// pre-commit list is restored and the token forgotten.
func (r *Reconciler) CommitReorder(ctx context.Context, community domain.CommunityID, ordered []domain.ChannelID) error {
	token := uuid.NewString()

	r.mu.Lock()
	l := r.list(community)
	snapshot := cloneChannels(l.channels)
	r.mu.Unlock()

	m := optimistic.Mutation[[]domain.Channel]{
		Snapshot: snapshot,
		Apply: func() {
			r.exec(func() {
				r.mu.Lock()
				defer r.mu.Unlock()
				l.channels = reindex(l.channels, ordered)
				l.preview = nil
				l.pending[token] = struct{}{}
			})
		},
		Send: func(ctx context.Context) error {
			return r.transport.ReorderChannels(ctx, community, ordered, token)
		},
		Restore: func(prev []domain.Channel) {
			r.exec(func() {
				r.mu.Lock()
				defer r.mu.Unlock()
				l.channels = prev
				delete(l.pending, token)
			})
		},
	}
	if err := m.Run(ctx); err != nil {
		log.Warn().Err(err).Str("module", "reorder").Str("community", string(community)).Msg("reorder rejected, rolled back")
		return err
	}
	return nil
}

// HandleReordered merges a server-pushed ordering. An echo of a local
// commit (matched by token) is discarded so the list does not visibly
// reshuffle; anything else is authoritative.
func (r *Reconciler) HandleReordered(evt core.ChannelsReordered) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.list(evt.Community)
	if evt.Token != "" {
		if _, ok := l.pending[evt.Token]; ok {
			delete(l.pending, evt.Token)
			log.Debug().Str("module", "reorder").Str("token", evt.Token).Msg("echo suppressed")
			return
		}
	}
	l.channels = normalize(evt.Channels)
}

// HandleChannelDeleted drops a channel from whichever list holds it and
// closes the gap. Unknown ids are benign no-ops.
func (r *Reconciler) HandleChannelDeleted(ch domain.ChannelID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.lists {
		for i, c := range l.channels {
			if c.ID == ch {
				l.channels = normalize(append(l.channels[:i], l.channels[i+1:]...))
				return
			}
		}
	}
}

// Snapshot returns the community's channels in list order.
func (r *Reconciler) Snapshot(community domain.CommunityID) []domain.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.lists[community]
	if !ok {
		return nil
	}
	return cloneChannels(l.channels)
}

// reindex rebuilds the list in the order implied by ordered, with dense
// 0..N-1 positions. Entities missing from ordered are appended at the end
// in their prior relative order, never dropped.
func reindex(current []domain.Channel, ordered []domain.ChannelID) []domain.Channel {
	byID := make(map[domain.ChannelID]domain.Channel, len(current))
	for _, c := range current {
		byID[c.ID] = c
	}

	out := make([]domain.Channel, 0, len(current))
	placed := make(map[domain.ChannelID]struct{}, len(ordered))
	for _, id := range ordered {
		c, ok := byID[id]
		if !ok {
			continue
		}
		out = append(out, c)
		placed[id] = struct{}{}
	}
	for _, c := range current {
		if _, ok := placed[c.ID]; !ok {
			out = append(out, c)
		}
	}
	return normalize(out)
}

func normalize(channels []domain.Channel) []domain.Channel {
	out := cloneChannels(channels)
	for i := range out {
		out[i].Position = i
	}
	return out
}

func cloneChannels(channels []domain.Channel) []domain.Channel {
	out := make([]domain.Channel, len(channels))
	copy(out, channels)
	return out
}
