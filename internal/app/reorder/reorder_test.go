package reorder

import (
	"context"
	"errors"
	"testing"

	"github.com/snacka/presence/internal/core"
	"github.com/snacka/presence/internal/domain"
)

type reorderCall struct {
	community domain.CommunityID
	ordered   []domain.ChannelID
	token     string
}

type fakeTransport struct {
	reorderErr error
	reorders   []reorderCall
}

func (f *fakeTransport) JoinChannel(context.Context, domain.ChannelID) (core.JoinResult, error) {
	return core.JoinResult{}, nil
}
func (f *fakeTransport) LeaveChannel(context.Context, domain.ChannelID) error { return nil }
func (f *fakeTransport) UpdateVoiceState(context.Context, domain.ChannelID, domain.FlagUpdate) error {
	return nil
}
func (f *fakeTransport) UpdateSpeaking(context.Context, domain.ChannelID, bool) error { return nil }
func (f *fakeTransport) SetServerFlags(context.Context, domain.ChannelID, domain.UserID, domain.ServerFlagUpdate) error {
	return nil
}
func (f *fakeTransport) MoveUser(context.Context, domain.UserID, domain.ChannelID, domain.ChannelID) error {
	return nil
}
func (f *fakeTransport) ReorderChannels(_ context.Context, community domain.CommunityID, ordered []domain.ChannelID, token string) error {
	f.reorders = append(f.reorders, reorderCall{community, ordered, token})
	return f.reorderErr
}

func seedChannels(ids ...domain.ChannelID) []domain.Channel {
	out := make([]domain.Channel, len(ids))
	for i, id := range ids {
		out[i] = domain.Channel{ID: id, Name: domain.ChannelName(id), Community: "dev", Position: i}
	}
	return out
}

func assertOrder(t *testing.T, got []domain.Channel, want ...domain.ChannelID) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("channel count = %d, want %d", len(got), len(want))
	}
	for i, c := range got {
		if c.ID != want[i] {
			t.Fatalf("channels[%d] = %s, want %s", i, c.ID, want[i])
		}
		if c.Position != i {
			t.Fatalf("channels[%d].Position = %d, want %d (positions must stay dense)", i, c.Position, i)
		}
	}
}

func TestSetChannels_NormalizesPositions(t *testing.T) {
	r := New(&fakeTransport{}, nil)
	sparse := seedChannels("x", "y", "z")
	sparse[0].Position = 3
	sparse[1].Position = 7
	sparse[2].Position = 12

	r.SetChannels("dev", sparse)

	assertOrder(t, r.Snapshot("dev"), "x", "y", "z")
}

func TestCommitReorder_AppliesAndConfirms(t *testing.T) {
	tr := &fakeTransport{}
	r := New(tr, nil)
	r.SetChannels("dev", seedChannels("x", "y", "z"))

	if err := r.CommitReorder(context.Background(), "dev", []domain.ChannelID{"z", "x", "y"}); err != nil {
		t.Fatalf("CommitReorder() error = %v, want nil", err)
	}

	assertOrder(t, r.Snapshot("dev"), "z", "x", "y")
	if len(tr.reorders) != 1 {
		t.Fatalf("reorder requests = %d, want 1", len(tr.reorders))
	}
	if tr.reorders[0].token == "" {
		t.Fatal("reorder request missing correlation token")
	}
}

func TestCommitReorder_RollsBackOnRejection(t *testing.T) {
	tr := &fakeTransport{reorderErr: errors.New("insufficient permissions")}
	r := New(tr, nil)
	r.SetChannels("dev", seedChannels("x", "y", "z"))

	err := r.CommitReorder(context.Background(), "dev", []domain.ChannelID{"z", "x", "y"})
	if err == nil {
		t.Fatal("CommitReorder() error = nil, want rejection")
	}

	// The exact pre-commit ordering is restored.
	assertOrder(t, r.Snapshot("dev"), "x", "y", "z")

	// A later echo carrying the rolled-back token must not resurrect it.
	token := tr.reorders[0].token
	r.HandleReordered(core.ChannelsReordered{Community: "dev", Channels: seedChannels("z", "x", "y"), Token: token})
	assertOrder(t, r.Snapshot("dev"), "z", "x", "y")
}

// A server push that lands mid-drag is authoritative; a rejected commit
// after it must roll back to the pushed ordering, not the gesture-start one.
func TestCommitReorder_RollbackKeepsMidDragPush(t *testing.T) {
	tr := &fakeTransport{reorderErr: errors.New("insufficient permissions")}
	r := New(tr, nil)
	r.SetChannels("dev", seedChannels("x", "y", "z"))

	r.BeginPreview("dev", "z", "x", true)
	r.HandleReordered(core.ChannelsReordered{Community: "dev", Channels: seedChannels("y", "x", "z")})

	if err := r.CommitReorder(context.Background(), "dev", []domain.ChannelID{"z", "y", "x"}); err == nil {
		t.Fatal("CommitReorder() error = nil, want rejection")
	}

	assertOrder(t, r.Snapshot("dev"), "y", "x", "z")
}

func TestHandleReordered_SuppressesEcho(t *testing.T) {
	tr := &fakeTransport{}
	r := New(tr, nil)
	r.SetChannels("dev", seedChannels("x", "y", "z"))

	if err := r.CommitReorder(context.Background(), "dev", []domain.ChannelID{"z", "x", "y"}); err != nil {
		t.Fatalf("CommitReorder() error = %v, want nil", err)
	}
	token := tr.reorders[0].token

	// The echo must be a no-op even if its payload order differs in detail.
	r.HandleReordered(core.ChannelsReordered{Community: "dev", Channels: seedChannels("y", "z", "x"), Token: token})
	assertOrder(t, r.Snapshot("dev"), "z", "x", "y")

	// The token is consumed; replaying it is treated as authoritative.
	r.HandleReordered(core.ChannelsReordered{Community: "dev", Channels: seedChannels("y", "z", "x"), Token: token})
	assertOrder(t, r.Snapshot("dev"), "y", "z", "x")
}

func TestHandleReordered_ForeignOrderingIsAuthoritative(t *testing.T) {
	r := New(&fakeTransport{}, nil)
	r.SetChannels("dev", seedChannels("x", "y", "z"))

	r.HandleReordered(core.ChannelsReordered{Community: "dev", Channels: seedChannels("y", "x", "z")})

	assertOrder(t, r.Snapshot("dev"), "y", "x", "z")
}

func TestCommitReorder_MissingEntitiesAppended(t *testing.T) {
	r := New(&fakeTransport{}, nil)
	r.SetChannels("dev", seedChannels("w", "x", "y", "z"))

	// The ordered list omits x and y; they keep their relative order at the end.
	if err := r.CommitReorder(context.Background(), "dev", []domain.ChannelID{"z", "w"}); err != nil {
		t.Fatalf("CommitReorder() error = %v, want nil", err)
	}

	assertOrder(t, r.Snapshot("dev"), "z", "w", "x", "y")
}

func TestCommitReorder_UnknownIDsIgnored(t *testing.T) {
	r := New(&fakeTransport{}, nil)
	r.SetChannels("dev", seedChannels("x", "y"))

	if err := r.CommitReorder(context.Background(), "dev", []domain.ChannelID{"ghost", "y", "x"}); err != nil {
		t.Fatalf("CommitReorder() error = %v, want nil", err)
	}

	assertOrder(t, r.Snapshot("dev"), "y", "x")
}

func TestBeginPreview_RefinesWithoutReset(t *testing.T) {
	r := New(&fakeTransport{}, nil)
	r.SetChannels("dev", seedChannels("x", "y", "z"))

	r.BeginPreview("dev", "x", "y", false)
	r.BeginPreview("dev", "x", "z", true)

	p, ok := r.CurrentPreview("dev")
	if !ok {
		t.Fatal("preview missing")
	}
	if p.Dragged != "x" || p.Target != "z" || !p.DropBefore {
		t.Fatalf("preview = %+v, want dragged=x target=z dropBefore=true", p)
	}

	// Previews never touch the canonical ordering.
	assertOrder(t, r.Snapshot("dev"), "x", "y", "z")
}

func TestCancelPreview_LeavesOrderingUntouched(t *testing.T) {
	r := New(&fakeTransport{}, nil)
	r.SetChannels("dev", seedChannels("x", "y", "z"))

	r.BeginPreview("dev", "y", "x", true)
	r.CancelPreview("dev")

	if _, ok := r.CurrentPreview("dev"); ok {
		t.Fatal("preview still active after cancel")
	}
	assertOrder(t, r.Snapshot("dev"), "x", "y", "z")
}

func TestCommitReorder_ClearsPreview(t *testing.T) {
	r := New(&fakeTransport{}, nil)
	r.SetChannels("dev", seedChannels("x", "y", "z"))

	r.BeginPreview("dev", "z", "x", true)
	if err := r.CommitReorder(context.Background(), "dev", []domain.ChannelID{"z", "x", "y"}); err != nil {
		t.Fatalf("CommitReorder() error = %v, want nil", err)
	}

	if _, ok := r.CurrentPreview("dev"); ok {
		t.Fatal("preview survived commit")
	}
}

func TestHandleChannelDeleted_ClosesGap(t *testing.T) {
	r := New(&fakeTransport{}, nil)
	r.SetChannels("dev", seedChannels("x", "y", "z"))

	r.HandleChannelDeleted("y")
	assertOrder(t, r.Snapshot("dev"), "x", "z")

	// Unknown id is a benign no-op.
	r.HandleChannelDeleted("ghost")
	assertOrder(t, r.Snapshot("dev"), "x", "z")
}
