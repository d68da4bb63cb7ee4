package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/snacka/presence/internal/core"
	"github.com/snacka/presence/internal/domain"
)

// Request type names on the wire.
const (
	reqJoin        = "join"
	reqLeave       = "leave"
	reqVoiceState  = "voice_state"
	reqSpeaking    = "speaking"
	reqServerState = "server_state"
	reqMoveUser    = "move_user"
	reqReorder     = "reorder"
)

// request sends one correlated request and waits for its response. A closed
// connection or timeout surfaces as an error; the engine treats it like an
// explicit rejection.
func (c *Client) request(ctx context.Context, typ string, payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	reqID := uuid.NewString()
	env, err := json.Marshal(envelope{Type: typ, ReqID: reqID, Data: data})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	respCh := make(chan envelope, 1)
	c.mu.Lock()
	c.pending[reqID] = respCh
	c.mu.Unlock()

	cleanup := func() {
		c.mu.Lock()
		delete(c.pending, reqID)
		c.mu.Unlock()
	}

	if err := c.trySend(env); err != nil {
		cleanup()
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		cleanup()
		return ctx.Err()
	case resp, ok := <-respCh:
		if !ok {
			return ErrClosed
		}
		if !resp.OK {
			return fmt.Errorf("%w: %s", ErrRejected, resp.Error)
		}
		if out != nil && len(resp.Data) > 0 {
			if err := json.Unmarshal(resp.Data, out); err != nil {
				return fmt.Errorf("unmarshal %s response: %w", typ, err)
			}
		}
		return nil
	}
}

var _ core.VoiceTransport = (*Client)(nil)

type channelRef struct {
	Channel domain.ChannelID `json:"channel_id"`
}

func (c *Client) JoinChannel(ctx context.Context, ch domain.ChannelID) (core.JoinResult, error) {
	var res core.JoinResult
	err := c.request(ctx, reqJoin, channelRef{Channel: ch}, &res)
	return res, err
}

func (c *Client) LeaveChannel(ctx context.Context, ch domain.ChannelID) error {
	return c.request(ctx, reqLeave, channelRef{Channel: ch}, nil)
}

func (c *Client) UpdateVoiceState(ctx context.Context, ch domain.ChannelID, flags domain.FlagUpdate) error {
	payload := struct {
		Channel domain.ChannelID  `json:"channel_id"`
		Flags   domain.FlagUpdate `json:"flags"`
	}{ch, flags}
	return c.request(ctx, reqVoiceState, payload, nil)
}

func (c *Client) UpdateSpeaking(ctx context.Context, ch domain.ChannelID, speaking bool) error {
	payload := struct {
		Channel  domain.ChannelID `json:"channel_id"`
		Speaking bool             `json:"speaking"`
	}{ch, speaking}
	return c.request(ctx, reqSpeaking, payload, nil)
}

func (c *Client) SetServerFlags(ctx context.Context, ch domain.ChannelID, user domain.UserID, flags domain.ServerFlagUpdate) error {
	payload := struct {
		Channel domain.ChannelID        `json:"channel_id"`
		User    domain.UserID           `json:"user_id"`
		Flags   domain.ServerFlagUpdate `json:"flags"`
	}{ch, user, flags}
	return c.request(ctx, reqServerState, payload, nil)
}

func (c *Client) MoveUser(ctx context.Context, user domain.UserID, from, to domain.ChannelID) error {
	payload := struct {
		User domain.UserID    `json:"user_id"`
		From domain.ChannelID `json:"from_channel_id"`
		To   domain.ChannelID `json:"to_channel_id"`
	}{user, from, to}
	return c.request(ctx, reqMoveUser, payload, nil)
}

func (c *Client) ReorderChannels(ctx context.Context, community domain.CommunityID, ordered []domain.ChannelID, token string) error {
	payload := struct {
		Community domain.CommunityID `json:"community_id"`
		Ordered   []domain.ChannelID `json:"ordered"`
		Token     string             `json:"token"`
	}{community, ordered, token}
	return c.request(ctx, reqReorder, payload, nil)
}
