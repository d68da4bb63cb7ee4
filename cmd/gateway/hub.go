package main

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/snacka/presence/internal/core"
	"github.com/snacka/presence/internal/domain"
)

// Development gateway hub: an in-memory authoritative server stand-in that
// speaks the same envelope protocol as the client adapter. Good enough to
// run the engine end to end; not a production server.

var errBackpressure = errors.New("backpressure")

type wsClient struct {
	user domain.UserID
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func (c *wsClient) trySend(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errBackpressure
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

type voiceRoom struct {
	id           domain.ChannelID
	name         domain.ChannelName
	participants map[domain.UserID]*domain.Participant
}

type Hub struct {
	mu        sync.RWMutex
	clients   map[domain.UserID][]*wsClient
	rooms     map[domain.ChannelID]*voiceRoom
	userVoice map[domain.UserID]domain.ChannelID
	voiceConn map[domain.UserID]*wsClient
	channels  map[domain.CommunityID][]domain.Channel
}

func NewHub() *Hub {
	return &Hub{
		clients:   make(map[domain.UserID][]*wsClient),
		rooms:     make(map[domain.ChannelID]*voiceRoom),
		userVoice: make(map[domain.UserID]domain.ChannelID),
		voiceConn: make(map[domain.UserID]*wsClient),
		channels:  make(map[domain.CommunityID][]domain.Channel),
	}
}

// Seed installs a community's channels so clients have something to join
// and reorder.
func (h *Hub) Seed(community domain.CommunityID, names ...domain.ChannelName) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, name := range names {
		id := domain.NewChannelID()
		h.channels[community] = append(h.channels[community], domain.Channel{
			ID: id, Name: name, Community: community, Position: i,
		})
		h.rooms[id] = &voiceRoom{id: id, name: name, participants: make(map[domain.UserID]*domain.Participant)}
	}
}

func (h *Hub) attach(cl *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[cl.user] = append(h.clients[cl.user], cl)
	log.Info().Str("module", "hub").Str("user", string(cl.user)).Msg("client attached")
}

func (h *Hub) detach(cl *wsClient) {
	h.mu.Lock()
	conns := h.clients[cl.user]
	for i, c := range conns {
		if c == cl {
			h.clients[cl.user] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	inVoice := h.voiceConn[cl.user] == cl
	h.mu.Unlock()

	if inVoice {
		h.leaveVoice(cl.user)
	}
	cl.close()
	log.Info().Str("module", "hub").Str("user", string(cl.user)).Msg("client detached")
}

type envelope struct {
	Type  string          `json:"type"`
	ReqID string          `json:"req_id,omitempty"`
	OK    bool            `json:"ok,omitempty"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func (h *Hub) handleMessage(cl *wsClient, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("bad json")
		return
	}
	switch env.Type {
	case "join":
		h.handleJoin(cl, env)
	case "leave":
		h.handleLeave(cl, env)
	case "voice_state":
		h.handleVoiceState(cl, env)
	case "speaking":
		h.handleSpeaking(cl, env)
	case "server_state":
		h.handleServerState(cl, env)
	case "move_user":
		h.handleMoveUser(cl, env)
	case "reorder":
		h.handleReorder(cl, env)
	default:
		h.respondErr(cl, env, "unknown request")
	}
}

func (h *Hub) handleJoin(cl *wsClient, env envelope) {
	var req struct {
		Channel domain.ChannelID `json:"channel_id"`
	}
	if err := json.Unmarshal(env.Data, &req); err != nil {
		h.respondErr(cl, env, "bad payload")
		return
	}

	h.mu.Lock()
	room, ok := h.rooms[req.Channel]
	if !ok {
		h.mu.Unlock()
		h.respondErr(cl, env, "channel does not exist")
		return
	}
	// Same account already in voice, possibly from another device.
	if prev, inVoice := h.userVoice[cl.user]; inVoice {
		prevConn := h.voiceConn[cl.user]
		h.removeFromRoomLocked(cl.user, prev)
		h.mu.Unlock()
		h.broadcastRoom(prev, cl.user, core.TypeParticipantLeft, core.ParticipantLeft{Channel: prev, User: cl.user})
		if prevConn != nil && prevConn != cl {
			h.sendEvent(prevConn, core.TypeVoiceDisconnected, core.VoiceDisconnected{Channel: prev})
		}
		h.mu.Lock()
	}

	p := &domain.Participant{UserID: cl.user, DisplayName: shortName(cl.user)}
	p.ApplyFlags(domain.FlagUpdate{})
	room.participants[cl.user] = p
	h.userVoice[cl.user] = req.Channel
	h.voiceConn[cl.user] = cl

	list := make([]domain.Participant, 0, len(room.participants))
	for _, rp := range room.participants {
		list = append(list, *rp)
	}
	otherConns := h.otherConnsLocked(cl.user, cl)
	h.mu.Unlock()

	h.respond(cl, env, core.JoinResult{Channel: req.Channel, Name: room.name, Participants: list})
	h.broadcastRoom(req.Channel, cl.user, core.TypeParticipantJoined, core.ParticipantJoined{Channel: req.Channel, Participant: *p})
	for _, oc := range otherConns {
		h.sendEvent(oc, core.TypeSessionElsewhere, core.SessionElsewhere{Channel: req.Channel, Name: room.name})
	}
}

func (h *Hub) handleLeave(cl *wsClient, env envelope) {
	var req struct {
		Channel domain.ChannelID `json:"channel_id"`
	}
	if err := json.Unmarshal(env.Data, &req); err != nil {
		h.respondErr(cl, env, "bad payload")
		return
	}
	h.leaveVoice(cl.user)
	h.respond(cl, env, nil)
}

func (h *Hub) leaveVoice(user domain.UserID) {
	h.mu.Lock()
	ch, ok := h.userVoice[user]
	if !ok {
		h.mu.Unlock()
		return
	}
	h.removeFromRoomLocked(user, ch)
	h.mu.Unlock()
	h.broadcastRoom(ch, user, core.TypeParticipantLeft, core.ParticipantLeft{Channel: ch, User: user})
}

func (h *Hub) removeFromRoomLocked(user domain.UserID, ch domain.ChannelID) {
	if room, ok := h.rooms[ch]; ok {
		delete(room.participants, user)
	}
	delete(h.userVoice, user)
	delete(h.voiceConn, user)
}

func (h *Hub) handleVoiceState(cl *wsClient, env envelope) {
	var req struct {
		Channel domain.ChannelID  `json:"channel_id"`
		Flags   domain.FlagUpdate `json:"flags"`
	}
	if err := json.Unmarshal(env.Data, &req); err != nil {
		h.respondErr(cl, env, "bad payload")
		return
	}
	h.mu.Lock()
	room, ok := h.rooms[req.Channel]
	if ok {
		if p, ok := room.participants[cl.user]; ok {
			p.ApplyFlags(req.Flags)
		}
	}
	h.mu.Unlock()

	h.respond(cl, env, nil)
	h.broadcastRoom(req.Channel, cl.user, core.TypeParticipantState, core.ParticipantState{Channel: req.Channel, User: cl.user, Flags: req.Flags})
}

func (h *Hub) handleSpeaking(cl *wsClient, env envelope) {
	var req struct {
		Channel  domain.ChannelID `json:"channel_id"`
		Speaking bool             `json:"speaking"`
	}
	if err := json.Unmarshal(env.Data, &req); err != nil {
		h.respondErr(cl, env, "bad payload")
		return
	}
	h.respond(cl, env, nil)
	h.broadcastRoom(req.Channel, cl.user, core.TypeSpeaking, core.Speaking{Channel: req.Channel, User: cl.user, Speaking: req.Speaking})
}

func (h *Hub) handleServerState(cl *wsClient, env envelope) {
	var req struct {
		Channel domain.ChannelID        `json:"channel_id"`
		User    domain.UserID           `json:"user_id"`
		Flags   domain.ServerFlagUpdate `json:"flags"`
	}
	if err := json.Unmarshal(env.Data, &req); err != nil {
		h.respondErr(cl, env, "bad payload")
		return
	}
	h.mu.Lock()
	room, ok := h.rooms[req.Channel]
	if !ok {
		h.mu.Unlock()
		h.respondErr(cl, env, "channel does not exist")
		return
	}
	p, ok := room.participants[req.User]
	if !ok {
		h.mu.Unlock()
		h.respondErr(cl, env, "no such participant")
		return
	}
	p.ApplyServerFlags(req.Flags)
	h.mu.Unlock()

	h.respond(cl, env, nil)
	h.broadcastRoom(req.Channel, "", core.TypeServerState, core.ServerState{Channel: req.Channel, User: req.User, Flags: req.Flags})
}

func (h *Hub) handleMoveUser(cl *wsClient, env envelope) {
	var req struct {
		User domain.UserID    `json:"user_id"`
		From domain.ChannelID `json:"from_channel_id"`
		To   domain.ChannelID `json:"to_channel_id"`
	}
	if err := json.Unmarshal(env.Data, &req); err != nil {
		h.respondErr(cl, env, "bad payload")
		return
	}
	h.mu.RLock()
	target := h.voiceConn[req.User]
	_, ok := h.rooms[req.To]
	h.mu.RUnlock()
	if !ok {
		h.respondErr(cl, env, "channel does not exist")
		return
	}
	if target == nil {
		h.respondErr(cl, env, "user not in voice")
		return
	}
	// Reuse the join path on behalf of the moved user.
	data, _ := json.Marshal(struct {
		Channel domain.ChannelID `json:"channel_id"`
	}{req.To})
	h.handleJoin(target, envelope{Type: "join", ReqID: uuid.NewString(), Data: data})
	h.respond(cl, env, nil)
}

func (h *Hub) handleReorder(cl *wsClient, env envelope) {
	var req struct {
		Community domain.CommunityID `json:"community_id"`
		Ordered   []domain.ChannelID `json:"ordered"`
		Token     string             `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &req); err != nil {
		h.respondErr(cl, env, "bad payload")
		return
	}

	h.mu.Lock()
	current := h.channels[req.Community]
	byID := make(map[domain.ChannelID]domain.Channel, len(current))
	for _, c := range current {
		byID[c.ID] = c
	}
	out := make([]domain.Channel, 0, len(current))
	for _, id := range req.Ordered {
		c, ok := byID[id]
		if !ok {
			h.mu.Unlock()
			h.respondErr(cl, env, "unknown channel in order")
			return
		}
		c.Position = len(out)
		out = append(out, c)
		delete(byID, id)
	}
	for _, c := range current {
		if _, left := byID[c.ID]; left {
			c.Position = len(out)
			out = append(out, c)
		}
	}
	h.channels[req.Community] = out
	h.mu.Unlock()

	h.respond(cl, env, nil)
	h.broadcastAll(core.TypeChannelsReordered, core.ChannelsReordered{Community: req.Community, Channels: out, Token: req.Token})
}

func shortName(user domain.UserID) string {
	s := string(user)
	if len(s) > 8 {
		s = s[:8]
	}
	return s
}

func (h *Hub) otherConnsLocked(user domain.UserID, except *wsClient) []*wsClient {
	out := make([]*wsClient, 0)
	for _, c := range h.clients[user] {
		if c != except {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) respond(cl *wsClient, req envelope, data any) {
	resp := envelope{Type: "response", ReqID: req.ReqID, OK: true}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			log.Error().Err(err).Str("module", "hub").Msg("marshal response")
			return
		}
		resp.Data = raw
	}
	h.sendJSON(cl, resp)
}

func (h *Hub) respondErr(cl *wsClient, req envelope, msg string) {
	h.sendJSON(cl, envelope{Type: "response", ReqID: req.ReqID, OK: false, Error: msg})
}

func (h *Hub) sendEvent(cl *wsClient, typ core.EventType, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("marshal event")
		return
	}
	h.sendJSON(cl, envelope{Type: string(typ), Data: raw})
}

func (h *Hub) sendJSON(cl *wsClient, v envelope) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("marshal envelope")
		return
	}
	if err := cl.trySend(b); err != nil {
		log.Warn().Err(err).Str("module", "hub").Str("user", string(cl.user)).Msg("send failed")
	}
}

// broadcastRoom sends an event to every member of ch except skip.
func (h *Hub) broadcastRoom(ch domain.ChannelID, skip domain.UserID, typ core.EventType, payload any) {
	h.mu.RLock()
	room, ok := h.rooms[ch]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*wsClient, 0, len(room.participants))
	for uid := range room.participants {
		if uid == skip {
			continue
		}
		if conn, ok := h.voiceConn[uid]; ok {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	for _, t := range targets {
		h.sendEvent(t, typ, payload)
	}
}

func (h *Hub) broadcastAll(typ core.EventType, payload any) {
	h.mu.RLock()
	targets := make([]*wsClient, 0)
	for _, conns := range h.clients {
		targets = append(targets, conns...)
	}
	h.mu.RUnlock()

	for _, t := range targets {
		h.sendEvent(t, typ, payload)
	}
}
