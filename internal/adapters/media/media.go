// Package media implements capture ownership on a WebRTC peer connection.
// The engine only brokers start/stop; encoding and the capture processes
// themselves live outside this module.
package media

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/snacka/presence/internal/domain"
)

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// Controller owns the local outbound tracks. One capture per kind: starting
// a kind that is already live releases the prior track first, so two
// concurrent captures of the same kind cannot exist.
type Controller struct {
	mu      sync.Mutex
	pc      *webrtc.PeerConnection
	senders map[domain.StreamKind]*webrtc.RTPSender
}

func NewController(cfg webrtc.Configuration) (*Controller, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return &Controller{
		pc:      pc,
		senders: make(map[domain.StreamKind]*webrtc.RTPSender),
	}, nil
}

func (c *Controller) StartCapture(kind domain.StreamKind) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sender, ok := c.senders[kind]; ok {
		log.Info().Str("module", "media").Str("kind", string(kind)).Msg("releasing prior capture")
		if err := c.pc.RemoveTrack(sender); err != nil {
			log.Error().Err(err).Str("module", "media").Str("kind", string(kind)).Msg("remove prior track")
		}
		delete(c.senders, kind)
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		string(kind),
		"local-"+string(kind),
	)
	if err != nil {
		return fmt.Errorf("new %s track: %w", kind, err)
	}
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add %s track: %w", kind, err)
	}
	c.senders[kind] = sender
	log.Info().Str("module", "media").Str("kind", string(kind)).Msg("capture started")
	return nil
}

func (c *Controller) StopCapture(kind domain.StreamKind) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sender, ok := c.senders[kind]
	if !ok {
		return
	}
	delete(c.senders, kind)
	if err := c.pc.RemoveTrack(sender); err != nil {
		log.Error().Err(err).Str("module", "media").Str("kind", string(kind)).Msg("remove track")
		return
	}
	log.Info().Str("module", "media").Str("kind", string(kind)).Msg("capture stopped")
}

func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.senders = make(map[domain.StreamKind]*webrtc.RTPSender)
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "media").Msg("close error")
	}
}
