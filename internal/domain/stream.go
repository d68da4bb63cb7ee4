package domain

// StreamKind distinguishes the two per-participant media feeds.
type StreamKind string

const (
	StreamCamera      StreamKind = "camera"
	StreamScreenShare StreamKind = "screen_share"
)

// Stream is a logical media feed, derived from participant state and never
// stored independently. A camera stream exists for every participant (the
// video tile shows a placeholder when the camera is off); a screen-share
// stream exists iff ScreenSharing is true.
type Stream struct {
	Channel ChannelID  `json:"channel_id"`
	User    UserID     `json:"user_id"`
	Kind    StreamKind `json:"kind"`
}
