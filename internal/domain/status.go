package domain

// ConnectionStatus describes the local user's link to the current channel.
// It is not tracked per participant.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// OtherDeviceSession records that the same account holds a live voice
// session on another device. The zero value means "none".
type OtherDeviceSession struct {
	Channel ChannelID   `json:"channel_id"`
	Name    ChannelName `json:"channel_name"`
}

// Active reports whether another device currently holds the session.
func (o OtherDeviceSession) Active() bool { return o.Channel != "" }
