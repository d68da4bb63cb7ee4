package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/snacka/presence/internal/core"
)

// decodeEvent maps a wire envelope to its concrete event. Unknown types are
// an error so the read pump can log and skip them without stalling.
func decodeEvent(env envelope) (core.Event, error) {
	switch core.EventType(env.Type) {
	case core.TypeParticipantJoined:
		return unmarshalEvent[core.ParticipantJoined](env)
	case core.TypeParticipantLeft:
		return unmarshalEvent[core.ParticipantLeft](env)
	case core.TypeParticipantState:
		return unmarshalEvent[core.ParticipantState](env)
	case core.TypeServerState:
		return unmarshalEvent[core.ServerState](env)
	case core.TypeSpeaking:
		return unmarshalEvent[core.Speaking](env)
	case core.TypeSessionElsewhere:
		return unmarshalEvent[core.SessionElsewhere](env)
	case core.TypeVoiceDisconnected:
		return unmarshalEvent[core.VoiceDisconnected](env)
	case core.TypeChannelsReordered:
		return unmarshalEvent[core.ChannelsReordered](env)
	case core.TypeChannelDeleted:
		return unmarshalEvent[core.ChannelDeleted](env)
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
}

func unmarshalEvent[E core.Event](env envelope) (core.Event, error) {
	var evt E
	if err := json.Unmarshal(env.Data, &evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return evt, nil
}
