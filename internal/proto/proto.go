package proto

import "time"

const (
	// Session topics are SessionTopicPrefix + "/" + room.
	SessionTopicPrefix = "boombox.session.v1"
	MdnsTag            = "boombox-mdns"
)

func SessionTopic(room string) string { return SessionTopicPrefix + "/" + room }

// Sync actions.
const (
	ActionPlayRequest  = "play_request"
	ActionStopRequest  = "stop_request"
	ActionSeekRequest  = "seek_request"
	ActionPlayingState = "playing_state"
	ActionTimePulse    = "time_pulse"
)

// Target selects who receives a message. All includes the sender itself.
type Target int

const (
	TargetAll Target = iota
	TargetOthers
)

func (t Target) String() string {
	if t == TargetOthers {
		return "others"
	}
	return "all"
}

// SyncMsg is the only message exchanged on a session topic. Which fields are
// meaningful depends on Action.
type SyncMsg struct {
	Action string `json:"action"`

	// play_request
	Reference string `json:"reference,omitempty"`
	Requester string `json:"requester,omitempty"`

	// playing_state, time_pulse
	MediaID           string  `json:"media_id,omitempty"`
	Playing           bool    `json:"playing,omitempty"`
	SenderIsAuthority bool    `json:"sender_is_authority,omitempty"`
	Position          float64 `json:"position,omitempty"`

	// seek_request
	Delta   float64 `json:"delta,omitempty"`
	Forward bool    `json:"forward,omitempty"`

	From string `json:"from,omitempty"` // set by the transport on receive
	TS   int64  `json:"ts"`
}

func PlayRequest(reference, requester string) SyncMsg {
	return SyncMsg{Action: ActionPlayRequest, Reference: reference, Requester: requester, TS: NowMillis()}
}

func StopRequest() SyncMsg {
	return SyncMsg{Action: ActionStopRequest, TS: NowMillis()}
}

func SeekRequest(delta float64, forward bool) SyncMsg {
	return SyncMsg{Action: ActionSeekRequest, Delta: delta, Forward: forward, TS: NowMillis()}
}

func PlayingState(mediaID string, playing, senderIsAuthority bool) SyncMsg {
	return SyncMsg{Action: ActionPlayingState, MediaID: mediaID, Playing: playing, SenderIsAuthority: senderIsAuthority, TS: NowMillis()}
}

func TimePulse(mediaID string, position float64) SyncMsg {
	return SyncMsg{Action: ActionTimePulse, MediaID: mediaID, Position: position, TS: NowMillis()}
}

func NowMillis() int64 { return time.Now().UnixMilli() }
