package domain

type CallState string

const (
	CallStateInitializing CallState = "initializing"
	CallStateCalling      CallState = "calling"
	CallStateConnecting   CallState = "connecting"
	CallStateConnected    CallState = "connected"
	CallStateEnded        CallState = "ended"
)

func (s CallState) Terminal() bool {
	return s == CallStateEnded
}

// CallSnapshot is a point-in-time view of a call for observers.
type CallSnapshot struct {
	ConversationID string
	State          CallState
	Role           Role
	Kind           CallKind
	Self           Participant
	Peer           Participant
	Muted          bool
	CameraOff      bool
	RaceLost       bool
	EndReason      string
}
