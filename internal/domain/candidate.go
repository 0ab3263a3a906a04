package domain

import (
	"time"

	"github.com/pion/webrtc/v3"
)

// Role tags which side of the offer/answer exchange produced a candidate.
type Role string

const (
	RoleOfferer  Role = "offerer"
	RoleAnswerer Role = "answerer"
)

func (r Role) Other() Role {
	if r == RoleOfferer {
		return RoleAnswerer
	}
	return RoleOfferer
}

func (r Role) Valid() bool {
	return r == RoleOfferer || r == RoleAnswerer
}

// IceCandidate is an append-only record in one role's candidate list.
type IceCandidate struct {
	ID        string                  `json:"id"`
	SessionID string                  `json:"session_id"`
	Role      Role                    `json:"role"`
	Init      webrtc.ICECandidateInit `json:"candidate"`
	Seq       int64                   `json:"seq"`
	CreatedAt time.Time               `json:"created_at"`
}
