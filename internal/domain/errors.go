package domain

import "errors"

var (
	ErrPermissionDenied  = errors.New("media permission denied")
	ErrDeviceUnavailable = errors.New("media device unavailable")
	ErrAcquireCanceled   = errors.New("media acquisition canceled")

	ErrStoreUnavailable = errors.New("signaling store unavailable")
	ErrSessionExists    = errors.New("call session already exists")
	ErrSessionNotFound  = errors.New("call session not found")

	ErrInvalidState = errors.New("invalid peer connection state")
	ErrSetupRace    = errors.New("both participants attempted to place the call")

	ErrCallNotFound = errors.New("call not found")
	ErrCallActive   = errors.New("call already active for conversation")
)
