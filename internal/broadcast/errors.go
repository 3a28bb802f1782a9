package broadcast

import "errors"

var (
	// ErrStoreUnavailable means the recipient store could not be counted or read.
	ErrStoreUnavailable = errors.New("recipient store unavailable")
	// ErrAlreadyBroadcasting means the operator already has a run in progress.
	ErrAlreadyBroadcasting = errors.New("broadcast already running")
	// ErrNoSession means the operator has no session in the required stage.
	ErrNoSession = errors.New("no pending broadcast")
	// ErrStalePrompt means a prompt button belongs to a replaced session.
	ErrStalePrompt = errors.New("prompt belongs to an older broadcast")
)
