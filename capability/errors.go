package capability

import "errors"

var (
	ErrNoDevice       = errors.New("capability: no active device")
	ErrNotInitialized = errors.New("capability: detector not initialized")
)
