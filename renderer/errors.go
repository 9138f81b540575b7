package renderer

import "errors"

var (
	ErrNotInitialized     = errors.New("renderer: not initialized")
	ErrNoBackend          = errors.New("renderer: no backend could be initialized")
	ErrBackendUnavailable = errors.New("renderer: backend not available")
	ErrUnknownPreset      = errors.New("renderer: unknown quality preset")
	ErrInvalidFrameCount  = errors.New("renderer: frame count must be positive")
	ErrCameraNotDefined   = errors.New("renderer: no camera defined")
)
