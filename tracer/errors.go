package tracer

import "errors"

var (
	ErrNotInitialized   = errors.New("tracer: backend not initialized")
	ErrClosed           = errors.New("tracer: backend is closed")
	ErrUnsupported      = errors.New("tracer: backend not supported by device")
	ErrInvalidSize      = errors.New("tracer: invalid render target size")
	ErrSceneMismatch    = errors.New("tracer: model and transform counts differ")
	ErrSceneNotBuilt    = errors.New("tracer: scene not built")
	ErrNoCamera         = errors.New("tracer: camera not defined")
	ErrNoFramebuffer    = errors.New("tracer: target framebuffer is nil")
	ErrInvalidModel     = errors.New("tracer: model has no geometry")
	ErrInvalidTransform = errors.New("tracer: transform is not invertible")
)
