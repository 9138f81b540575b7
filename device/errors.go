package device

import "errors"

var (
	ErrOutOfMemory        = errors.New("device: out of device memory")
	ErrDeviceLost         = errors.New("device: device context lost")
	ErrDeviceClosed       = errors.New("device: device is closed")
	ErrUnsupported        = errors.New("device: feature not supported by device")
	ErrPipelineLink       = errors.New("device: pipeline link failed")
	ErrInvalidPipeline    = errors.New("device: invalid pipeline")
	ErrInvalidTexture     = errors.New("device: invalid texture")
	ErrBufferNotAllocated = errors.New("device: buffer not allocated")
	ErrEmptyData          = errors.New("device: empty data slice")
)
