package accel

import "errors"

var (
	ErrInvalidHandle    = errors.New("accel: invalid handle")
	ErrInvalidGeometry  = errors.New("accel: invalid geometry description")
	ErrUpdateNotAllowed = errors.New("accel: structure was not built with allow update")
	ErrTopologyChanged  = errors.New("accel: primitive count differs from build time")
	ErrCountMismatch    = errors.New("accel: transform count does not match instance count")
	ErrLimitExceeded    = errors.New("accel: device limit exceeded")
	ErrAlreadyCompacted = errors.New("accel: structure is already compacted")
	ErrNotImplicit      = errors.New("accel: model has no implicit surface")
	ErrInvalidVoxelSize = errors.New("accel: invalid voxel size")
	ErrManagerClosed    = errors.New("accel: manager is closed")

	errTraversalStackOverflow = errors.New("accel: traversal stack overflow")
)
