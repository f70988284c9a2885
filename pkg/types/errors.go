package types

import "errors"

// Sentinel errors shared by the layer manager, actions and the filter harness.
// Compare with errors.Is; callers wrap them with the offending id.
var (
	ErrLayerNotFound    = errors.New("layer not found")
	ErrLayerUnavailable = errors.New("layer not available")
	ErrWrongType        = errors.New("wrong layer type")
	ErrOutOfRange       = errors.New("parameter out of range")
	ErrInvalidParam     = errors.New("invalid parameter")
	ErrSandboxNotFound  = errors.New("sandbox does not exist")
	ErrSandboxExists    = errors.New("sandbox already exists")
	ErrGridMismatch     = errors.New("layers do not share a grid")
)
