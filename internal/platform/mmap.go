package platform

import "errors"

// ErrMapUnsupported is returned when memory mapping is not available on the
// current platform. Callers fall back to heap buffers.
var ErrMapUnsupported = errors.New("memory mapping not supported")
