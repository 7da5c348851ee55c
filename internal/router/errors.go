package router

import (
	"errors"
	"syscall"

	"github.com/spindleworks/spindle/internal/pool"
	"github.com/spindleworks/spindle/internal/profile"
	"github.com/spindleworks/spindle/internal/protocol"
)

var (
	// ErrDispatchFailed indicates the worker engine accepted neither the
	// job nor its request bytes.
	ErrDispatchFailed = errors.New("dispatch failed")

	// ErrNotInitialized indicates Process was invoked on a nil router.
	ErrNotInitialized = errors.New("router is not initialized")

	// ErrJobNotFound indicates a reply frame carrying a source key with no
	// in-flight job.
	ErrJobNotFound = errors.New("job not found")
)

// Errno maps an error to the negative code Process returns. Unrecognized
// errors are treated as malformed input.
func Errno(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, protocol.ErrMalformedHeader),
		errors.Is(err, protocol.ErrInvalidEvent),
		errors.Is(err, pool.ErrInvalidProfile):
		return -int(syscall.EINVAL)
	case errors.Is(err, pool.ErrNotFound),
		errors.Is(err, profile.ErrNotFound),
		errors.Is(err, ErrJobNotFound):
		return -int(syscall.ENOENT)
	case errors.Is(err, ErrDispatchFailed):
		return -int(syscall.EXFULL)
	case errors.Is(err, ErrNotInitialized):
		return -int(syscall.ENOTSUP)
	default:
		return -int(syscall.EINVAL)
	}
}
