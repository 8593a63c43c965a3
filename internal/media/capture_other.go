//go:build !linux || !cgo

package media

import (
	"errors"

	"github.com/arklight/callwire/internal/core"
)

var ErrNoDeviceCapture = errors.New("device capture not supported on this platform")

// NewDeviceSource is unavailable off Linux; callers fall back to
// SyntheticSource so the daemon still joins calls receive-only.
func NewDeviceSource() (core.CaptureSource, error) {
	return nil, ErrNoDeviceCapture
}
