//go:build !linux

package clock

import (
	"errors"
	"time"
)

// ErrUptimeUnsupported is returned on platforms without a boot clock source.
var ErrUptimeUnsupported = errors.New("uptime not supported on this platform")

// Uptime is not available outside Linux.
func Uptime() (time.Duration, error) {
	return 0, ErrUptimeUnsupported
}
