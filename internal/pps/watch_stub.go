//go:build !linux

package pps

import (
	"fmt"
	"io"
	"time"
)

func watchPulses(chipPath string, line int, fn func(time.Time)) (io.Closer, error) {
	return nil, fmt.Errorf("pps not supported on this platform")
}
