//go:build linux

package pps

import (
	"fmt"
	"io"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// watchPulses requests the line as a rising-edge input and delivers wall-clock
// timestamps to fn from the event handler goroutine.
func watchPulses(chipPath string, line int, fn func(time.Time)) (io.Closer, error) {
	if chipPath == "" {
		chipPath = "/dev/gpiochip0"
	}
	if line < 0 {
		return nil, fmt.Errorf("pps: invalid line %d", line)
	}

	l, err := gpiocdev.RequestLine(chipPath, line,
		gpiocdev.AsInput,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithConsumer("gpsview-pps"),
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			// Kernel event timestamps are monotonic-since-boot; the wall clock
			// at delivery is close enough for second-scale period tracking.
			fn(time.Now())
		}),
	)
	if err != nil {
		return nil, err
	}
	return l, nil
}
