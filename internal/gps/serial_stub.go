//go:build !linux

package gps

import (
	"fmt"
	"os"
)

func openSerial(path string, baud int) (*os.File, error) {
	return nil, fmt.Errorf("serial device %s: nmea input is only supported on linux (use source gpsd or file)", path)
}
