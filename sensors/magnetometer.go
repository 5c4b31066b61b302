// Package sensors provides a stratux interface to the magnetometer used for heading.
package sensors

import "github.com/b3nn0/stratux-mag/sensors/hmc5883l"

// MagReader provides an interface to a 3-axis magnetometer such as the
// Honeywell HMC5883L. It is a light abstraction on top of the chip driver
// that keeps sampling in the background.
type MagReader interface {
	// MagneticField returns the time (UnixNano) of the latest sample, its
	// calibrated field in µT and the error of the latest read attempt.
	// T only changes when a new sample was read.
	MagneticField() (T int64, x, y, z float64, magError error)
	SetCalibration(cal hmc5883l.Calibration) // SetCalibration replaces the per-axis offsets in µT.
	SetRange(r hmc5883l.Range) error         // SetRange changes the full-scale range.
	Close()                                  // Close stops reading from the sensor.
}
