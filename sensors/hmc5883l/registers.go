// Package hmc5883l provides a driver for Honeywell's HMC5883L 3-axis digital compass.
// The datasheet can be found here: https://cdn-shop.adafruit.com/datasheets/HMC5883L_3-Axis_Digital_Compass_IC.pdf
package hmc5883l

const Address byte = 0x1E // fixed 7-bit I2C address

const (
	RegConfigA byte = 0x00 // sample averaging, output data rate, measurement bias
	RegConfigB byte = 0x01 // gain, bits 7-5
	RegMode    byte = 0x02 // operating mode
	RegDataX   byte = 0x03 // X MSB, X LSB, Z MSB, Z LSB, Y MSB, Y LSB
	RegDataZ   byte = 0x05
	RegDataY   byte = 0x07
	RegStatus  byte = 0x09
	RegIDA     byte = 0x0A // identification registers, read as one sequence
	RegIDB     byte = 0x0B
	RegIDC     byte = 0x0C
)

// Expected identification bytes, ASCII "H43".
const (
	IDA byte = 0x48
	IDB byte = 0x34
	IDC byte = 0x33
)

const (
	StatusReady byte = 0x01 // RDY: all six data registers written
	StatusLock  byte = 0x02 // LOCK: data registers locked until fully read
)

// Mode selects the operating mode written to RegMode.
type Mode byte

// In continuous mode the device converts at the configured data rate and
// Update only fetches the latest values. Single mode performs one conversion
// then returns to idle.
const (
	ModeContinuous Mode = 0x00
	ModeSingle     Mode = 0x01
	ModeIdle       Mode = 0x02
)

// Averaging is the number of samples averaged per measurement (CRA bits 6-5).
type Averaging byte

const (
	Average1 Averaging = iota
	Average2
	Average4
	Average8
)

// DataRate is the continuous mode output rate (CRA bits 4-2).
type DataRate byte

const (
	Rate0p75 DataRate = iota
	Rate1p5
	Rate3
	Rate7p5
	Rate15 // power-on default
	Rate30
	Rate75
)

// Range is the full-scale measurement range. The value is the device gain
// code written to bits 7-5 of RegConfigB.
type Range byte

const (
	Range88  Range = iota // ±88 µT
	Range130              // ±130 µT, power-on default
	Range190              // ±190 µT
	Range250              // ±250 µT
	Range400              // ±400 µT
	Range470              // ±470 µT
	Range560              // ±560 µT
	Range810              // ±810 µT

	numRanges = int(Range810) + 1
)

type rangeSetting struct {
	microtesla int     // nominal full scale, ±µT
	scale      float64 // µT per LSB
}

var ranges = [numRanges]rangeSetting{
	Range88:  {88, 0.073},
	Range130: {130, 0.092},
	Range190: {190, 0.122},
	Range250: {250, 0.152},
	Range400: {400, 0.227},
	Range470: {470, 0.256},
	Range560: {560, 0.303},
	Range810: {810, 0.435},
}

// Gain returns the value written to RegConfigB for this range.
func (r Range) Gain() byte {
	return byte(r) << 5
}

// Scale returns the conversion factor in µT per LSB.
func (r Range) Scale() float64 {
	return ranges[r].scale
}

// Microtesla returns the nominal full-scale range in ±µT.
func (r Range) Microtesla() int {
	return ranges[r].microtesla
}

// RangeFor returns the range whose nominal full scale is exactly microtesla.
func RangeFor(microtesla int) (Range, bool) {
	for i, s := range ranges {
		if s.microtesla == microtesla {
			return Range(i), true
		}
	}
	return 0, false
}
