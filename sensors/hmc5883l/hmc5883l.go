package hmc5883l

import (
	"encoding/binary"
	"errors"

	"github.com/kidoman/embd"
)

var (
	ErrWrongID        = errors.New("hmc5883l: identification registers do not match, wrong chip or not connected")
	ErrNotInitialized = errors.New("hmc5883l: sensor not initialized, call Init first")
)

// Calibration holds per-axis offsets in µT, subtracted after scaling.
type Calibration struct {
	X float64
	Y float64
	Z float64
}

type freshness byte

const (
	stale freshness = iota // consumed, or never read
	fresh                  // written by Update and not yet read
)

type axisIndex int

const (
	axisX axisIndex = iota
	axisY
	axisZ
)

type axis struct {
	reg   byte
	raw   int16
	state freshness
}

// HMC5883L wraps the I2C bus and the sampling state of one HMC5883L.
// The bus is borrowed: the driver never closes it. An HMC5883L is not safe
// for concurrent use.
type HMC5883L struct {
	Bus         *embd.I2CBus
	rng         Range
	scale       float64
	axes        [3]axis
	cal         Calibration
	initialized bool
}

// New binds a driver to an already opened bus. Nothing is sent to the device
// until Init is called.
func New(bus *embd.I2CBus) *HMC5883L {
	return &HMC5883L{
		Bus: bus,
		axes: [3]axis{
			axisX: {reg: RegDataX},
			axisY: {reg: RegDataY},
			axisZ: {reg: RegDataZ},
		},
	}
}

// Init checks the identification registers, selects the ±130 µT range and
// puts the device in continuous conversion mode. ErrWrongID is returned,
// with nothing written, if the identification does not match. Bus errors
// are returned unchanged.
func (d *HMC5883L) Init() error {
	d.initialized = false
	for i := range d.axes {
		d.axes[i].state = stale
	}

	id, err := d.ID()
	if err != nil {
		return err
	}
	if id != [3]byte{IDA, IDB, IDC} {
		return ErrWrongID
	}

	if err = d.SetRange(Range130); err != nil {
		return err
	}
	if err = d.SetMode(ModeContinuous); err != nil {
		return err
	}

	d.initialized = true
	return nil
}

// ID returns the three identification bytes, expected 'H','4','3'.
func (d *HMC5883L) ID() (id [3]byte, err error) {
	err = d.readRegister(RegIDA, id[:])
	return
}

// Connected returns true if i2c comm was good and the identification matches.
func (d *HMC5883L) Connected() bool {
	id, err := d.ID()
	return err == nil && id == [3]byte{IDA, IDB, IDC}
}

// SetRange programs the gain register. The new scale applies to all axes
// from the next conversion on.
func (d *HMC5883L) SetRange(r Range) error {
	scale := r.Scale()
	if err := d.writeRegister(RegConfigB, r.Gain()); err != nil {
		return err
	}
	d.rng = r
	d.scale = scale
	return nil
}

func (d *HMC5883L) Range() Range {
	return d.rng
}

// Scale returns the active conversion factor in µT per LSB.
func (d *HMC5883L) Scale() float64 {
	return d.scale
}

// SetSampling writes configuration register A with normal measurement bias.
func (d *HMC5883L) SetSampling(avg Averaging, rate DataRate) error {
	return d.writeRegister(RegConfigA, byte(avg&0x03)<<5|byte(rate&0x07)<<2)
}

func (d *HMC5883L) SetMode(mode Mode) error {
	return d.writeRegister(RegMode, byte(mode))
}

// Status is the content of the status register.
type Status byte

func (s Status) Ready() bool  { return byte(s)&StatusReady != 0 }
func (s Status) Locked() bool { return byte(s)&StatusLock != 0 }

func (d *HMC5883L) Status() (Status, error) {
	var b [1]byte
	if err := d.readRegister(RegStatus, b[:]); err != nil {
		return 0, err
	}
	return Status(b[0]), nil
}

// SetCalibration replaces the per-axis offsets. The driver never changes them.
func (d *HMC5883L) SetCalibration(cal Calibration) {
	d.cal = cal
}

func (d *HMC5883L) Calibration() Calibration {
	return d.cal
}

// Update fetches all three axes with a single burst read and marks them
// fresh. The device stores the axes in X, Z, Y order.
func (d *HMC5883L) Update() error {
	if !d.initialized {
		return ErrNotInitialized
	}

	var buf [6]byte
	if err := d.readRegister(RegDataX, buf[:]); err != nil {
		return err
	}
	d.axes[axisX].raw = int16(binary.BigEndian.Uint16(buf[0:2]))
	d.axes[axisZ].raw = int16(binary.BigEndian.Uint16(buf[2:4]))
	d.axes[axisY].raw = int16(binary.BigEndian.Uint16(buf[4:6]))
	for i := range d.axes {
		d.axes[i].state = fresh
	}
	return nil
}

// X returns the calibrated X field in µT. A value fetched by Update is used
// once; otherwise the axis is read directly from the device.
func (d *HMC5883L) X() (float64, error) {
	return d.axisValue(axisX)
}

// Y returns the calibrated Y field in µT, see X.
func (d *HMC5883L) Y() (float64, error) {
	return d.axisValue(axisY)
}

// Z returns the calibrated Z field in µT, see X.
func (d *HMC5883L) Z() (float64, error) {
	return d.axisValue(axisZ)
}

// Read performs one Update and returns all three calibrated axes.
func (d *HMC5883L) Read() (x, y, z float64, err error) {
	if err = d.Update(); err != nil {
		return
	}
	if x, err = d.X(); err != nil {
		return
	}
	if y, err = d.Y(); err != nil {
		return
	}
	z, err = d.Z()
	return
}

func (d *HMC5883L) axisValue(i axisIndex) (float64, error) {
	if !d.initialized {
		return 0, ErrNotInitialized
	}

	a := &d.axes[i]
	raw := a.raw
	if a.state == fresh {
		a.state = stale
	} else {
		var buf [2]byte
		if err := d.readRegister(a.reg, buf[:]); err != nil {
			return 0, err
		}
		raw = int16(binary.BigEndian.Uint16(buf[:]))
	}
	return float64(raw)*d.scale - d.offset(i), nil
}

func (d *HMC5883L) offset(i axisIndex) float64 {
	switch i {
	case axisX:
		return d.cal.X
	case axisY:
		return d.cal.Y
	}
	return d.cal.Z
}

func (d *HMC5883L) readRegister(register byte, data []byte) error {
	return (*d.Bus).ReadFromReg(Address, register, data)
}

func (d *HMC5883L) writeRegister(register byte, data byte) error {
	return (*d.Bus).WriteToReg(Address, register, []byte{data})
}
