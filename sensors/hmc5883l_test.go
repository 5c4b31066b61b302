package sensors

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kidoman/embd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b3nn0/stratux-mag/internal/i2ctest"
	"github.com/b3nn0/stratux-mag/sensors/hmc5883l"
)

const testFreq = 2 * time.Millisecond

func newFakeMag(t *testing.T) (*embd.I2CBus, *i2ctest.Bus) {
	t.Helper()
	fake := i2ctest.NewBus(hmc5883l.Address)
	fake.Set(hmc5883l.RegIDA, hmc5883l.IDA, hmc5883l.IDB, hmc5883l.IDC)
	// X=100, Z=50, Y=150
	fake.Set(hmc5883l.RegDataX, 0x00, 0x64, 0x00, 0x32, 0x00, 0x96)
	var bus embd.I2CBus = fake
	return &bus, fake
}

func TestHMC5883LReadsField(t *testing.T) {
	bus, fake := newFakeMag(t)
	cal := hmc5883l.Calibration{X: 1, Y: 2, Z: 3}

	m, err := NewHMC5883L(bus, hmc5883l.Range250, cal, testFreq, nil)
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, hmc5883l.Range250.Gain(), fake.Reg(hmc5883l.RegConfigB))
	var x, y, z float64
	require.Eventually(t, func() bool {
		_, x, y, z, err = m.MagneticField()
		return err == nil
	}, time.Second, testFreq)

	scale := hmc5883l.Range250.Scale()
	assert.Equal(t, float64(100)*scale-cal.X, x)
	assert.Equal(t, float64(150)*scale-cal.Y, y)
	assert.Equal(t, float64(50)*scale-cal.Z, z)
}

func TestHMC5883LSetCalibration(t *testing.T) {
	bus, _ := newFakeMag(t)
	m, err := NewHMC5883L(bus, hmc5883l.Range130, hmc5883l.Calibration{}, testFreq, nil)
	require.NoError(t, err)
	defer m.Close()

	m.SetCalibration(hmc5883l.Calibration{X: 100})
	scale := hmc5883l.Range130.Scale()
	require.Eventually(t, func() bool {
		_, x, _, _, err := m.MagneticField()
		return err == nil && x == float64(100)*scale-100
	}, time.Second, testFreq)
}

func TestHMC5883LWrongChip(t *testing.T) {
	bus, fake := newFakeMag(t)
	fake.Set(hmc5883l.RegIDA, 0, 0, 0)

	m, err := NewHMC5883L(bus, hmc5883l.Range130, hmc5883l.Calibration{}, testFreq, nil)

	assert.Nil(t, m)
	assert.ErrorIs(t, err, hmc5883l.ErrWrongID)
	assert.Empty(t, fake.Writes())
}

func TestHMC5883LReadyGate(t *testing.T) {
	bus, fake := newFakeMag(t)
	m, err := NewHMC5883L(bus, hmc5883l.Range130, hmc5883l.Calibration{}, testFreq,
		func() bool { return false })
	require.NoError(t, err)
	defer m.Close()
	fake.Reset()

	time.Sleep(10 * testFreq)

	assert.Empty(t, fake.Reads())
	_, _, _, _, err = m.MagneticField()
	assert.ErrorIs(t, err, ErrMagNoSample)
}

func TestHMC5883LSampleTimeOnlyAdvancesOnRead(t *testing.T) {
	bus, _ := newFakeMag(t)
	var ready atomic.Bool
	ready.Store(true)
	m, err := NewHMC5883L(bus, hmc5883l.Range130, hmc5883l.Calibration{}, testFreq, ready.Load)
	require.NoError(t, err)
	defer m.Close()

	require.Eventually(t, func() bool {
		_, _, _, _, err := m.MagneticField()
		return err == nil
	}, time.Second, testFreq)
	ready.Store(false)
	time.Sleep(5 * testFreq) // let a read already in progress finish
	T1, _, _, _, err := m.MagneticField()
	require.NoError(t, err)

	time.Sleep(10 * testFreq)
	T2, _, _, _, err := m.MagneticField()
	require.NoError(t, err)
	assert.Equal(t, T1, T2)

	ready.Store(true)
	require.Eventually(t, func() bool {
		T, _, _, _, err := m.MagneticField()
		return err == nil && T > T1
	}, time.Second, testFreq)
}

func TestHMC5883LStopsAfterFailures(t *testing.T) {
	bus, fake := newFakeMag(t)
	m, err := NewHMC5883L(bus, hmc5883l.Range130, hmc5883l.Calibration{}, testFreq, nil)
	require.NoError(t, err)
	defer m.Close()

	fake.Fail(errors.New("bus: nack"))

	require.Eventually(t, func() bool {
		_, _, _, _, err := m.MagneticField()
		return errors.Is(err, ErrMagNotRunning)
	}, time.Second, testFreq)
}

func TestHMC5883LClose(t *testing.T) {
	bus, fake := newFakeMag(t)
	m, err := NewHMC5883L(bus, hmc5883l.Range130, hmc5883l.Calibration{}, testFreq, nil)
	require.NoError(t, err)

	m.Close()
	m.Close()

	assert.Equal(t, byte(hmc5883l.ModeIdle), fake.Reg(hmc5883l.RegMode))
	_, _, _, _, err = m.MagneticField()
	assert.ErrorIs(t, err, ErrMagNotRunning)
}

var _ MagReader = (*HMC5883L)(nil)
