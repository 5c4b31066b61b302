package sensors

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/b3nn0/stratux-mag/sensors/hmc5883l"
	"github.com/kidoman/embd"
)

const (
	numRetries   = 5 // consecutive read failures before the poller gives up
	magInitTries = 5
)

var (
	ErrMagNotRunning = errors.New("HMC5883L Error: HMC5883L is not running")
	ErrMagNoSample   = errors.New("HMC5883L Error: no sample read yet")
)

// HMC5883L represents a Honeywell HMC5883L attached to the I2C bus and
// satisfies the MagReader interface. The driver is only touched from the
// polling goroutine or under mu.
type HMC5883L struct {
	sensor  *hmc5883l.HMC5883L
	ready   func() bool
	mu      sync.Mutex
	x, y, z float64
	t       time.Time // time of the latest sample, zero before the first
	magErr  error
	running bool
	quit    chan struct{}
	done    chan struct{}
	stop    sync.Once
}

// NewHMC5883L initializes the HMC5883L on i2cbus and begins reading it every
// freq. If ready is not nil a tick is skipped unless ready returns true, which
// lets the caller gate reads on the DRDY line.
func NewHMC5883L(i2cbus *embd.I2CBus, rng hmc5883l.Range, cal hmc5883l.Calibration,
	freq time.Duration, ready func() bool) (*HMC5883L, error) {
	log.Println("Mag Info: Making new HMC5883L")
	mag := hmc5883l.New(i2cbus)

	// retry to connect until sensor connected
	var err error
	for n := 0; n < magInitTries; n++ {
		if err = mag.Init(); err == nil {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if err != nil {
		return nil, err
	}
	if err = mag.SetRange(rng); err != nil {
		return nil, err
	}
	mag.SetCalibration(cal)
	log.Printf("Mag Info: HMC5883L range ±%d µT, %.3f µT/LSB\n", rng.Microtesla(), mag.Scale())

	m := &HMC5883L{
		sensor:  mag,
		ready:   ready,
		running: true,
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go m.run(freq)
	return m, nil
}

func (m *HMC5883L) run(freq time.Duration) {
	defer close(m.done)
	clock := time.NewTicker(freq)
	defer clock.Stop()

	var failnum uint8
	for {
		select {
		case <-m.quit:
			return
		case <-clock.C:
		}
		if m.ready != nil && !m.ready() {
			continue
		}

		m.mu.Lock()
		x, y, z, err := m.sensor.Read()
		if err != nil {
			m.magErr = err
			failnum++
			if failnum > numRetries {
				log.Printf("Mag Error: Couldn't read HMC5883L %d times, stopping: %s\n", failnum, err)
				m.running = false
				m.mu.Unlock()
				return
			}
		} else {
			failnum = 0
			m.x, m.y, m.z = x, y, z
			m.t = time.Now()
			m.magErr = nil
		}
		m.mu.Unlock()
	}
}

// MagneticField returns the time of the most recent sample, its calibrated
// field in µT and the error of the most recent read attempt.
func (m *HMC5883L) MagneticField() (T int64, x, y, z float64, magError error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return 0, 0, 0, 0, ErrMagNotRunning
	}
	if m.t.IsZero() {
		if m.magErr != nil {
			return 0, 0, 0, 0, m.magErr
		}
		return 0, 0, 0, 0, ErrMagNoSample
	}
	return m.t.UnixNano(), m.x, m.y, m.z, m.magErr
}

func (m *HMC5883L) SetCalibration(cal hmc5883l.Calibration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sensor.SetCalibration(cal)
}

// SetRange changes the full-scale range. Samples already taken keep the
// scale they were converted with.
func (m *HMC5883L) SetRange(r hmc5883l.Range) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sensor.SetRange(r)
}

// Close stops the measurements and puts the HMC5883L in idle mode.
func (m *HMC5883L) Close() {
	m.stop.Do(func() { close(m.quit) })
	<-m.done

	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	_ = m.sensor.SetMode(hmc5883l.ModeIdle)
}
