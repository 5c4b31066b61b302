/*
	Copyright (c) 2015-2016 Christopher Young
	Distributable under the terms of The "BSD New" License
	that can be found in the LICENSE file, herein included
	as part of this header.

	magmon.go: HMC5883L magnetometer monitor daemon. Exports the calibrated
	field over HTTP and Prometheus and optionally logs it to sqlite.

*/

package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/kidoman/embd"
	_ "github.com/kidoman/embd/host/all"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stianeikeland/go-rpio/v4"
	"github.com/takama/daemon"

	"github.com/b3nn0/stratux-mag/common"
	"github.com/b3nn0/stratux-mag/datalog"
	"github.com/b3nn0/stratux-mag/sensors"
)

// Initialize Prometheus metrics.
var (
	magField = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mag_field_microtesla",
			Help: "Calibrated magnetic field per axis, µT.",
		},
		[]string{"axis"},
	)

	magConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mag_connected",
		Help: "1 while the magnetometer is being read.",
	})

	totalSamples = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mag_samples_total",
		Help: "Samples read from the magnetometer.",
	})

	totalReadErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mag_read_errors_total",
		Help: "Failed magnetometer reads.",
	})
)

const (
	defaultConfigLocation = "/boot/stratux-mag.conf"

	// how often to retry a lost sensor
	reconnectInterval = 4 * time.Second

	// name of the service
	name        = "magmon"
	description = "HMC5883L magnetometer monitor"
)

// MagStatus is served as JSON on /.
type MagStatus struct {
	Connected       bool
	Range           int
	X, Y, Z         float64
	Samples         uint64
	SamplesHuman    string
	LastSample      time.Time
	LastSampleHuman string
	LastError       string
}

type readerFunc func(s common.Settings) (sensors.MagReader, error)

type magMonitor struct {
	mu        sync.Mutex
	settings  common.Settings
	status    MagStatus
	reader    sensors.MagReader
	newReader readerFunc
	dataLog   *datalog.Log
	lastTry   time.Time
	lastT     int64 // sample time already recorded
}

var stdlog, errlog *log.Logger

// connect tries to bring up the sensor, at most once per reconnectInterval.
func (m *magMonitor) connect(now time.Time) bool {
	if m.reader != nil {
		return true
	}
	if now.Sub(m.lastTry) < reconnectInterval {
		return false
	}
	m.lastTry = now

	log.Println("Mag Info: attempting magnetometer connection.")
	r, err := m.newReader(m.settings)
	if err != nil {
		log.Printf("Mag Error: couldn't initialize HMC5883L: %s\n", err)
		m.status.LastError = err.Error()
		return false
	}
	log.Println("Mag Info: Successfully initialized HMC5883L")
	m.reader = r
	m.status.Connected = true
	magConnected.Set(1)
	return true
}

// poll runs one step of the monitor loop.
func (m *magMonitor) poll(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connect(now) {
		return
	}

	T, x, y, z, err := m.reader.MagneticField()
	if errors.Is(err, sensors.ErrMagNoSample) {
		return
	}
	if err != nil {
		totalReadErrors.Inc()
		m.status.LastError = err.Error()
		if errors.Is(err, sensors.ErrMagNotRunning) {
			log.Printf("Mag Error: magnetometer stopped, reconnecting later: %s\n", err)
			m.reader.Close()
			m.reader = nil
			m.status.Connected = false
			magConnected.Set(0)
		}
		return
	}
	if T == m.lastT {
		return
	}
	m.lastT = T
	sampleTime := time.Unix(0, T)

	m.status.X, m.status.Y, m.status.Z = x, y, z
	m.status.Samples++
	m.status.LastSample = sampleTime
	totalSamples.Inc()
	magField.With(prometheus.Labels{"axis": "x"}).Set(x)
	magField.With(prometheus.Labels{"axis": "y"}).Set(y)
	magField.With(prometheus.Labels{"axis": "z"}).Set(z)

	if m.dataLog != nil {
		if err := m.dataLog.Insert(datalog.Sample{T: sampleTime, X: x, Y: y, Z: z}); err != nil {
			log.Printf("Mag Error: datalog insert: %s\n", err)
		}
	}
}

// applySettings switches to new settings, pushing range and calibration to a
// running sensor. If the range can't be programmed the previous range stays
// in the settings and the status.
func (m *magMonitor) applySettings(s common.Settings) error {
	r, err := s.MagRange()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reader != nil {
		m.reader.SetCalibration(s.Calibration())
		if err = m.reader.SetRange(r); err != nil {
			s.Range = m.settings.Range
			m.settings = s
			return err
		}
	}
	m.settings = s
	m.status.Range = s.Range
	return nil
}

func (m *magMonitor) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reader != nil {
		m.reader.Close()
		m.reader = nil
	}
	if m.dataLog != nil {
		m.dataLog.Close()
		m.dataLog = nil
	}
}

func (m *magMonitor) run(quit <-chan struct{}) {
	m.mu.Lock()
	interval := m.settings.PollInterval()
	m.mu.Unlock()

	timer := time.NewTicker(interval)
	defer timer.Stop()
	for {
		select {
		case <-quit:
			return
		case now := <-timer.C:
			m.poll(now)
		}
	}
}

func (m *magMonitor) handleStatusRequest(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	status := m.status
	m.mu.Unlock()

	status.SamplesHuman = humanize.Comma(int64(status.Samples))
	if status.LastSample.IsZero() {
		status.LastSampleHuman = "never"
	} else {
		status.LastSampleHuman = humanize.Time(status.LastSample)
	}
	statusJSON, _ := json.Marshal(&status)
	w.Header().Set("Content-Type", "application/json")
	w.Write(statusJSON)
}

// newHMC5883LReader opens the I2C bus and, when a DRDY pin is configured,
// gates reads on its falling edge.
func newHMC5883LReader(s common.Settings) (sensors.MagReader, error) {
	rng, err := s.MagRange()
	if err != nil {
		return nil, err
	}
	var ready func() bool
	if s.DRDYPin > 0 {
		if ready, err = drdyReady(s.DRDYPin); err != nil {
			return nil, err
		}
	}
	i2cbus := embd.NewI2CBus(s.I2CBus)
	mag, err := sensors.NewHMC5883L(&i2cbus, rng, s.Calibration(), s.PollInterval()/2, ready)
	if err != nil {
		i2cbus.Close()
		return nil, err
	}
	return mag, nil
}

var rpioOnce sync.Once
var rpioErr error

// drdyReady watches the DRDY pin, which pulses low for 250 µs whenever new
// data is placed in the output registers.
func drdyReady(bcm int) (func() bool, error) {
	if !common.IsRunningAsRoot() {
		log.Println("Mag Info: not running as root, GPIO access may fail")
	}
	rpioOnce.Do(func() { rpioErr = rpio.Open() })
	if rpioErr != nil {
		return nil, fmt.Errorf("open GPIO for DRDY pin %d: %w", bcm, rpioErr)
	}
	pin := rpio.Pin(bcm)
	pin.Input()
	pin.PullUp()
	pin.Detect(rpio.FallEdge)
	return pin.EdgeDetected, nil
}

// Service has embedded daemon
type Service struct {
	daemon.Daemon
}

// Manage by daemon commands or run the daemon
func (service *Service) Manage() (string, error) {
	defaults := common.DefaultSettings()
	configLocation := flag.String("config", defaultConfigLocation, "JSON settings file")
	i2cBus := flag.Int("bus", int(defaults.I2CBus), "I2C bus number")
	magRange := flag.Int("range", defaults.Range, "Full-scale range, ±µT")
	pollMS := flag.Int("poll", defaults.PollMS, "Read interval, ms")
	drdyPin := flag.Int("drdy", 0, "DRDY pin (BCM numbering), 0 to disable")
	dbPath := flag.String("db", "", "sqlite sample log")
	listenAddr := flag.String("addr", defaults.ListenAddr, "HTTP listen address")
	flag.StringVar(&logDir, "logdir", "/var/log", "Directory for "+debugLogFile)
	flag.Parse()

	usage := "Usage: " + name + " install | remove | start | stop | status"
	// if received any kind of command, do it
	if flag.NArg() > 0 {
		command := flag.Arg(0)
		switch command {
		case "install":
			return service.Install()
		case "remove":
			return service.Remove()
		case "start":
			return service.Start()
		case "stop":
			return service.Stop()
		case "status":
			return service.Status()
		default:
			return usage, nil
		}
	}

	initLogging()

	settings := common.Settings{
		I2CBus:     byte(*i2cBus),
		Range:      *magRange,
		PollMS:     *pollMS,
		DataLog:    *dbPath,
		DRDYPin:    *drdyPin,
		ListenAddr: *listenAddr,
	}
	if err := common.ReadSettings(*configLocation, &settings); err != nil {
		log.Printf("can't read settings %s: %s\n", *configLocation, err.Error())
	} else {
		log.Printf("read in settings.\n")
	}

	mon := &magMonitor{newReader: newHMC5883LReader}
	if err := mon.applySettings(settings); err != nil {
		return "Invalid settings", err
	}
	if settings.DataLog != "" {
		l, err := datalog.Open(settings.DataLog)
		if err != nil {
			return "Can't open datalog", err
		}
		mon.dataLog = l
	}
	defer mon.close()

	prometheus.MustRegister(magField)
	prometheus.MustRegister(magConnected)
	prometheus.MustRegister(totalSamples)
	prometheus.MustRegister(totalReadErrors)

	quit := make(chan struct{})
	defer close(quit)
	go mon.run(quit)

	// Set up channel on which to send signal notifications.
	// We must use a buffered channel or risk missing the signal
	// if we're not ready to receive when the signal is sent.
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	http.HandleFunc("/", mon.handleStatusRequest)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(settings.ListenAddr, nil); err != nil {
			log.Printf("Mag Error: ListenAndServe: %s\n", err)
		}
	}()

	// interrupt by system signal
	for {
		killSignal := <-interrupt
		log.Println("Got signal:", killSignal)
		if killSignal == syscall.SIGINT {
			return "Daemon was interrupted by system signal", nil
		} else if killSignal == syscall.SIGUSR1 {
			mon.mu.Lock()
			newSettings := mon.settings
			mon.mu.Unlock()
			if err := common.ReadSettings(*configLocation, &newSettings); err != nil {
				log.Printf("can't read settings %s: %s\n", *configLocation, err.Error())
				continue
			}
			if err := mon.applySettings(newSettings); err != nil {
				log.Printf("Mag Error: can't apply settings: %s\n", err)
			}
		} else {
			return "Daemon was killed", nil
		}
	}
}

func init() {
	stdlog = log.New(os.Stdout, "", 0)
	errlog = log.New(os.Stderr, "", 0)
}

func main() {
	srv, err := daemon.New(name, description, daemon.SystemDaemon)
	if err != nil {
		errlog.Println("Error: ", err)
		os.Exit(1)
	}
	service := &Service{srv}
	status, err := service.Manage()
	if err != nil {
		errlog.Println(status, "\nError: ", err)
		os.Exit(1)
	}
	stdlog.Println(status)
}
