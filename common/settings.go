package common

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/b3nn0/stratux-mag/sensors/hmc5883l"
)

// Settings is the magnetometer configuration kept in the JSON config file.
type Settings struct {
	I2CBus     byte    // I2C bus number, 1 on a Raspberry Pi
	Range      int     // full-scale range, ±µT (88, 130, 190, 250, 400, 470, 560, 810)
	XCal       float64 // calibration offsets, µT
	YCal       float64
	ZCal       float64
	PollMS     int    // read interval
	DataLog    string // sqlite sample log, empty to disable
	DRDYPin    int    // BCM pin wired to DRDY, 0 to poll without it
	ListenAddr string
}

func DefaultSettings() Settings {
	return Settings{
		I2CBus:     1,
		Range:      130,
		PollMS:     100,
		ListenAddr: ":9978",
	}
}

// ReadSettings decodes the JSON file at path over s, so fields missing from
// the file keep their current value.
func ReadSettings(path string, s *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	newSettings := *s
	if err = json.Unmarshal(buf, &newSettings); err != nil {
		return err
	}
	if _, err = newSettings.MagRange(); err != nil {
		return err
	}
	*s = newSettings
	return nil
}

func SaveSettings(path string, s Settings) error {
	jsonSettings, err := json.MarshalIndent(&s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, jsonSettings, 0644)
}

// MagRange maps the configured ±µT value to a driver range.
func (s Settings) MagRange() (hmc5883l.Range, error) {
	r, ok := hmc5883l.RangeFor(s.Range)
	if !ok {
		return 0, fmt.Errorf("invalid magnetometer range ±%d µT", s.Range)
	}
	return r, nil
}

func (s Settings) Calibration() hmc5883l.Calibration {
	return hmc5883l.Calibration{X: s.XCal, Y: s.YCal, Z: s.ZCal}
}

func (s Settings) PollInterval() time.Duration {
	if s.PollMS <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(s.PollMS) * time.Millisecond
}
