package main

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b3nn0/stratux-mag/common"
	"github.com/b3nn0/stratux-mag/datalog"
	"github.com/b3nn0/stratux-mag/sensors"
	"github.com/b3nn0/stratux-mag/sensors/hmc5883l"
)

type fakeReader struct {
	T        int64
	x, y, z  float64
	err      error
	cal      hmc5883l.Calibration
	rng      hmc5883l.Range
	rangeErr error
	closed   bool
}

func (f *fakeReader) MagneticField() (int64, float64, float64, float64, error) {
	return f.T, f.x, f.y, f.z, f.err
}
func (f *fakeReader) SetCalibration(cal hmc5883l.Calibration) { f.cal = cal }
func (f *fakeReader) Close()                                 { f.closed = true }

func (f *fakeReader) SetRange(r hmc5883l.Range) error {
	if f.rangeErr != nil {
		return f.rangeErr
	}
	f.rng = r
	return nil
}

func newTestMonitor(t *testing.T, readers ...sensors.MagReader) (*magMonitor, *int) {
	t.Helper()
	calls := 0
	m := &magMonitor{newReader: func(common.Settings) (sensors.MagReader, error) {
		calls++
		if len(readers) == 0 {
			return nil, errors.New("no sensor")
		}
		r := readers[0]
		readers = readers[1:]
		return r, nil
	}}
	require.NoError(t, m.applySettings(common.DefaultSettings()))
	return m, &calls
}

func TestPollRecordsSample(t *testing.T) {
	sampled := time.Unix(1700000000, 5000)
	f := &fakeReader{T: sampled.UnixNano(), x: 1.5, y: -2.5, z: 40}
	m, _ := newTestMonitor(t, f)
	l, err := datalog.Open(filepath.Join(t.TempDir(), "mag.db"))
	require.NoError(t, err)
	m.dataLog = l
	defer m.close()

	now := time.Now()
	m.poll(now)

	assert.True(t, m.status.Connected)
	assert.Equal(t, uint64(1), m.status.Samples)
	assert.Equal(t, 1.5, m.status.X)
	assert.Equal(t, -2.5, m.status.Y)
	assert.Equal(t, 40.0, m.status.Z)
	assert.True(t, m.status.LastSample.Equal(sampled))

	samples, err := l.Samples(0)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 40.0, samples[0].Z)
	assert.True(t, samples[0].T.Equal(sampled))
}

func TestPollSkipsRecordedSample(t *testing.T) {
	f := &fakeReader{T: 1000, x: 1}
	m, _ := newTestMonitor(t, f)
	l, err := datalog.Open(filepath.Join(t.TempDir(), "mag.db"))
	require.NoError(t, err)
	m.dataLog = l
	defer m.close()
	t0 := time.Now()

	m.poll(t0)
	m.poll(t0.Add(100 * time.Millisecond))
	m.poll(t0.Add(200 * time.Millisecond))
	assert.Equal(t, uint64(1), m.status.Samples)

	f.T, f.x = 2000, 2
	m.poll(t0.Add(300 * time.Millisecond))

	assert.Equal(t, uint64(2), m.status.Samples)
	assert.Equal(t, 2.0, m.status.X)
	n, err := l.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestPollNoSampleYet(t *testing.T) {
	f := &fakeReader{err: sensors.ErrMagNoSample}
	m, _ := newTestMonitor(t, f)

	m.poll(time.Now())

	assert.True(t, m.status.Connected)
	assert.Zero(t, m.status.Samples)
	assert.Empty(t, m.status.LastError)
}

func TestPollReconnectsAfterStop(t *testing.T) {
	first := &fakeReader{err: sensors.ErrMagNotRunning}
	second := &fakeReader{T: 1, x: 3}
	m, calls := newTestMonitor(t, first, second)
	t0 := time.Now()

	m.poll(t0)
	assert.True(t, first.closed)
	assert.False(t, m.status.Connected)
	assert.Equal(t, sensors.ErrMagNotRunning.Error(), m.status.LastError)

	m.poll(t0.Add(time.Second))
	assert.Equal(t, 1, *calls)

	m.poll(t0.Add(reconnectInterval))
	assert.Equal(t, 2, *calls)
	assert.True(t, m.status.Connected)
	assert.Equal(t, 3.0, m.status.X)
}

func TestPollConnectFailure(t *testing.T) {
	m, calls := newTestMonitor(t)
	t0 := time.Now()

	m.poll(t0)
	m.poll(t0.Add(time.Millisecond))

	assert.Equal(t, 1, *calls)
	assert.False(t, m.status.Connected)
	assert.Equal(t, "no sensor", m.status.LastError)
}

func TestApplySettings(t *testing.T) {
	f := &fakeReader{T: 1}
	m, _ := newTestMonitor(t, f)
	m.poll(time.Now())

	s := common.DefaultSettings()
	s.Range = 560
	s.XCal = 2
	s.ZCal = -1
	require.NoError(t, m.applySettings(s))

	assert.Equal(t, hmc5883l.Range560, f.rng)
	assert.Equal(t, hmc5883l.Calibration{X: 2, Z: -1}, f.cal)
	assert.Equal(t, 560, m.status.Range)

	s.Range = 1000
	assert.Error(t, m.applySettings(s))
	assert.Equal(t, 560, m.settings.Range)
}

func TestApplySettingsRangeWriteFails(t *testing.T) {
	f := &fakeReader{T: 1, rangeErr: errors.New("bus: nack")}
	m, _ := newTestMonitor(t, f)
	m.poll(time.Now())

	s := common.DefaultSettings()
	s.Range = 810
	s.YCal = 4

	assert.Same(t, f.rangeErr, m.applySettings(s))
	assert.Equal(t, 130, m.status.Range)
	assert.Equal(t, 130, m.settings.Range)
	assert.Equal(t, 4.0, m.settings.YCal)
	assert.Equal(t, hmc5883l.Calibration{Y: 4}, f.cal)
}

func TestHandleStatusRequest(t *testing.T) {
	m, _ := newTestMonitor(t)
	m.status.Samples = 1234
	m.status.X = 12.25

	rec := httptest.NewRecorder()
	m.handleStatusRequest(rec, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var got MagStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "1,234", got.SamplesHuman)
	assert.Equal(t, "never", got.LastSampleHuman)
	assert.Equal(t, 12.25, got.X)
	assert.Equal(t, 130, got.Range)
}
