package volctl

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Monitorable is the shared capability of devices and streams that can
// have a peak capture channel attached. The two implementations differ
// only in the capture binding: a device records its own monitor source,
// a stream records the owning device's monitor source bound as a monitor
// of that stream.
type Monitorable interface {
	// Index returns the entity's server-assigned index.
	Index() uint32

	captureTarget() (source, stream uint32, err error)
	swapCapture(io.Closer) io.Closer
	peakChanged(level float64)
}

// StartMonitor opens a peak capture channel for the entity. At most one
// channel is open per entity: an active one is disconnected before the
// replacement is opened. Levels arrive via the OnDevicePeak or
// OnStreamPeak callback keyed by the entity's index.
func (m *Mixer) StartMonitor(target Monitorable) error {
	m.StopMonitor(target)

	source, stream, err := target.captureTarget()
	if err != nil {
		return err
	}
	capture, err := m.conn.OpenCapture(source, stream, func(block []byte) {
		target.peakChanged(peakLevel(block))
	})
	if err != nil {
		return err
	}

	if previous := target.swapCapture(capture); previous != nil {
		// Lost a race with a concurrent StartMonitor for the same entity.
		previous.Close()
	}
	logrus.WithField("index", target.Index()).Debug("Peak monitor started")
	return nil
}

// StopMonitor closes the entity's capture channel, if any. Idempotent.
func (m *Mixer) StopMonitor(target Monitorable) {
	if capture := target.swapCapture(nil); capture != nil {
		capture.Close()
		logrus.WithField("index", target.Index()).Debug("Peak monitor stopped")
	}
}

// peakLevel reduces a block of unsigned 8-bit samples to one loudness
// value in [0,1]: the mean absolute deviation from the silence point 128,
// scaled by the format's half-range. The 128.0 divisor matches the
// server-side sample domain even though the maximum deviation is 127.
func peakLevel(block []byte) float64 {
	if len(block) == 0 {
		return 0
	}
	var sum float64
	for _, sample := range block {
		deviation := float64(sample) - 128
		if deviation < 0 {
			deviation = -deviation
		}
		sum += deviation
	}
	return sum / float64(len(block)) / 128.0
}
