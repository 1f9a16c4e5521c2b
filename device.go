package volctl

import (
	"io"

	"github.com/RiedleroD/volctl/pulseaudio"
)

// deviceIconName is the icon hint for output devices.
const deviceIconName = "audio-card"

// Device represents an audio output device. Identity is the server index
// and is preserved across updates: holders of a *Device stay valid until
// the device's removal notification arrives.
type Device struct {
	mixer *Mixer
	index uint32

	name          string // human-readable description
	deviceName    string // server-internal name, secondary lookup key
	channels      int
	volume        uint32
	mute          bool
	monitorSource uint32

	capture io.Closer
}

// Index returns the server-assigned device index.
func (d *Device) Index() uint32 {
	return d.index
}

// Name returns the device's display name.
func (d *Device) Name() string {
	d.mixer.mu.RLock()
	defer d.mixer.mu.RUnlock()
	return d.name
}

// DeviceName returns the server-internal device name.
func (d *Device) DeviceName() string {
	d.mixer.mu.RLock()
	defer d.mixer.mu.RUnlock()
	return d.deviceName
}

// Channels returns the device's channel count.
func (d *Device) Channels() int {
	d.mixer.mu.RLock()
	defer d.mixer.mu.RUnlock()
	return d.channels
}

// Volume returns the device's current volume level.
func (d *Device) Volume() uint32 {
	d.mixer.mu.RLock()
	defer d.mixer.mu.RUnlock()
	return d.volume
}

// Mute reports whether the device is muted.
func (d *Device) Mute() bool {
	d.mixer.mu.RLock()
	defer d.mixer.mu.RUnlock()
	return d.mute
}

// IconName returns the device's icon hint.
func (d *Device) IconName() string {
	return deviceIconName
}

// SetVolume sets the device volume, expanded to one equal level per
// channel. The local value is updated optimistically before dispatch.
func (d *Device) SetVolume(volume uint32) {
	d.mixer.mu.Lock()
	d.volume = volume
	channels := d.channels
	d.mixer.mu.Unlock()

	d.mixer.conn.SetDeviceVolume(d.index, expandVolume(volume, channels))
}

// SetMute sets the device mute flag, optimistically.
func (d *Device) SetMute(mute bool) {
	d.mixer.mu.Lock()
	d.mute = mute
	d.mixer.mu.Unlock()

	d.mixer.conn.SetDeviceMute(d.index, mute)
}

// ToggleMute flips the device's current mute state.
func (d *Device) ToggleMute() {
	d.SetMute(!d.Mute())
}

// apply updates the device in place. Caller holds the mixer write lock.
func (d *Device) apply(info pulseaudio.DeviceInfo) {
	d.name = info.Description
	d.deviceName = info.Name
	d.channels = info.Channels
	if len(info.Volume) > 0 {
		d.volume = info.Volume[0]
	}
	d.mute = info.Mute
	d.monitorSource = info.MonitorSource
}

// captureTarget reports what a peak capture for this device records:
// the device's own monitor source, bound to no particular stream.
func (d *Device) captureTarget() (source, stream uint32, err error) {
	d.mixer.mu.RLock()
	defer d.mixer.mu.RUnlock()
	return d.monitorSource, pulseaudio.NoStream, nil
}

// swapCapture installs a new capture channel, returning the previous one.
func (d *Device) swapCapture(capture io.Closer) io.Closer {
	d.mixer.mu.Lock()
	defer d.mixer.mu.Unlock()
	previous := d.capture
	d.capture = capture
	return previous
}

// peakChanged delivers a reduced peak level on the device channel.
func (d *Device) peakChanged(level float64) {
	d.mixer.postDevicePeak(d.index, level)
}
