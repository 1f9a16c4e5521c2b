package volctl

import (
	"fmt"
	"io"

	"github.com/RiedleroD/volctl/pulseaudio"
)

// feedbackStreamName is a synthetic stream the server creates for UI
// feedback sounds; it never belongs in the mixer graph.
const feedbackStreamName = "audio-volume-change"

// acceptedDrivers lists the originating drivers admitted into the graph.
// Everything else (loopback modules, monitors, combine sinks) is dropped
// at ingestion.
var acceptedDrivers = map[string]bool{
	"protocol-native.c": true,
	"PipeWire":          true,
}

// admitStream is the stream admission filter: a pure function of the
// originating driver and the reported stream name.
func admitStream(driver, name string) bool {
	if name == feedbackStreamName {
		return false
	}
	return acceptedDrivers[driver]
}

// Stream represents a playback stream owned by a client application.
// The owning device may change across updates; streams are moved between
// devices by the server.
type Stream struct {
	mixer *Mixer
	index uint32

	deviceIndex uint32
	clientIndex uint32
	channels    int
	volume      uint32
	mute        bool

	appName   string
	mediaName string
	iconName  string // from stream properties only; may be empty

	capture io.Closer
}

// Index returns the server-assigned stream index.
func (s *Stream) Index() uint32 {
	return s.index
}

// DeviceIndex returns the index of the device the stream is routed to.
func (s *Stream) DeviceIndex() uint32 {
	s.mixer.mu.RLock()
	defer s.mixer.mu.RUnlock()
	return s.deviceIndex
}

// ClientIndex returns the index of the owning client.
func (s *Stream) ClientIndex() uint32 {
	s.mixer.mu.RLock()
	defer s.mixer.mu.RUnlock()
	return s.clientIndex
}

// Channels returns the stream's channel count.
func (s *Stream) Channels() int {
	s.mixer.mu.RLock()
	defer s.mixer.mu.RUnlock()
	return s.channels
}

// Volume returns the stream's current volume level.
func (s *Stream) Volume() uint32 {
	s.mixer.mu.RLock()
	defer s.mixer.mu.RUnlock()
	return s.volume
}

// Mute reports whether the stream is muted.
func (s *Stream) Mute() bool {
	s.mixer.mu.RLock()
	defer s.mixer.mu.RUnlock()
	return s.mute
}

// Name resolves the stream's display name on every call, since the
// owning client may arrive after the stream: application + media title,
// falling back to the application name alone, then to the owning
// client's name, then to empty.
func (s *Stream) Name() string {
	s.mixer.mu.RLock()
	defer s.mixer.mu.RUnlock()

	switch {
	case s.appName != "" && s.mediaName != "":
		return fmt.Sprintf("%s: %s", s.appName, s.mediaName)
	case s.appName != "":
		return s.appName
	}
	if client := s.mixer.clients[s.clientIndex]; client != nil {
		return client.name
	}
	return ""
}

// IconName resolves the stream's icon: stream properties first, then the
// owning client's icon, then the generic default. A stale client index
// falls through to the default rather than failing.
func (s *Stream) IconName() string {
	s.mixer.mu.RLock()
	defer s.mixer.mu.RUnlock()

	if s.iconName != "" {
		return s.iconName
	}
	if client := s.mixer.clients[s.clientIndex]; client != nil && client.iconName != "" {
		return client.iconName
	}
	return defaultIconName
}

// SetVolume sets the stream volume, expanded to one equal level per
// channel. The local value is updated optimistically before dispatch.
func (s *Stream) SetVolume(volume uint32) {
	s.mixer.mu.Lock()
	s.volume = volume
	channels := s.channels
	s.mixer.mu.Unlock()

	s.mixer.conn.SetStreamVolume(s.index, expandVolume(volume, channels))
}

// SetMute sets the stream mute flag, optimistically.
func (s *Stream) SetMute(mute bool) {
	s.mixer.mu.Lock()
	s.mute = mute
	s.mixer.mu.Unlock()

	s.mixer.conn.SetStreamMute(s.index, mute)
}

// ToggleMute flips the stream's current mute state.
func (s *Stream) ToggleMute() {
	s.SetMute(!s.Mute())
}

// apply updates the stream in place. Caller holds the mixer write lock.
func (s *Stream) apply(info pulseaudio.StreamInfo) {
	s.deviceIndex = info.DeviceIndex
	s.clientIndex = info.ClientIndex
	s.channels = info.Channels
	if len(info.Volume) > 0 {
		s.volume = info.Volume[0]
	}
	s.mute = info.Mute
	s.appName = info.Props["application.name"]
	s.mediaName = info.Props["media.name"]
	s.iconName = info.Props["media.icon_name"]
	if s.iconName == "" {
		s.iconName = info.Props["application.icon_name"]
	}
}

// captureTarget reports what a peak capture for this stream records: the
// owning device's monitor source, bound as a monitor of this stream. The
// owning device must be present in the graph.
func (s *Stream) captureTarget() (source, stream uint32, err error) {
	s.mixer.mu.RLock()
	defer s.mixer.mu.RUnlock()

	device := s.mixer.devices[s.deviceIndex]
	if device == nil {
		return 0, 0, fmt.Errorf("volctl: stream %d: owning device %d not present",
			s.index, s.deviceIndex)
	}
	return device.monitorSource, s.index, nil
}

// swapCapture installs a new capture channel, returning the previous one.
func (s *Stream) swapCapture(capture io.Closer) io.Closer {
	s.mixer.mu.Lock()
	defer s.mixer.mu.Unlock()
	previous := s.capture
	s.capture = capture
	return previous
}

// peakChanged delivers a reduced peak level on the stream channel.
func (s *Stream) peakChanged(level float64) {
	s.mixer.postStreamPeak(s.index, level)
}
