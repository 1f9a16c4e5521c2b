package volctl

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/RiedleroD/volctl/pulseaudio"
)

// VolumeNorm is the raw volume value corresponding to 100%.
const VolumeNorm = pulseaudio.VolumeNorm

var (
	// ErrNoDevices is returned when the graph holds no output devices.
	ErrNoDevices = errors.New("volctl: no output devices")

	// ErrMainDeviceMissing is returned when the server named a default
	// device but no live device carries that name. This is a loud
	// failure: there is no device to read or write the main volume
	// against, and silently picking another one would mislead the UI.
	ErrMainDeviceMissing = errors.New("volctl: default device not present")
)

// AudioConn is the connection surface the mixer consumes: fire-and-forget
// mutations plus capture-channel setup. *pulseaudio.Conn satisfies it via
// NewMixer; tests substitute fakes.
type AudioConn interface {
	SetDeviceVolume(index uint32, levels []uint32)
	SetDeviceMute(index uint32, mute bool)
	SetStreamVolume(index uint32, levels []uint32)
	SetStreamMute(index uint32, mute bool)
	OpenCapture(sourceIndex, streamIndex uint32, read pulseaudio.SampleFunc) (io.Closer, error)
}

// Options configures a Mixer.
type Options struct {
	// Dispatch marshals a closure onto the presentation thread. All
	// registered callbacks are invoked through it. Nil selects an
	// internal serial queue.
	Dispatch func(func())

	// Fatal is invoked when the connection reaches the failed state,
	// from which no degraded mode exists. The default exits the process
	// non-zero via logrus.
	Fatal func(msg string)
}

// NewOptions creates Options with default values.
func NewOptions() *Options {
	return &Options{}
}

// Mixer owns the authoritative in-memory mirror of the server's mixing
// graph and is its single writer: all mutation happens on the
// connection's background event goroutine. Presentation callbacks are
// never called synchronously from that goroutine; they are posted
// through the dispatch function.
type Mixer struct {
	conn AudioConn
	opts *Options

	mu            sync.RWMutex
	devices       map[uint32]*Device
	devicesByName map[string]*Device
	deviceOrder   []uint32 // stable insertion order, first-seen main fallback
	streams       map[uint32]*Stream
	clients       map[uint32]*Client
	defaultDevice string // marker from server info; "" until it arrives

	dispatch func(func())
	queue    *dispatcher

	cbMu               sync.RWMutex
	countChanged       func()
	mainValuesChanged  func(volume uint32, mute bool)
	deviceScaleChanged func(index, volume uint32, mute bool)
	streamScaleChanged func(index, volume uint32, mute bool)
	devicePeak         func(index uint32, level float64)
	streamPeak         func(index uint32, level float64)
}

// eventSource is the connection surface the mixer wires itself to:
// handler registration plus the initial-state request.
type eventSource interface {
	RegisterDeviceHandler(pulseaudio.DeviceHandler)
	RegisterStreamHandler(pulseaudio.StreamHandler)
	RegisterClientHandler(pulseaudio.ClientHandler)
	RegisterServerHandler(pulseaudio.ServerHandler)
	RegisterRemovalHandler(pulseaudio.RemovalHandler)
	RegisterStateHandler(pulseaudio.StateHandler)
	RequestUpdate()
}

// NewMixer creates a Mixer wired to a connected pulseaudio.Conn: the
// connection's upsert, removal, server-info and state handlers feed the
// mixer's reconciliation paths, and the initial full-state request is
// issued once they are all in place.
func NewMixer(conn *pulseaudio.Conn, opts *Options) *Mixer {
	m := newMixer(paConn{conn}, opts)
	m.wire(conn)
	return m
}

// wire registers every reconciliation handler before requesting the
// enumeration, so no response from the burst can hit an unregistered
// handler and be lost.
func (m *Mixer) wire(source eventSource) {
	source.RegisterDeviceHandler(m.handleDevice)
	source.RegisterStreamHandler(m.handleStream)
	source.RegisterClientHandler(m.handleClient)
	source.RegisterServerHandler(m.handleServerInfo)
	source.RegisterRemovalHandler(m.handleRemoval)
	source.RegisterStateHandler(m.handleState)
	source.RequestUpdate()
}

// newMixer assembles a Mixer around any AudioConn without handler wiring.
func newMixer(conn AudioConn, opts *Options) *Mixer {
	if opts == nil {
		opts = NewOptions()
	}
	m := &Mixer{
		conn:          conn,
		opts:          opts,
		devices:       make(map[uint32]*Device),
		devicesByName: make(map[string]*Device),
		streams:       make(map[uint32]*Stream),
		clients:       make(map[uint32]*Client),
	}
	if opts.Dispatch != nil {
		m.dispatch = opts.Dispatch
	} else {
		m.queue = newDispatcher()
		m.dispatch = m.queue.Post
	}
	return m
}

// paConn adapts *pulseaudio.Conn to the AudioConn interface; the only
// mismatch is OpenCapture's concrete return type.
type paConn struct {
	*pulseaudio.Conn
}

func (p paConn) OpenCapture(sourceIndex, streamIndex uint32, read pulseaudio.SampleFunc) (io.Closer, error) {
	return p.Conn.OpenCapture(sourceIndex, streamIndex, read)
}

// Close stops all open peak monitors and the internal dispatch queue.
// It does not close the underlying connection, which the caller owns.
func (m *Mixer) Close() {
	m.mu.Lock()
	var captures []io.Closer
	for _, d := range m.devices {
		if d.capture != nil {
			captures = append(captures, d.capture)
			d.capture = nil
		}
	}
	for _, s := range m.streams {
		if s.capture != nil {
			captures = append(captures, s.capture)
			s.capture = nil
		}
	}
	m.mu.Unlock()

	for _, capture := range captures {
		capture.Close()
	}
	if m.queue != nil {
		m.queue.Close()
	}
}

// handleState reacts to connection lifecycle transitions. A connection
// that reaches the failed state has no degraded mode: the fatal hook
// terminates the process unless the embedder replaced it.
func (m *Mixer) handleState(state pulseaudio.State) {
	logrus.WithField("state", state).Info("Connection state changed")
	if state != pulseaudio.StateFailed {
		return
	}
	fatal := m.opts.Fatal
	if fatal == nil {
		fatal = func(msg string) { logrus.Fatal(msg) }
	}
	fatal("PulseAudio connection failed")
}

// handleServerInfo stores the default-device marker verbatim. No
// notification fires here; the next device upsert naming the marker
// surfaces the main-value change.
func (m *Mixer) handleServerInfo(info pulseaudio.ServerInfo) {
	m.mu.Lock()
	m.defaultDevice = info.DefaultDevice
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"default": info.DefaultDevice,
		"server":  info.PackageName,
		"version": info.PackageVersion,
	}).Debug("Server info updated")
}

// handleDevice is the device upsert path. Unknown indexes insert into
// both maps and announce a count change; known indexes update in place,
// re-keying the name map when the server-internal name changed so it
// never points at a stale device nor misses a live one.
func (m *Mixer) handleDevice(info pulseaudio.DeviceInfo) {
	m.mu.Lock()
	device, known := m.devices[info.Index]
	if !known {
		device = &Device{mixer: m, index: info.Index}
		device.apply(info)
		m.devices[info.Index] = device
		m.devicesByName[device.deviceName] = device
		m.deviceOrder = append(m.deviceOrder, info.Index)
	} else {
		oldName := device.deviceName
		device.apply(info)
		if device.deviceName != oldName {
			delete(m.devicesByName, oldName)
			m.devicesByName[device.deviceName] = device
		}
	}
	isMain := m.defaultDevice != "" && device.deviceName == m.defaultDevice
	volume, mute := device.volume, device.mute
	m.mu.Unlock()

	if isMain {
		m.postMainValues(volume, mute)
	}
	m.postDeviceScale(info.Index, volume, mute)
	if !known {
		m.postCountChanged()
	}
}

// handleStream is the stream upsert path. The admission filter runs
// first: rejected streams create no entity and fire no notification,
// however often they arrive.
func (m *Mixer) handleStream(info pulseaudio.StreamInfo) {
	if !admitStream(info.Driver, info.Name) {
		return
	}

	m.mu.Lock()
	stream, known := m.streams[info.Index]
	if !known {
		stream = &Stream{mixer: m, index: info.Index}
		m.streams[info.Index] = stream
	}
	stream.apply(info)
	volume, mute := stream.volume, stream.mute
	m.mu.Unlock()

	m.postStreamScale(info.Index, volume, mute)
	if !known {
		m.postCountChanged()
	}
}

// handleClient upserts a client record. Clients carry no sliders, so no
// notification fires; streams resolve their fallbacks lazily.
func (m *Mixer) handleClient(info pulseaudio.ClientInfo) {
	m.mu.Lock()
	client, known := m.clients[info.Index]
	if !known {
		client = &Client{mixer: m, index: info.Index}
		m.clients[info.Index] = client
	}
	client.apply(info)
	m.mu.Unlock()
}

// handleRemoval routes a removal notification to the per-facility path.
// Removing an unknown index is a no-op for every facility.
func (m *Mixer) handleRemoval(facility pulseaudio.Facility, index uint32) {
	switch facility {
	case pulseaudio.FacilityDevice:
		m.removeDevice(index)
	case pulseaudio.FacilityStream:
		m.removeStream(index)
	case pulseaudio.FacilityClient:
		m.removeClient(index)
	}
}

func (m *Mixer) removeDevice(index uint32) {
	m.mu.Lock()
	device, known := m.devices[index]
	if !known {
		m.mu.Unlock()
		return
	}
	capture := device.capture
	device.capture = nil
	m.mu.Unlock()

	// The capture channel is bound to a now-invalid index; tear it down
	// before the entity disappears from the graph.
	if capture != nil {
		capture.Close()
	}

	m.mu.Lock()
	delete(m.devices, index)
	delete(m.devicesByName, device.deviceName)
	for i, idx := range m.deviceOrder {
		if idx == index {
			m.deviceOrder = append(m.deviceOrder[:i], m.deviceOrder[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	m.postCountChanged()
}

func (m *Mixer) removeStream(index uint32) {
	m.mu.Lock()
	stream, known := m.streams[index]
	if !known {
		m.mu.Unlock()
		return
	}
	capture := stream.capture
	stream.capture = nil
	delete(m.streams, index)
	m.mu.Unlock()

	if capture != nil {
		capture.Close()
	}
	m.postCountChanged()
}

func (m *Mixer) removeClient(index uint32) {
	m.mu.Lock()
	delete(m.clients, index)
	m.mu.Unlock()
}

// Device returns the device with the given index, or nil.
func (m *Mixer) Device(index uint32) *Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.devices[index]
}

// Stream returns the stream with the given index, or nil.
func (m *Mixer) Stream(index uint32) *Stream {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.streams[index]
}

// Client returns the client with the given index, or nil.
func (m *Mixer) Client(index uint32) *Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clients[index]
}

// Devices returns the live devices in insertion order.
func (m *Mixer) Devices() []*Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	devices := make([]*Device, 0, len(m.deviceOrder))
	for _, index := range m.deviceOrder {
		devices = append(devices, m.devices[index])
	}
	return devices
}

// Streams returns the live streams in unspecified order.
func (m *Mixer) Streams() []*Stream {
	m.mu.RLock()
	defer m.mu.RUnlock()
	streams := make([]*Stream, 0, len(m.streams))
	for _, stream := range m.streams {
		streams = append(streams, stream)
	}
	return streams
}

// MainDevice resolves the device carrying master-volume semantics. With
// no default marker yet, the first-inserted device stands in; with a
// marker naming an absent device the lookup fails loudly.
func (m *Mixer) MainDevice() (*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.defaultDevice == "" {
		if len(m.deviceOrder) == 0 {
			return nil, ErrNoDevices
		}
		return m.devices[m.deviceOrder[0]], nil
	}
	device, ok := m.devicesByName[m.defaultDevice]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMainDeviceMissing, m.defaultDevice)
	}
	return device, nil
}

// IsMainDevice reports whether the given server-internal name is the
// current default-device marker.
func (m *Mixer) IsMainDevice(deviceName string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultDevice != "" && deviceName == m.defaultDevice
}

// SetMainVolume sets the main device's volume.
func (m *Mixer) SetMainVolume(volume uint32) error {
	device, err := m.MainDevice()
	if err != nil {
		return err
	}
	device.SetVolume(volume)
	return nil
}

// ToggleMainMute flips the main device's mute state.
func (m *Mixer) ToggleMainMute() error {
	device, err := m.MainDevice()
	if err != nil {
		return err
	}
	device.ToggleMute()
	return nil
}

// expandVolume expands one logical volume level into a per-channel
// vector of equal values sized to the target's current channel count.
func expandVolume(volume uint32, channels int) []uint32 {
	if channels < 1 {
		channels = 1
	}
	levels := make([]uint32, channels)
	for i := range levels {
		levels[i] = volume
	}
	return levels
}

// Callback registration. Every callback is invoked via the dispatch
// function, never synchronously from the notification goroutine.

// OnCountChanged registers the callback for device/stream count changes.
func (m *Mixer) OnCountChanged(cb func()) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.countChanged = cb
}

// OnMainValuesChanged registers the callback for volume/mute changes of
// the main device.
func (m *Mixer) OnMainValuesChanged(cb func(volume uint32, mute bool)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.mainValuesChanged = cb
}

// OnDeviceScaleChanged registers the callback for per-device volume/mute
// updates.
func (m *Mixer) OnDeviceScaleChanged(cb func(index, volume uint32, mute bool)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.deviceScaleChanged = cb
}

// OnStreamScaleChanged registers the callback for per-stream volume/mute
// updates.
func (m *Mixer) OnStreamScaleChanged(cb func(index, volume uint32, mute bool)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.streamScaleChanged = cb
}

// OnDevicePeak registers the callback for device peak levels.
func (m *Mixer) OnDevicePeak(cb func(index uint32, level float64)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.devicePeak = cb
}

// OnStreamPeak registers the callback for stream peak levels.
func (m *Mixer) OnStreamPeak(cb func(index uint32, level float64)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.streamPeak = cb
}

func (m *Mixer) postCountChanged() {
	m.cbMu.RLock()
	cb := m.countChanged
	m.cbMu.RUnlock()
	if cb != nil {
		m.dispatch(cb)
	}
}

func (m *Mixer) postMainValues(volume uint32, mute bool) {
	m.cbMu.RLock()
	cb := m.mainValuesChanged
	m.cbMu.RUnlock()
	if cb != nil {
		m.dispatch(func() { cb(volume, mute) })
	}
}

func (m *Mixer) postDeviceScale(index, volume uint32, mute bool) {
	m.cbMu.RLock()
	cb := m.deviceScaleChanged
	m.cbMu.RUnlock()
	if cb != nil {
		m.dispatch(func() { cb(index, volume, mute) })
	}
}

func (m *Mixer) postStreamScale(index, volume uint32, mute bool) {
	m.cbMu.RLock()
	cb := m.streamScaleChanged
	m.cbMu.RUnlock()
	if cb != nil {
		m.dispatch(func() { cb(index, volume, mute) })
	}
}

func (m *Mixer) postDevicePeak(index uint32, level float64) {
	m.cbMu.RLock()
	cb := m.devicePeak
	m.cbMu.RUnlock()
	if cb != nil {
		m.dispatch(func() { cb(index, level) })
	}
}

func (m *Mixer) postStreamPeak(index uint32, level float64) {
	m.cbMu.RLock()
	cb := m.streamPeak
	m.cbMu.RUnlock()
	if cb != nil {
		m.dispatch(func() { cb(index, level) })
	}
}
