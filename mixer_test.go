package volctl

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RiedleroD/volctl/pulseaudio"
)

// fakeConn records every call the mixer makes against the connection.
type fakeConn struct {
	mu            sync.Mutex
	deviceVolumes map[uint32][]uint32
	deviceMutes   map[uint32]bool
	streamVolumes map[uint32][]uint32
	streamMutes   map[uint32]bool
	captures      []*fakeCapture
	openErr       error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		deviceVolumes: make(map[uint32][]uint32),
		deviceMutes:   make(map[uint32]bool),
		streamVolumes: make(map[uint32][]uint32),
		streamMutes:   make(map[uint32]bool),
	}
}

func (f *fakeConn) SetDeviceVolume(index uint32, levels []uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deviceVolumes[index] = levels
}

func (f *fakeConn) SetDeviceMute(index uint32, mute bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deviceMutes[index] = mute
}

func (f *fakeConn) SetStreamVolume(index uint32, levels []uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamVolumes[index] = levels
}

func (f *fakeConn) SetStreamMute(index uint32, mute bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamMutes[index] = mute
}

func (f *fakeConn) OpenCapture(source, stream uint32, read pulseaudio.SampleFunc) (io.Closer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	capture := &fakeCapture{source: source, stream: stream, read: read}
	f.captures = append(f.captures, capture)
	return capture, nil
}

type fakeCapture struct {
	source uint32
	stream uint32
	read   pulseaudio.SampleFunc
	closed bool
}

func (c *fakeCapture) Close() error {
	c.closed = true
	return nil
}

// newTestMixer builds a mixer with synchronous dispatch so notifications
// are observable without sleeping.
func newTestMixer(t *testing.T) (*Mixer, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	mixer := newMixer(conn, &Options{Dispatch: func(fn func()) { fn() }})
	return mixer, conn
}

func deviceInfo(index uint32, name, description string, channels int, volume uint32, mute bool) pulseaudio.DeviceInfo {
	levels := make([]uint32, channels)
	for i := range levels {
		levels[i] = volume
	}
	return pulseaudio.DeviceInfo{
		Index:         index,
		Name:          name,
		Description:   description,
		Channels:      channels,
		Volume:        levels,
		Mute:          mute,
		MonitorSource: index + 100,
		Driver:        "module-alsa-card.c",
		Props:         map[string]string{},
	}
}

func streamInfo(index, deviceIndex, clientIndex uint32, name string, props map[string]string) pulseaudio.StreamInfo {
	if props == nil {
		props = map[string]string{}
	}
	return pulseaudio.StreamInfo{
		Index:       index,
		DeviceIndex: deviceIndex,
		ClientIndex: clientIndex,
		Name:        name,
		Channels:    2,
		Volume:      []uint32{VolumeNorm, VolumeNorm},
		Mute:        false,
		Driver:      "protocol-native.c",
		Props:       props,
	}
}

// checkNameMapInvariant asserts the name-keyed map contains exactly the
// live devices' current names.
func checkNameMapInvariant(t *testing.T, m *Mixer) {
	t.Helper()
	m.mu.RLock()
	defer m.mu.RUnlock()

	require.Len(t, m.devicesByName, len(m.devices))
	for _, device := range m.devices {
		named, ok := m.devicesByName[device.deviceName]
		require.True(t, ok, "live device name %q missing from name map", device.deviceName)
		require.Same(t, device, named)
	}
}

// fakeSource records handler registration and the initial-state request
// in call order.
type fakeSource struct {
	calls   []string
	device  pulseaudio.DeviceHandler
	stream  pulseaudio.StreamHandler
	client  pulseaudio.ClientHandler
	server  pulseaudio.ServerHandler
	removal pulseaudio.RemovalHandler
	state   pulseaudio.StateHandler
}

func (f *fakeSource) RegisterDeviceHandler(h pulseaudio.DeviceHandler) {
	f.device = h
	f.calls = append(f.calls, "device")
}

func (f *fakeSource) RegisterStreamHandler(h pulseaudio.StreamHandler) {
	f.stream = h
	f.calls = append(f.calls, "stream")
}

func (f *fakeSource) RegisterClientHandler(h pulseaudio.ClientHandler) {
	f.client = h
	f.calls = append(f.calls, "client")
}

func (f *fakeSource) RegisterServerHandler(h pulseaudio.ServerHandler) {
	f.server = h
	f.calls = append(f.calls, "server")
}

func (f *fakeSource) RegisterRemovalHandler(h pulseaudio.RemovalHandler) {
	f.removal = h
	f.calls = append(f.calls, "removal")
}

func (f *fakeSource) RegisterStateHandler(h pulseaudio.StateHandler) {
	f.state = h
	f.calls = append(f.calls, "state")
}

func (f *fakeSource) RequestUpdate() {
	f.calls = append(f.calls, "update")
}

func TestWiringRequestsStateAfterHandlers(t *testing.T) {
	mixer := newMixer(newFakeConn(), &Options{Dispatch: func(fn func()) { fn() }})

	source := &fakeSource{}
	mixer.wire(source)

	require.Len(t, source.calls, 7)
	assert.Equal(t, "update", source.calls[6],
		"the enumeration must be requested only after every handler is registered")
	require.NotNil(t, source.device)
	require.NotNil(t, source.stream)
	require.NotNil(t, source.client)
	require.NotNil(t, source.server)
	require.NotNil(t, source.removal)
	require.NotNil(t, source.state)

	// The burst delivered through the freshly wired handlers populates
	// the mirror, default-device marker included.
	source.server(pulseaudio.ServerInfo{DefaultDevice: "dev-2"})
	source.device(deviceInfo(1, "dev-1", "Card A", 2, 50, false))
	source.device(deviceInfo(2, "dev-2", "Card B", 2, 60, false))
	source.client(pulseaudio.ClientInfo{Index: 3, Name: "Player", Props: map[string]string{}})
	source.stream(streamInfo(4, 2, 3, "song", nil))

	main, err := mixer.MainDevice()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), main.Index())
	assert.Len(t, mixer.Devices(), 2)
	require.NotNil(t, mixer.Stream(4))
}

func TestDeviceInsertNotifiesCountAndScale(t *testing.T) {
	mixer, _ := newTestMixer(t)

	var counts, scales int
	mixer.OnCountChanged(func() { counts++ })
	mixer.OnDeviceScaleChanged(func(index, volume uint32, mute bool) {
		scales++
		assert.Equal(t, uint32(3), index)
		assert.Equal(t, uint32(50), volume)
		assert.False(t, mute)
	})

	mixer.handleDevice(deviceInfo(3, "alsa.pci-0000", "Built-in Audio", 2, 50, false))

	assert.Equal(t, 1, counts)
	assert.Equal(t, 1, scales)
	require.NotNil(t, mixer.Device(3))
	checkNameMapInvariant(t, mixer)
}

func TestDeviceUpdatePreservesIdentity(t *testing.T) {
	mixer, _ := newTestMixer(t)

	mixer.handleDevice(deviceInfo(7, "alsa.usb", "USB DAC", 2, 40, false))
	held := mixer.Device(7)

	var counts int
	mixer.OnCountChanged(func() { counts++ })
	mixer.handleDevice(deviceInfo(7, "alsa.usb", "USB DAC", 2, 80, true))

	assert.Equal(t, 0, counts, "update must not announce a count change")
	assert.Same(t, held, mixer.Device(7), "identity must survive updates")
	assert.Equal(t, uint32(80), held.Volume())
	assert.True(t, held.Mute())
}

func TestDeviceRenameRekeysNameMap(t *testing.T) {
	mixer, _ := newTestMixer(t)

	mixer.handleDevice(deviceInfo(1, "name-a", "Card", 2, 50, false))
	checkNameMapInvariant(t, mixer)

	// A sequence of upserts with changing internal names must never leave
	// the name map stale or incomplete.
	for i, name := range []string{"name-b", "name-c", "name-b"} {
		mixer.handleDevice(deviceInfo(1, name, "Card", 2, uint32(50+i), false))
		checkNameMapInvariant(t, mixer)

		mixer.mu.RLock()
		_, stale := mixer.devicesByName["name-a"]
		mixer.mu.RUnlock()
		assert.False(t, stale, "old name must be dropped")
	}

	mixer.handleRemoval(pulseaudio.FacilityDevice, 1)
	checkNameMapInvariant(t, mixer)
	assert.Empty(t, mixer.Devices())
}

func TestStreamAdmissionIsPure(t *testing.T) {
	mixer, _ := newTestMixer(t)

	var notified int
	mixer.OnCountChanged(func() { notified++ })
	mixer.OnStreamScaleChanged(func(uint32, uint32, bool) { notified++ })

	rejected := []pulseaudio.StreamInfo{
		streamInfo(1, 0, 0, feedbackStreamName, nil),
		{Index: 2, Name: "music", Driver: "module-loopback.c", Channels: 2, Volume: []uint32{1, 1}, Props: map[string]string{}},
		{Index: 3, Name: "music", Driver: "", Channels: 2, Volume: []uint32{1, 1}, Props: map[string]string{}},
	}
	// Repeated arrival must never create or update an entity.
	for i := 0; i < 3; i++ {
		for _, info := range rejected {
			mixer.handleStream(info)
		}
	}

	assert.Zero(t, notified)
	assert.Empty(t, mixer.Streams())

	mixer.handleStream(streamInfo(4, 0, 0, "music", nil))
	require.NotNil(t, mixer.Stream(4))

	pipewire := streamInfo(5, 0, 0, "game", nil)
	pipewire.Driver = "PipeWire"
	mixer.handleStream(pipewire)
	require.NotNil(t, mixer.Stream(5))
}

func TestRemoveUnknownIndexIsNoOp(t *testing.T) {
	mixer, _ := newTestMixer(t)

	var counts int
	mixer.OnCountChanged(func() { counts++ })

	assert.NotPanics(t, func() {
		mixer.handleRemoval(pulseaudio.FacilityDevice, 99)
		mixer.handleRemoval(pulseaudio.FacilityStream, 99)
		mixer.handleRemoval(pulseaudio.FacilityClient, 99)
	})
	assert.Zero(t, counts)
}

func TestVolumeExpandsToChannelCount(t *testing.T) {
	mixer, conn := newTestMixer(t)

	mixer.handleDevice(deviceInfo(2, "surround", "Surround Card", 6, 50, false))
	mixer.Device(2).SetVolume(90)

	require.Len(t, conn.deviceVolumes[2], 6)
	for _, level := range conn.deviceVolumes[2] {
		assert.Equal(t, uint32(90), level)
	}

	mixer.handleStream(streamInfo(8, 2, 0, "music", nil))
	mixer.Stream(8).SetVolume(30)
	require.Len(t, conn.streamVolumes[8], 2)
	for _, level := range conn.streamVolumes[8] {
		assert.Equal(t, uint32(30), level)
	}
}

func TestSetVolumeIsOptimistic(t *testing.T) {
	mixer, _ := newTestMixer(t)

	mixer.handleDevice(deviceInfo(1, "card", "Card", 2, 10, false))
	mixer.Device(1).SetVolume(70)

	// Local state reflects the change before any notification round-trip.
	assert.Equal(t, uint32(70), mixer.Device(1).Volume())
}

func TestToggleMuteNegatesCurrentState(t *testing.T) {
	mixer, conn := newTestMixer(t)

	mixer.handleDevice(deviceInfo(1, "card", "Card", 2, 50, false))
	device := mixer.Device(1)

	device.ToggleMute()
	assert.True(t, device.Mute())
	assert.True(t, conn.deviceMutes[1])

	device.ToggleMute()
	assert.False(t, device.Mute())
	assert.False(t, conn.deviceMutes[1])
}

func TestMainDeviceResolution(t *testing.T) {
	mixer, _ := newTestMixer(t)

	_, err := mixer.MainDevice()
	assert.ErrorIs(t, err, ErrNoDevices)

	for _, index := range []uint32{5, 2, 9} {
		mixer.handleDevice(deviceInfo(index, fmt.Sprintf("dev-%d", index), "Card", 2, 50, false))
	}

	// No marker yet: first-inserted device stands in.
	main, err := mixer.MainDevice()
	require.NoError(t, err)
	assert.Equal(t, uint32(5), main.Index())

	mixer.handleServerInfo(pulseaudio.ServerInfo{DefaultDevice: "dev-9"})
	main, err = mixer.MainDevice()
	require.NoError(t, err)
	assert.Equal(t, uint32(9), main.Index())
}

func TestMainDeviceMarkerAbsentFailsLoudly(t *testing.T) {
	mixer, _ := newTestMixer(t)

	mixer.handleDevice(deviceInfo(1, "present", "Card", 2, 50, false))
	mixer.handleServerInfo(pulseaudio.ServerInfo{DefaultDevice: "unplugged"})

	_, err := mixer.MainDevice()
	assert.ErrorIs(t, err, ErrMainDeviceMissing)

	assert.ErrorIs(t, mixer.SetMainVolume(50), ErrMainDeviceMissing)
	assert.ErrorIs(t, mixer.ToggleMainMute(), ErrMainDeviceMissing)
}

func TestMainValuesFireOnlyWithMarker(t *testing.T) {
	mixer, _ := newTestMixer(t)

	type mainValues struct {
		volume uint32
		mute   bool
	}
	var fired []mainValues
	mixer.OnMainValuesChanged(func(volume uint32, mute bool) {
		fired = append(fired, mainValues{volume, mute})
	})

	mixer.handleDevice(deviceInfo(3, "dev-3", "Card", 2, 50, false))
	assert.Empty(t, fired, "no marker yet, first upsert must not fire")

	mixer.handleServerInfo(pulseaudio.ServerInfo{DefaultDevice: "dev-3"})
	assert.Empty(t, fired, "storing the marker alone fires nothing")

	mixer.handleDevice(deviceInfo(3, "dev-3", "Card", 2, 70, false))
	require.Len(t, fired, 1)
	assert.Equal(t, mainValues{70, false}, fired[0])
}

func TestStreamNameResolutionChain(t *testing.T) {
	mixer, _ := newTestMixer(t)

	mixer.handleClient(pulseaudio.ClientInfo{Index: 11, Name: "Firefox", Props: map[string]string{}})

	mixer.handleStream(streamInfo(1, 0, 11, "x", map[string]string{
		"application.name": "Music Player",
		"media.name":       "Song Title",
	}))
	assert.Equal(t, "Music Player: Song Title", mixer.Stream(1).Name())

	mixer.handleStream(streamInfo(2, 0, 11, "x", map[string]string{
		"application.name": "Music Player",
	}))
	assert.Equal(t, "Music Player", mixer.Stream(2).Name())

	mixer.handleStream(streamInfo(3, 0, 11, "x", nil))
	assert.Equal(t, "Firefox", mixer.Stream(3).Name())

	// Stale client reference: stream outlives its client.
	mixer.handleRemoval(pulseaudio.FacilityClient, 11)
	assert.Equal(t, "", mixer.Stream(3).Name())
}

func TestStreamIconResolutionChain(t *testing.T) {
	mixer, _ := newTestMixer(t)

	mixer.handleClient(pulseaudio.ClientInfo{Index: 4, Name: "App", Props: map[string]string{
		"application.icon_name": "firefox",
	}})

	mixer.handleStream(streamInfo(1, 0, 4, "x", map[string]string{
		"media.icon_name":       "media-icon",
		"application.icon_name": "app-icon",
	}))
	assert.Equal(t, "media-icon", mixer.Stream(1).IconName())

	mixer.handleStream(streamInfo(2, 0, 4, "x", map[string]string{
		"application.icon_name": "app-icon",
	}))
	assert.Equal(t, "app-icon", mixer.Stream(2).IconName())

	mixer.handleStream(streamInfo(3, 0, 4, "x", nil))
	assert.Equal(t, "firefox", mixer.Stream(3).IconName())

	mixer.handleRemoval(pulseaudio.FacilityClient, 4)
	assert.Equal(t, defaultIconName, mixer.Stream(3).IconName())
}

func TestClientDefaultIcon(t *testing.T) {
	mixer, _ := newTestMixer(t)

	mixer.handleClient(pulseaudio.ClientInfo{Index: 1, Name: "Plain", Props: map[string]string{}})
	assert.Equal(t, defaultIconName, mixer.Client(1).IconName())

	mixer.handleClient(pulseaudio.ClientInfo{Index: 1, Name: "Plain", Props: map[string]string{
		"application.icon_name": "custom",
	}})
	assert.Equal(t, "custom", mixer.Client(1).IconName())
}

func TestStreamMovesBetweenDevices(t *testing.T) {
	mixer, _ := newTestMixer(t)

	mixer.handleDevice(deviceInfo(1, "a", "A", 2, 50, false))
	mixer.handleDevice(deviceInfo(2, "b", "B", 2, 50, false))
	mixer.handleStream(streamInfo(7, 1, 0, "music", nil))

	require.Equal(t, uint32(1), mixer.Stream(7).DeviceIndex())

	moved := streamInfo(7, 2, 0, "music", nil)
	mixer.handleStream(moved)
	assert.Equal(t, uint32(2), mixer.Stream(7).DeviceIndex())
}

func TestStreamCountNotifications(t *testing.T) {
	mixer, _ := newTestMixer(t)

	var counts, scales int
	mixer.OnCountChanged(func() { counts++ })
	mixer.OnStreamScaleChanged(func(uint32, uint32, bool) { scales++ })

	mixer.handleStream(streamInfo(1, 0, 0, "music", nil))
	mixer.handleStream(streamInfo(1, 0, 0, "music", nil))
	assert.Equal(t, 1, counts, "only the insert announces a count change")
	assert.Equal(t, 2, scales, "every upsert announces the scale")

	mixer.handleRemoval(pulseaudio.FacilityStream, 1)
	assert.Equal(t, 2, counts)
	assert.Empty(t, mixer.Streams())
}

func TestExpandVolume(t *testing.T) {
	assert.Equal(t, []uint32{7, 7, 7}, expandVolume(7, 3))
	assert.Equal(t, []uint32{7}, expandVolume(7, 0), "channel count is never below one")
}

func TestMixerCloseClosesCaptures(t *testing.T) {
	mixer, conn := newTestMixer(t)

	mixer.handleDevice(deviceInfo(1, "a", "A", 2, 50, false))
	require.NoError(t, mixer.StartMonitor(mixer.Device(1)))
	require.Len(t, conn.captures, 1)

	mixer.Close()
	assert.True(t, conn.captures[0].closed)
}

func TestFatalHookOnFailedState(t *testing.T) {
	conn := newFakeConn()
	var fatal string
	mixer := newMixer(conn, &Options{
		Dispatch: func(fn func()) { fn() },
		Fatal:    func(msg string) { fatal = msg },
	})

	mixer.handleState(pulseaudio.StateReady)
	assert.Empty(t, fatal)

	mixer.handleState(pulseaudio.StateFailed)
	assert.NotEmpty(t, fatal)
}

func TestMainDeviceErrors(t *testing.T) {
	mixer, _ := newTestMixer(t)
	assert.True(t, errors.Is(mixer.SetMainVolume(1), ErrNoDevices))
}
