// Package pulseaudio owns the transport to the PulseAudio server.
//
// It wraps the pure-Go native-protocol client from
// github.com/jfreymuth/pulse/proto behind a small primitive surface:
// enumerate, get-by-index, set-volume, set-mute, subscribe, and peak
// capture streams. All server notifications and enumeration responses are
// delivered asynchronously on a single background goroutine through
// registered handlers; mutation commands are fire-and-forget.
//
// Example:
//
//	conn, err := pulseaudio.Connect(nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer conn.Close()
//
//	conn.RegisterDeviceHandler(func(info pulseaudio.DeviceInfo) {
//	    fmt.Printf("device %d: %s\n", info.Index, info.Description)
//	})
//	conn.RequestUpdate()
package pulseaudio
