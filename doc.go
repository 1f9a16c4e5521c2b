// Package volctl maintains a live mirror of a PulseAudio mixing graph
// (output devices, per-application playback streams and their owning
// clients) and issues volume, mute and peak-metering operations against
// it.
//
// The Mixer is the single writer of the mirrored graph: it consumes
// notifications from a pulseaudio.Conn on that connection's background
// goroutine and surfaces changes to the presentation layer through
// registered callbacks, each invoked via a deferred dispatch so the UI
// thread is never entered synchronously from the notification path.
//
// Example:
//
//	conn, err := pulseaudio.Connect(nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer conn.Close()
//
//	mixer := volctl.NewMixer(conn, nil)
//	defer mixer.Close()
//
//	mixer.OnCountChanged(func() {
//	    fmt.Printf("%d devices, %d streams\n",
//	        len(mixer.Devices()), len(mixer.Streams()))
//	})
package volctl
