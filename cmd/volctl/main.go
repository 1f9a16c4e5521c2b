// Command volctl is a terminal front end for the mixer control plane:
// it lists the mirrored graph, watches change notifications, meters peak
// levels and issues volume/mute commands. The graphical shell consumes
// the same library surface.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/RiedleroD/volctl"
	"github.com/RiedleroD/volctl/pulseaudio"
)

func main() {
	var (
		server        = pflag.String("server", "", "server address (default: local server)")
		discover      = pflag.Bool("discover", false, "browse for network-exported servers and exit")
		list          = pflag.Bool("list", false, "print devices and streams and exit")
		watch         = pflag.Bool("watch", false, "keep printing change notifications")
		setVolume     = pflag.Int("set-volume", -1, "set main volume to the given percentage")
		toggleMute    = pflag.Bool("toggle-mute", false, "toggle main device mute")
		monitorDevice = pflag.Int64("monitor-device", -1, "meter peak levels of the device with this index")
		monitorStream = pflag.Int64("monitor-stream", -1, "meter peak levels of the stream with this index")
		verbose       = pflag.BoolP("verbose", "v", false, "enable debug logging")
	)
	pflag.Parse()

	logrus.SetLevel(logrus.WarnLevel)
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if *discover {
		runDiscovery()
		return
	}

	opts := pulseaudio.NewOptions()
	opts.Server = *server
	conn, err := pulseaudio.Connect(opts)
	if err != nil {
		logrus.WithError(err).Error("Connection failed")
		os.Exit(1)
	}
	defer conn.Close()

	mixer := volctl.NewMixer(conn, nil)
	defer mixer.Close()

	if *watch {
		registerWatchers(mixer)
	}

	// NewMixer requests the enumeration; wait for the responses to land.
	waitInitialState(mixer)

	switch {
	case *setVolume >= 0:
		volume := uint32(uint64(*setVolume) * uint64(volctl.VolumeNorm) / 100)
		if err := mixer.SetMainVolume(volume); err != nil {
			logrus.WithError(err).Error("Set volume failed")
			os.Exit(1)
		}
	case *toggleMute:
		if err := mixer.ToggleMainMute(); err != nil {
			logrus.WithError(err).Error("Toggle mute failed")
			os.Exit(1)
		}
	case *monitorDevice >= 0:
		device := mixer.Device(uint32(*monitorDevice))
		if device == nil {
			fmt.Fprintf(os.Stderr, "no device with index %d\n", *monitorDevice)
			os.Exit(1)
		}
		meter(mixer, device)
	case *monitorStream >= 0:
		stream := mixer.Stream(uint32(*monitorStream))
		if stream == nil {
			fmt.Fprintf(os.Stderr, "no stream with index %d\n", *monitorStream)
			os.Exit(1)
		}
		meter(mixer, stream)
	case *list:
		printGraph(mixer)
	case *watch:
		select {}
	default:
		printGraph(mixer)
	}
}

func waitInitialState(mixer *volctl.Mixer) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(mixer.Devices()) > 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func runDiscovery() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	servers, err := pulseaudio.Discover(ctx)
	if err != nil {
		logrus.WithError(err).Error("Discovery failed")
		os.Exit(1)
	}
	for _, server := range servers {
		fmt.Printf("%s\t%s\n", server.Instance, server.Addr)
	}
}

func printGraph(mixer *volctl.Mixer) {
	main, err := mixer.MainDevice()
	for _, device := range mixer.Devices() {
		marker := " "
		if err == nil && device == main {
			marker = "*"
		}
		fmt.Printf("device %s%-3d %-40s vol=%3d%% mute=%t\n",
			marker, device.Index(), device.Name(), percent(device.Volume()), device.Mute())
	}
	for _, stream := range mixer.Streams() {
		fmt.Printf("stream  %-3d %-40s vol=%3d%% mute=%t (device %d)\n",
			stream.Index(), stream.Name(), percent(stream.Volume()), stream.Mute(), stream.DeviceIndex())
	}
}

func registerWatchers(mixer *volctl.Mixer) {
	mixer.OnCountChanged(func() {
		fmt.Printf("counts: %d devices, %d streams\n",
			len(mixer.Devices()), len(mixer.Streams()))
	})
	mixer.OnMainValuesChanged(func(volume uint32, mute bool) {
		fmt.Printf("main: vol=%d%% mute=%t\n", percent(volume), mute)
	})
	mixer.OnDeviceScaleChanged(func(index, volume uint32, mute bool) {
		fmt.Printf("device %d: vol=%d%% mute=%t\n", index, percent(volume), mute)
	})
	mixer.OnStreamScaleChanged(func(index, volume uint32, mute bool) {
		fmt.Printf("stream %d: vol=%d%% mute=%t\n", index, percent(volume), mute)
	})
}

func meter(mixer *volctl.Mixer, target volctl.Monitorable) {
	show := func(index uint32, level float64) {
		bar := strings.Repeat("=", int(level*50))
		fmt.Printf("\r%3d [%-50s] %.3f", index, bar, level)
	}
	mixer.OnDevicePeak(show)
	mixer.OnStreamPeak(show)

	if err := mixer.StartMonitor(target); err != nil {
		logrus.WithError(err).Error("Monitor failed")
		os.Exit(1)
	}
	select {}
}

func percent(volume uint32) int {
	return int(uint64(volume) * 100 / uint64(volctl.VolumeNorm))
}
