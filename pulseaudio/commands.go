package pulseaudio

import (
	"github.com/jfreymuth/pulse/proto"
	"github.com/sirupsen/logrus"
)

// Mutation commands are fire-and-forget: they are queued for a single
// writer goroutine and their completion is never observed. The local
// mirror is updated optimistically by the caller and the subsequent
// notification stream corrects any divergence. A full queue drops the
// command instead of blocking the caller.

// SetDeviceVolume sets the per-channel volume levels of a device.
func (c *Conn) SetDeviceVolume(index uint32, levels []uint32) {
	c.send(&proto.SetSinkVolume{
		SinkIndex:      index,
		ChannelVolumes: proto.ChannelVolumes(levels),
	})
}

// SetDeviceMute sets the mute flag of a device.
func (c *Conn) SetDeviceMute(index uint32, mute bool) {
	c.send(&proto.SetSinkMute{
		SinkIndex: index,
		Mute:      mute,
	})
}

// SetStreamVolume sets the per-channel volume levels of a playback stream.
func (c *Conn) SetStreamVolume(index uint32, levels []uint32) {
	c.send(&proto.SetSinkInputVolume{
		SinkInputIndex: index,
		ChannelVolumes: proto.ChannelVolumes(levels),
	})
}

// SetStreamMute sets the mute flag of a playback stream.
func (c *Conn) SetStreamMute(index uint32, mute bool) {
	c.send(&proto.SetSinkInputMute{
		SinkInputIndex: index,
		Mute:           mute,
	})
}

func (c *Conn) send(req proto.RequestArgs) {
	select {
	case c.commands <- req:
	case <-c.done:
	default:
		logrus.Debug("PulseAudio command queue full, dropping command")
	}
}
