package pulseaudio

import (
	"github.com/jfreymuth/pulse/proto"
	"github.com/sirupsen/logrus"
)

// enumerate issues the full-state request burst on the event loop:
// server info first, then clients, devices, streams.
func (c *Conn) enumerate() {
	c.fetchServerInfo()
	c.fetchClientList()
	c.fetchDeviceList()
	c.fetchStreamList()
}

func (c *Conn) fetchServerInfo() {
	var reply proto.GetServerInfoReply
	if err := c.req.Request(&proto.GetServerInfo{}, &reply); err != nil {
		logrus.WithError(err).Debug("Server info request failed")
		return
	}
	if h := c.serverHandlerRef(); h != nil {
		h(ServerInfo{
			DefaultDevice:  reply.DefaultSinkName,
			PackageName:    reply.PackageName,
			PackageVersion: reply.PackageVersion,
			Hostname:       reply.Hostname,
		})
	}
}

func (c *Conn) fetchClientList() {
	var reply proto.GetClientInfoListReply
	if err := c.req.Request(&proto.GetClientInfoList{}, &reply); err != nil {
		logrus.WithError(err).Debug("Client list request failed")
		return
	}
	h := c.clientHandlerRef()
	if h == nil {
		return
	}
	for _, info := range reply {
		h(clientInfoFromProto(info))
	}
}

func (c *Conn) fetchDeviceList() {
	var reply proto.GetSinkInfoListReply
	if err := c.req.Request(&proto.GetSinkInfoList{}, &reply); err != nil {
		logrus.WithError(err).Debug("Device list request failed")
		return
	}
	h := c.deviceHandlerRef()
	if h == nil {
		return
	}
	for _, info := range reply {
		h(deviceInfoFromProto(info))
	}
}

func (c *Conn) fetchStreamList() {
	var reply proto.GetSinkInputInfoListReply
	if err := c.req.Request(&proto.GetSinkInputInfoList{}, &reply); err != nil {
		logrus.WithError(err).Debug("Stream list request failed")
		return
	}
	h := c.streamHandlerRef()
	if h == nil {
		return
	}
	for _, info := range reply {
		h(streamInfoFromProto(info))
	}
}

// lookupDevice resolves a changed-or-added notification into a full
// device record. A lookup that fails because the entity vanished in the
// meantime is dropped silently; the removal event follows on its own.
func (c *Conn) lookupDevice(index uint32) {
	var reply proto.GetSinkInfoReply
	if err := c.req.Request(&proto.GetSinkInfo{SinkIndex: index}, &reply); err != nil {
		logrus.WithError(err).WithField("index", index).Debug("Device lookup failed")
		return
	}
	if h := c.deviceHandlerRef(); h != nil {
		h(deviceInfoFromProto(&reply))
	}
}

func (c *Conn) lookupStream(index uint32) {
	var reply proto.GetSinkInputInfoReply
	if err := c.req.Request(&proto.GetSinkInputInfo{SinkInputIndex: index}, &reply); err != nil {
		logrus.WithError(err).WithField("index", index).Debug("Stream lookup failed")
		return
	}
	if h := c.streamHandlerRef(); h != nil {
		h(streamInfoFromProto(&reply))
	}
}

func (c *Conn) lookupClient(index uint32) {
	var reply proto.GetClientInfoReply
	if err := c.req.Request(&proto.GetClientInfo{ClientIndex: index}, &reply); err != nil {
		logrus.WithError(err).WithField("index", index).Debug("Client lookup failed")
		return
	}
	if h := c.clientHandlerRef(); h != nil {
		h(clientInfoFromProto(&reply))
	}
}

func deviceInfoFromProto(r *proto.GetSinkInfoReply) DeviceInfo {
	return DeviceInfo{
		Index:         r.SinkIndex,
		Name:          r.SinkName,
		Description:   r.Device,
		Channels:      len(r.ChannelVolumes),
		Volume:        append([]uint32(nil), r.ChannelVolumes...),
		Mute:          r.Mute,
		MonitorSource: r.MonitorSourceIndex,
		Driver:        r.Driver,
		Props:         flattenProps(r.Properties),
	}
}

func streamInfoFromProto(r *proto.GetSinkInputInfoReply) StreamInfo {
	return StreamInfo{
		Index:       r.SinkInputIndex,
		DeviceIndex: r.SinkIndex,
		ClientIndex: r.ClientIndex,
		Name:        r.MediaName,
		Channels:    len(r.ChannelVolumes),
		Volume:      append([]uint32(nil), r.ChannelVolumes...),
		Mute:        r.Muted,
		Driver:      r.Driver,
		Props:       flattenProps(r.Properties),
	}
}

func clientInfoFromProto(r *proto.GetClientInfoReply) ClientInfo {
	return ClientInfo{
		Index:  r.ClientIndex,
		Name:   r.Application,
		Driver: r.Driver,
		Props:  flattenProps(r.Properties),
	}
}

// flattenProps turns the protocol property list into the flat string
// key→value mapping the entity model consumes.
func flattenProps(pl proto.PropList) map[string]string {
	props := make(map[string]string, len(pl))
	for key, value := range pl {
		props[key] = value.String()
	}
	return props
}
