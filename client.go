package volctl

import "github.com/RiedleroD/volctl/pulseaudio"

// defaultIconName is the generic icon used when neither a stream nor its
// owning client reports one.
const defaultIconName = "multimedia-volume-control"

// Client represents an application session connected to the audio server.
// Streams reference clients lazily by index for name/icon fallback; a
// client may be removed before the streams that point at it.
type Client struct {
	mixer *Mixer
	index uint32

	name     string
	iconName string
}

// Index returns the server-assigned client index.
func (c *Client) Index() uint32 {
	return c.index
}

// Name returns the client's display name.
func (c *Client) Name() string {
	c.mixer.mu.RLock()
	defer c.mixer.mu.RUnlock()
	return c.name
}

// IconName returns the client's icon hint, or a generic icon when the
// client reports none.
func (c *Client) IconName() string {
	c.mixer.mu.RLock()
	defer c.mixer.mu.RUnlock()
	return c.iconName
}

// apply updates the client in place. Caller holds the mixer write lock.
func (c *Client) apply(info pulseaudio.ClientInfo) {
	c.name = info.Name
	c.iconName = info.Props["application.icon_name"]
	if c.iconName == "" {
		c.iconName = defaultIconName
	}
}
