package pulseaudio

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/jfreymuth/pulse/proto"
	"github.com/sirupsen/logrus"
)

// NoIndex is the sentinel the server uses for an unset entity index.
const NoIndex = proto.Undefined

// VolumeNorm is the raw volume value corresponding to 100% (0 dB).
const VolumeNorm uint32 = 0x10000

// Options contains configuration for a connection.
type Options struct {
	// Server is the address to connect to. Empty selects the default
	// server (PULSE_SERVER, then the per-user native socket). Accepts
	// the usual "unix:/path" and "tcp:host:port" forms.
	Server string

	// AppName is reported to the server as the client application name.
	AppName string

	// Props are additional client properties sent with the client name.
	Props map[string]string

	// MeterRate is the sample rate in Hz for peak capture streams.
	MeterRate int

	// EventBuffer and CommandBuffer size the internal queues between the
	// protocol reader, the event loop, and the command writer.
	EventBuffer   int
	CommandBuffer int
}

// NewOptions creates Options with default values.
func NewOptions() *Options {
	return &Options{
		AppName:       "volctl",
		MeterRate:     25,
		EventBuffer:   64,
		CommandBuffer: 64,
	}
}

// requester issues a blocking request against the protocol client. It is
// satisfied by *proto.Client and by test fakes.
type requester interface {
	Request(req proto.RequestArgs, rep proto.Reply) error
}

// Conn is a connection to the PulseAudio server. It owns two goroutines:
// the protocol reader (inside proto.Client) which only forwards messages,
// and the event loop which performs lookups and invokes handlers.
type Conn struct {
	opts   *Options
	client *proto.Client
	req    requester
	netc   net.Conn
	tag    string

	events   chan interface{}
	commands chan proto.RequestArgs
	resync   chan struct{}
	done     chan struct{}
	closing  sync.Once

	stateMu sync.Mutex
	state   State

	handlerMu      sync.RWMutex
	deviceHandler  DeviceHandler
	streamHandler  StreamHandler
	clientHandler  ClientHandler
	serverHandler  ServerHandler
	removalHandler RemovalHandler
	stateHandler   StateHandler

	captureMu sync.RWMutex
	captures  map[uint32]*Capture
}

// Connect establishes a connection, authenticates with the local auth
// cookie, announces the client name and subscribes to device/stream/client
// events. A connection that cannot reach the ready state is returned as an
// error with no retry. The initial full state is not requested here:
// callers register their handlers first, then call RequestUpdate.
func Connect(opts *Options) (*Conn, error) {
	if opts == nil {
		opts = NewOptions()
	}

	c := &Conn{
		opts:     opts,
		tag:      uuid.NewString(),
		events:   make(chan interface{}, opts.EventBuffer),
		commands: make(chan proto.RequestArgs, opts.CommandBuffer),
		resync:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		captures: make(map[uint32]*Capture),
	}
	c.setState(StateConnecting)

	client, netc, err := proto.Connect(opts.Server)
	if err != nil {
		c.setState(StateFailed)
		return nil, fmt.Errorf("pulseaudio: connect: %w", err)
	}
	c.client = client
	c.req = client
	c.netc = netc
	client.Callback = c.protoCallback

	if err := c.authorize(); err != nil {
		netc.Close()
		c.setState(StateFailed)
		return nil, err
	}

	go c.run()
	go c.writeCommands()
	c.setState(StateReady)

	if err := c.subscribe(); err != nil {
		c.shutdown(StateFailed)
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"server": opts.Server,
		"tag":    c.tag,
	}).Info("PulseAudio connection ready")
	return c, nil
}

// authorize performs cookie auth and client-name announcement.
func (c *Conn) authorize() error {
	c.setState(StateAuthorizing)

	cookie, err := authCookie()
	if err != nil {
		logrus.WithError(err).Debug("No auth cookie found, authenticating without one")
	}
	var reply proto.AuthReply
	if err := c.req.Request(&proto.Auth{
		Version: c.client.Version(),
		Cookie:  cookie,
	}, &reply); err != nil {
		return fmt.Errorf("pulseaudio: auth: %w", err)
	}
	c.client.SetVersion(reply.Version)

	props := proto.PropList{
		"application.name": proto.PropListString(c.opts.AppName),
		"volctl.tag":       proto.PropListString(c.tag),
	}
	for k, v := range c.opts.Props {
		props[k] = proto.PropListString(v)
	}
	if err := c.req.Request(&proto.SetClientName{Props: props}, &proto.SetClientNameReply{}); err != nil {
		return fmt.Errorf("pulseaudio: set client name: %w", err)
	}
	return nil
}

// subscribe activates server-side event delivery for the three facilities
// the control plane mirrors.
func (c *Conn) subscribe() error {
	err := c.req.Request(&proto.Subscribe{
		Mask: proto.SubscriptionMaskSink |
			proto.SubscriptionMaskSinkInput |
			proto.SubscriptionMaskClient,
	}, nil)
	if err != nil {
		return fmt.Errorf("pulseaudio: subscribe: %w", err)
	}
	return nil
}

// RequestUpdate schedules the full-state request burst: server info,
// client list, device list, stream list. Responses are delivered through
// the registered handlers; callers register those first. Pending requests
// coalesce, so this never blocks.
func (c *Conn) RequestUpdate() {
	select {
	case c.resync <- struct{}{}:
	case <-c.done:
	default:
	}
}

// protoCallback runs on the protocol reader goroutine. It must not issue
// requests; replies are consumed by the same goroutine and a blocking
// request here would deadlock. Everything is forwarded to the event loop.
// A dropped subscribe event could be a removal no later notification
// repairs, so a full queue schedules a re-enumeration instead.
func (c *Conn) protoCallback(val interface{}) {
	switch val.(type) {
	case *proto.SubscribeEvent, *proto.DataPacket:
		select {
		case c.events <- val:
		case <-c.done:
		default:
			logrus.Debug("PulseAudio event queue full, scheduling resync")
			c.RequestUpdate()
		}
	case *proto.ConnectionClosed:
		c.terminate()
	}
}

// run is the background event loop. All handler invocations, targeted
// lookups and peak-sample deliveries happen here.
func (c *Conn) run() {
	for {
		select {
		case <-c.done:
			return
		case <-c.resync:
			c.enumerate()
		case ev := <-c.events:
			switch v := ev.(type) {
			case *proto.SubscribeEvent:
				c.handleSubscribeEvent(v)
			case *proto.DataPacket:
				c.routeSamples(v.StreamIndex, v.Data)
			}
		}
	}
}

// writeCommands drains the fire-and-forget mutation queue. Failures are
// intentionally discarded; the notification stream is the source of truth
// and corrects any divergence.
func (c *Conn) writeCommands() {
	for {
		select {
		case <-c.done:
			return
		case req := <-c.commands:
			if err := c.req.Request(req, nil); err != nil {
				logrus.WithError(err).Debug("PulseAudio command failed")
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					c.terminate()
				}
			}
		}
	}
}

// handleSubscribeEvent maps a raw subscription event to (facility, kind,
// index). Removals go straight to the removal handler; upserts trigger a
// targeted by-index lookup whose response drives the upsert handler.
func (c *Conn) handleSubscribeEvent(ev *proto.SubscribeEvent) {
	var facility Facility
	switch ev.Event.GetFacility() {
	case proto.EventSink:
		facility = FacilityDevice
	case proto.EventSinkSinkInput:
		facility = FacilityStream
	case proto.EventClient:
		facility = FacilityClient
	default:
		return
	}

	if ev.Event.GetType() == proto.EventRemove {
		logrus.WithFields(logrus.Fields{
			"facility": facility,
			"index":    ev.Index,
		}).Debug("Entity removed")
		if h := c.removalHandlerRef(); h != nil {
			h(facility, ev.Index)
		}
		return
	}

	switch facility {
	case FacilityDevice:
		c.lookupDevice(ev.Index)
	case FacilityStream:
		c.lookupStream(ev.Index)
	case FacilityClient:
		c.lookupClient(ev.Index)
	}
}

// shutdown quiesces the goroutines and closes the socket exactly once,
// recording the given final state.
func (c *Conn) shutdown(s State) {
	c.closing.Do(func() {
		c.setState(s)
		close(c.done)
		if c.netc != nil {
			c.netc.Close()
		}
		logrus.WithField("state", s).Info("PulseAudio connection closed")
	})
}

// terminate records a server-initiated disconnect. A clean termination is
// not an error.
func (c *Conn) terminate() {
	c.shutdown(StateTerminated)
}

// Close disconnects from the server and stops the background goroutines.
func (c *Conn) Close() error {
	c.terminate()
	return nil
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Conn) setState(s State) {
	c.stateMu.Lock()
	if c.state == s {
		c.stateMu.Unlock()
		return
	}
	c.state = s
	c.stateMu.Unlock()

	c.handlerMu.RLock()
	h := c.stateHandler
	c.handlerMu.RUnlock()
	if h != nil {
		h(s)
	}
}

// RegisterDeviceHandler sets the handler for device upserts (both
// enumeration responses and change notifications).
func (c *Conn) RegisterDeviceHandler(h DeviceHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.deviceHandler = h
}

// RegisterStreamHandler sets the handler for stream upserts.
func (c *Conn) RegisterStreamHandler(h StreamHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.streamHandler = h
}

// RegisterClientHandler sets the handler for client upserts.
func (c *Conn) RegisterClientHandler(h ClientHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.clientHandler = h
}

// RegisterServerHandler sets the handler for server-info responses.
func (c *Conn) RegisterServerHandler(h ServerHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.serverHandler = h
}

// RegisterRemovalHandler sets the handler for entity removals.
func (c *Conn) RegisterRemovalHandler(h RemovalHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.removalHandler = h
}

// RegisterStateHandler sets the handler for connection state changes.
func (c *Conn) RegisterStateHandler(h StateHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.stateHandler = h
}

func (c *Conn) deviceHandlerRef() DeviceHandler {
	c.handlerMu.RLock()
	defer c.handlerMu.RUnlock()
	return c.deviceHandler
}

func (c *Conn) streamHandlerRef() StreamHandler {
	c.handlerMu.RLock()
	defer c.handlerMu.RUnlock()
	return c.streamHandler
}

func (c *Conn) clientHandlerRef() ClientHandler {
	c.handlerMu.RLock()
	defer c.handlerMu.RUnlock()
	return c.clientHandler
}

func (c *Conn) serverHandlerRef() ServerHandler {
	c.handlerMu.RLock()
	defer c.handlerMu.RUnlock()
	return c.serverHandler
}

func (c *Conn) removalHandlerRef() RemovalHandler {
	c.handlerMu.RLock()
	defer c.handlerMu.RUnlock()
	return c.removalHandler
}
