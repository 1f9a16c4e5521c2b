package pulseaudio

// State represents the lifecycle state of a connection.
type State uint8

const (
	StateUnconnected State = iota
	StateConnecting
	StateAuthorizing
	StateReady
	StateFailed
	StateTerminated
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthorizing:
		return "authorizing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Facility identifies the entity category a notification concerns.
type Facility uint8

const (
	FacilityDevice Facility = iota
	FacilityStream
	FacilityClient
)

// String returns a human-readable facility name.
func (f Facility) String() string {
	switch f {
	case FacilityDevice:
		return "device"
	case FacilityStream:
		return "stream"
	case FacilityClient:
		return "client"
	default:
		return "unknown"
	}
}

// DeviceInfo describes an output device (a sink in protocol terms) as
// reported by the server. Volume carries one level per channel.
type DeviceInfo struct {
	Index         uint32
	Name          string // server-internal name, unique among live devices
	Description   string // human-readable display name
	Channels      int
	Volume        []uint32
	Mute          bool
	MonitorSource uint32 // source index recording this device's output
	Driver        string
	Props         map[string]string
}

// StreamInfo describes a playback stream (a sink input in protocol terms).
type StreamInfo struct {
	Index       uint32
	DeviceIndex uint32 // device the stream is currently routed to
	ClientIndex uint32 // owning client, NoIndex when unset
	Name        string // media name as reported by the server
	Channels    int
	Volume      []uint32
	Mute        bool
	Driver      string
	Props       map[string]string
}

// ClientInfo describes an application session connected to the server.
type ClientInfo struct {
	Index  uint32
	Name   string
	Driver string
	Props  map[string]string
}

// ServerInfo carries the subset of the server-info response the control
// plane consumes.
type ServerInfo struct {
	DefaultDevice  string // server-internal name of the default output
	PackageName    string
	PackageVersion string
	Hostname       string
}

// Handler signatures for asynchronous delivery. All handlers run on the
// connection's background event goroutine and must not block on further
// requests to the same connection's handlers.
type (
	DeviceHandler  func(DeviceInfo)
	StreamHandler  func(StreamInfo)
	ClientHandler  func(ClientInfo)
	ServerHandler  func(ServerInfo)
	RemovalHandler func(Facility, uint32)
	StateHandler   func(State)
	SampleFunc     func(block []byte)
)
