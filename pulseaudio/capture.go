package pulseaudio

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jfreymuth/pulse/proto"
	"github.com/sirupsen/logrus"
)

// NoStream is passed to OpenCapture when the capture is not bound to a
// specific playback stream (plain device metering).
const NoStream = proto.Undefined

// Capture is an open peak-level capture channel. Sample blocks are
// delivered to the registered SampleFunc on the connection's event loop
// until Close is called.
type Capture struct {
	conn  *Conn
	index uint32 // record stream index assigned by the server
	tag   string
	read  SampleFunc

	mu     sync.Mutex
	closed bool
}

// OpenCapture opens a record stream against the given source, configured
// for peak metering: mono, unsigned 8-bit samples at the connection's
// meter rate, with the peak-detect, don't-move and adjust-latency flags.
// When streamIndex is not NoStream the capture is bound as a monitor of
// that specific playback stream.
func (c *Conn) OpenCapture(sourceIndex, streamIndex uint32, read SampleFunc) (*Capture, error) {
	if read == nil {
		return nil, fmt.Errorf("pulseaudio: nil sample func")
	}
	tag := uuid.NewString()

	var reply proto.CreateRecordStreamReply
	err := c.req.Request(&proto.CreateRecordStream{
		SourceIndex: sourceIndex,
		SampleSpec: proto.SampleSpec{
			Format:   proto.FormatUint8,
			Channels: 1,
			Rate:     uint32(c.opts.MeterRate),
		},
		ChannelMap:         proto.ChannelMap{proto.ChannelMono},
		BufferMaxLength:    proto.Undefined,
		BufferFragSize:     proto.Undefined,
		DirectOnInputIndex: streamIndex,
		NoMove:             true,
		PeakDetect:         true,
		AdjustLatency:      true,
		Properties: proto.PropList{
			"media.name":        proto.PropListString("peak"),
			"volctl.capture.id": proto.PropListString(tag),
		},
	}, &reply)
	if err != nil {
		return nil, fmt.Errorf("pulseaudio: open capture: %w", err)
	}

	capture := &Capture{conn: c, index: reply.StreamIndex, tag: tag, read: read}
	c.captureMu.Lock()
	c.captures[reply.StreamIndex] = capture
	c.captureMu.Unlock()

	logrus.WithFields(logrus.Fields{
		"source":  sourceIndex,
		"stream":  streamIndex,
		"capture": tag,
	}).Debug("Capture channel open")
	return capture, nil
}

// routeSamples delivers a sample block to the capture that owns the
// record stream. Blocks for unknown streams (late packets after close)
// are dropped.
func (c *Conn) routeSamples(index uint32, block []byte) {
	c.captureMu.RLock()
	capture := c.captures[index]
	c.captureMu.RUnlock()
	if capture == nil || capture.read == nil {
		return
	}
	capture.read(block)
}

// Close deletes the record stream and stops sample delivery. Idempotent.
func (cp *Capture) Close() error {
	cp.mu.Lock()
	if cp.closed {
		cp.mu.Unlock()
		return nil
	}
	cp.closed = true
	cp.mu.Unlock()

	cp.conn.captureMu.Lock()
	delete(cp.conn.captures, cp.index)
	cp.conn.captureMu.Unlock()

	err := cp.conn.req.Request(&proto.DeleteRecordStream{StreamIndex: cp.index}, nil)
	if err != nil {
		logrus.WithError(err).WithField("capture", cp.tag).Debug("Capture close failed")
	}
	logrus.WithField("capture", cp.tag).Debug("Capture channel closed")
	return nil
}
