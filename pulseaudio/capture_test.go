package pulseaudio

import (
	"testing"

	"github.com/jfreymuth/pulse/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCaptureConfiguresPeakStream(t *testing.T) {
	req := newFakeRequester()
	conn := newTestConn(req)

	capture, err := conn.OpenCapture(103, NoStream, func([]byte) {})
	require.NoError(t, err)
	defer capture.Close()

	recorded := req.recorded()
	require.Len(t, recorded, 1)
	create, ok := recorded[0].(*proto.CreateRecordStream)
	require.True(t, ok)

	assert.Equal(t, uint32(103), create.SourceIndex)
	assert.Equal(t, uint8(1), uint8(create.SampleSpec.Channels))
	assert.Equal(t, uint32(25), create.SampleSpec.Rate)
	assert.True(t, create.PeakDetect)
	assert.True(t, create.NoMove)
	assert.True(t, create.AdjustLatency)
	assert.Equal(t, uint32(NoStream), create.DirectOnInputIndex)
}

func TestOpenCaptureBindsMonitorOfStream(t *testing.T) {
	req := newFakeRequester()
	conn := newTestConn(req)

	capture, err := conn.OpenCapture(103, 42, func([]byte) {})
	require.NoError(t, err)
	defer capture.Close()

	create := req.recorded()[0].(*proto.CreateRecordStream)
	assert.Equal(t, uint32(42), create.DirectOnInputIndex)
}

func TestOpenCaptureRequiresSampleFunc(t *testing.T) {
	conn := newTestConn(newFakeRequester())
	_, err := conn.OpenCapture(1, NoStream, nil)
	assert.Error(t, err)
}

func TestSampleRouting(t *testing.T) {
	req := newFakeRequester()
	conn := newTestConn(req)

	var blocks [][]byte
	capture, err := conn.OpenCapture(103, NoStream, func(block []byte) {
		blocks = append(blocks, block)
	})
	require.NoError(t, err)

	conn.routeSamples(capture.index, []byte{1, 2, 3})
	conn.routeSamples(capture.index+1, []byte{9}) // unknown stream, dropped

	require.Len(t, blocks, 1)
	assert.Equal(t, []byte{1, 2, 3}, blocks[0])

	require.NoError(t, capture.Close())
	conn.routeSamples(capture.index, []byte{4})
	assert.Len(t, blocks, 1, "no delivery after close")
}

func TestCaptureCloseIsIdempotent(t *testing.T) {
	req := newFakeRequester()
	conn := newTestConn(req)

	capture, err := conn.OpenCapture(103, NoStream, func([]byte) {})
	require.NoError(t, err)

	require.NoError(t, capture.Close())
	require.NoError(t, capture.Close())

	deletes := 0
	for _, r := range req.recorded() {
		if _, ok := r.(*proto.DeleteRecordStream); ok {
			deletes++
		}
	}
	assert.Equal(t, 1, deletes, "the record stream is deleted exactly once")
}

func TestCapturesAreIndependent(t *testing.T) {
	req := newFakeRequester()
	conn := newTestConn(req)

	var first, second int
	captureA, err := conn.OpenCapture(101, NoStream, func([]byte) { first++ })
	require.NoError(t, err)
	captureB, err := conn.OpenCapture(102, NoStream, func([]byte) { second++ })
	require.NoError(t, err)

	conn.routeSamples(captureA.index, []byte{0})
	conn.routeSamples(captureB.index, []byte{0})
	conn.routeSamples(captureB.index, []byte{0})

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)

	require.NoError(t, captureA.Close())
	require.NoError(t, captureB.Close())
}
