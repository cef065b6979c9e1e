package gatecam

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jpeg(payload string) []byte {
	return append(append([]byte{0xFF, 0xD8}, payload...), 0xFF, 0xD9)
}

func TestReadJPEGFrames(t *testing.T) {
	var stream bytes.Buffer
	stream.WriteString("junk before the first frame")
	stream.Write(jpeg("one"))
	stream.Write(jpeg("two\xff\x00escaped"))
	stream.Write([]byte{0x00, 0x01})
	stream.Write(jpeg("three"))

	var got [][]byte
	err := readJPEGFrames(context.Background(), &stream, func(f []byte) { got = append(got, f) })
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, jpeg("one"), got[0])
	assert.Equal(t, jpeg("two\xff\x00escaped"), got[1])
	assert.Equal(t, jpeg("three"), got[2])
}

func TestReadJPEGFramesTruncatedTail(t *testing.T) {
	stream := bytes.NewReader(append(jpeg("one"), 0xFF, 0xD8, 'x'))

	var n int
	err := readJPEGFrames(context.Background(), stream, func([]byte) { n++ })
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReadJPEGFramesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := readJPEGFrames(ctx, bytes.NewReader(jpeg("one")), func([]byte) {})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFFmpegArgs(t *testing.T) {
	rtsp := (&FFmpegSource{URL: "rtsp://cam-1/stream", FPS: 2, Width: 640}).args()
	assert.Contains(t, rtsp, "-rtsp_transport")
	assert.Contains(t, rtsp, "fps=2,scale=640:-1")

	mjpeg := (&FFmpegSource{URL: "http://cam-2/mjpeg", FPS: 1, Width: 320}).args()
	assert.Contains(t, mjpeg, "-reconnect")
	assert.NotContains(t, mjpeg, "-rtsp_transport")
}
