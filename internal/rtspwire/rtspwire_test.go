package rtspwire

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadRequestBasic(t *testing.T) {
	raw := "DESCRIBE rtsp://10.0.0.1:8554/cam1 RTSP/1.0\r\n" +
		"CSeq: 2\r\n" +
		"Accept: application/sdp\r\n" +
		"\r\n"

	req, err := ReadRequest(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)
	require.Equal(t, "DESCRIBE", req.Method)
	require.Equal(t, "rtsp://10.0.0.1:8554/cam1", req.URL)
	require.Equal(t, "2", req.Header["CSeq"])
	require.Equal(t, "application/sdp", req.Header["Accept"])
}

func TestReadRequestWithBody(t *testing.T) {
	raw := "ANNOUNCE rtsp://x/ RTSP/1.0\r\n" +
		"CSeq: 1\r\n" +
		"Content-Length: 5\r\n" +
		"\r\n" +
		"hello"

	req, err := ReadRequest(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), req.Body)
}

func TestWriteResponseSerializes(t *testing.T) {
	resp := NewResponse(200)
	resp.Header["CSeq"] = "3"
	resp.Body = []byte("v=0\r\n")

	var buf bytes.Buffer
	require.NoError(t, WriteResponse(&buf, resp))

	out := buf.String()
	require.Contains(t, out, "RTSP/1.0 200 OK\r\n")
	require.Contains(t, out, "CSeq: 3\r\n")
	require.Contains(t, out, "Content-Length: 5\r\n")
	require.True(t, strings.HasSuffix(out, "v=0\r\n"))
}

func TestWriteRequestThenReadRequestRoundTrip(t *testing.T) {
	req := &Request{
		Method: "SETUP",
		URL:    "rtsp://x/cam1/trackID=0",
		Proto:  "RTSP/1.0",
		Header: map[string]string{"CSeq": "4", "Transport": "RTP/AVP;unicast;client_port=4000-4001"},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteRequest(&buf, req))

	got, err := ReadRequest(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, req.Method, got.Method)
	require.Equal(t, req.URL, got.URL)
	require.Equal(t, req.Header["Transport"], got.Header["Transport"])
}

func TestInterleavedFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte{1, 2, 3, 4, 5}
	require.NoError(t, WriteInterleavedFrame(&buf, 0, payload))

	r := bufio.NewReader(&buf)
	isFrame, err := PeekIsInterleaved(r)
	require.NoError(t, err)
	require.True(t, isFrame)

	frame, err := ReadInterleavedFrame(r)
	require.NoError(t, err)
	require.Equal(t, byte(0), frame.Channel)
	require.Equal(t, payload, frame.Payload)
}

func TestPeekIsInterleavedFalseForRequestLine(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("OPTIONS rtsp://x/ RTSP/1.0\r\n\r\n"))
	isFrame, err := PeekIsInterleaved(r)
	require.NoError(t, err)
	require.False(t, isFrame)
}
