package wsserver

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/voicedialog/internal/config"
	"github.com/hubenschmidt/voicedialog/internal/segmenter"
	"github.com/hubenschmidt/voicedialog/internal/session"
	"github.com/hubenschmidt/voicedialog/internal/supervisor"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	newSession := func(id string, sourceSampleRate int, sendEvent session.EventSender, sendAudio session.AudioSender) *session.Session {
		deps := session.Deps{
			Supervisor: supervisor.New(supervisor.Config{}),
			Config: config.Config{
				SystemPrompt:    "be helpful",
				MaxHistoryTurns: 5,
				SegmenterConfig: segmenter.DefaultConfig(),
			},
		}
		return session.New(id, deps, sourceSampleRate, sendEvent, sendAudio)
	}
	srv := httptest.NewServer(New(newSession))
	t.Cleanup(srv.Close)
	return srv
}

func dialTest(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn, within time.Duration) session.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(within)))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, msgType)

	var ev session.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestHelloEstablishesSessionAndAcceptsInterrupt(t *testing.T) {
	srv := newTestServer(t)
	conn := dialTest(t, srv)

	hello := helloFrame{Type: "hello", SampleRate: 16000}
	data, err := json.Marshal(hello)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	interrupt := controlFrame{Type: "interrupt"}
	idata, err := json.Marshal(interrupt)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, idata))

	// an interrupt with nothing in flight produces no tts_stop and does
	// not close the connection; confirm no frame arrives within a short
	// window rather than the connection being torn down.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "expected a read timeout, not a server-initiated close")
}

func TestBinaryBeforeHelloIsRejectedAfterGrace(t *testing.T) {
	srv := newTestServer(t)
	conn := dialTest(t, srv)

	time.Sleep(preHelloGrace + 50*time.Millisecond)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, make([]byte, 8)))

	ev := readEvent(t, conn, time.Second)
	assert.Equal(t, "error", ev.Type)
	assert.Equal(t, "protocol_error", ev.Code)
}

func TestMalformedControlFrameYieldsProtocolError(t *testing.T) {
	srv := newTestServer(t)
	conn := dialTest(t, srv)

	hello := helloFrame{Type: "hello", SampleRate: 16000}
	data, err := json.Marshal(hello)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	ev := readEvent(t, conn, time.Second)
	assert.Equal(t, "protocol_error", ev.Code)
}

func TestUnknownFrameTypeYieldsProtocolError(t *testing.T) {
	srv := newTestServer(t)
	conn := dialTest(t, srv)

	hello := helloFrame{Type: "hello", SampleRate: 16000}
	data, err := json.Marshal(hello)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	unknown := controlFrame{Type: "do_a_backflip"}
	udata, err := json.Marshal(unknown)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, udata))

	ev := readEvent(t, conn, time.Second)
	assert.Equal(t, "protocol_error", ev.Code)
}
