// Package wsserver implements the WebSocket external interface of spec
// §6: hello/interrupt/load_session control frames, binary PCM float32
// ingress, and the transcription/llm_response/tts_start/tts_stop/error/
// binary-PCM16LE egress frames. Grounded directly on the gateway's
// internal/ws/handler.go (upgrade, mutex-guarded concurrent writer,
// text-vs-binary frame dispatch loop), adapted from its call-center
// metadata/action protocol to the hello/interrupt/load_session protocol
// this domain names.
package wsserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/voicedialog/internal/apperrors"
	"github.com/hubenschmidt/voicedialog/internal/metrics"
	"github.com/hubenschmidt/voicedialog/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// helloFrame is the first text frame a client must send.
type helloFrame struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sample_rate"`
	SessionID  string `json:"session_id,omitempty"`
}

// controlFrame covers every other client text frame.
type controlFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
}

// preHelloGrace is how long audio arriving before hello is buffered
// before being discarded with an error frame, per spec §9.
const preHelloGrace = 1 * time.Second

// Server upgrades connections and runs one Session per connection.
type Server struct {
	newSession func(id string, sourceSampleRate int, sendEvent session.EventSender, sendAudio session.AudioSender) *session.Session
}

// New builds a Server. newSession is called once per accepted connection,
// with the sample rate the client declared in its hello frame, to
// construct a Session wired to that connection's dependencies.
func New(newSession func(id string, sourceSampleRate int, sendEvent session.EventSender, sendAudio session.AudioSender) *session.Session) *Server {
	return &Server{newSession: newSession}
}

// ServeHTTP upgrades the request to a WebSocket and runs the connection
// until it closes.
func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	srv.runConnection(conn)
}

func (srv *Server) runConnection(conn *websocket.Conn) {
	sendEvent, sendAudio := newSenders(conn)

	hello, firstBinary, err := readHello(conn, sendEvent)
	if err != nil {
		return
	}

	sessionID := hello.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	sess := srv.newSession(sessionID, hello.SampleRate, sendEvent, sendAudio)
	metrics.SessionsActive.Inc()
	metrics.SessionsTotal.Inc()
	defer metrics.SessionsActive.Dec()
	defer sess.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sess.Run(ctx)

	if firstBinary != nil {
		sess.IngestAudio(firstBinary)
	}

	slog.Info("session started", "session_id", sessionID)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		switch msgType {
		case websocket.TextMessage:
			handleControlFrame(sess, data, sendEvent)
		case websocket.BinaryMessage:
			sess.IngestAudio(data)
		}
	}
	slog.Info("session ended", "session_id", sessionID)
}

// readHello reads frames until hello arrives. Binary frames received
// before hello are buffered for up to preHelloGrace and then discarded
// with an error frame, per spec §9's resolution of the hello-ordering
// open question. Returns the parsed hello and any binary audio that
// arrived in the same read alongside it (there is none in practice, kept
// for symmetry with the main loop).
func readHello(conn *websocket.Conn, sendEvent session.EventSender) (*helloFrame, []byte, error) {
	deadline := time.Now().Add(preHelloGrace)
	conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				sendEvent(session.Event{Type: "error", Code: apperrors.Code(apperrors.ErrProtocol), Message: "no hello within the pre-hello grace period"})
				return nil, nil, apperrors.ErrProtocol
			}
			return nil, nil, err
		}
		if msgType == websocket.BinaryMessage {
			if time.Now().After(deadline) {
				sendEvent(session.Event{Type: "error", Code: apperrors.Code(apperrors.ErrProtocol), Message: "audio received before hello"})
				return nil, nil, apperrors.ErrProtocol
			}
			continue // buffered-then-discarded: simply not fed to a session that doesn't exist yet
		}

		var h helloFrame
		if err := json.Unmarshal(data, &h); err != nil || h.Type != "hello" {
			sendEvent(session.Event{Type: "error", Code: apperrors.Code(apperrors.ErrProtocol), Message: "expected hello as first frame"})
			return nil, nil, apperrors.ErrProtocol
		}
		return &h, nil, nil
	}
}

func handleControlFrame(sess *session.Session, data []byte, sendEvent session.EventSender) {
	var cf controlFrame
	if err := json.Unmarshal(data, &cf); err != nil {
		sendEvent(session.Event{Type: "error", Code: apperrors.Code(apperrors.ErrProtocol), Message: "malformed control frame"})
		return
	}

	switch cf.Type {
	case "interrupt":
		sess.Interrupt()
	case "load_session":
		if cf.SessionID == "" {
			sendEvent(session.Event{Type: "error", Code: apperrors.Code(apperrors.ErrProtocol), Message: "load_session requires session_id"})
			return
		}
		if err := sess.RequestLoadSession(cf.SessionID); err != nil {
			sendEvent(session.Event{Type: "error", Code: apperrors.Code(err), Message: err.Error()})
		}
	case "hello":
		// a second hello mid-connection is ignored; the session is
		// already established from the first one.
	default:
		sendEvent(session.Event{Type: "error", Code: apperrors.Code(apperrors.ErrProtocol), Message: "unknown frame type: " + cf.Type})
	}
}

// newSenders builds a mutex-guarded EventSender/AudioSender pair over
// one connection, since the session's turn loop and Interrupt() can both
// write concurrently.
func newSenders(conn *websocket.Conn) (session.EventSender, session.AudioSender) {
	var mu sync.Mutex

	sendEvent := func(ev session.Event) {
		mu.Lock()
		defer mu.Unlock()
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			slog.Error("write event", "error", err)
		}
	}

	sendAudio := func(pcm []byte) {
		mu.Lock()
		defer mu.Unlock()
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
			slog.Error("write audio", "error", err)
		}
	}

	return sendEvent, sendAudio
}
