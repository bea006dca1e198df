package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pagelift/pagelift/api/schemas"
	"github.com/pagelift/pagelift/internal/assets"
	"github.com/pagelift/pagelift/internal/builder"
	"github.com/pagelift/pagelift/internal/canvas"
	"github.com/pagelift/pagelift/internal/relay"
)

// ErrBuildInProgress rejects a build envelope while a previous build on the
// same session is still running.
var ErrBuildInProgress = errors.New("build already in progress")

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Image replies carry whole files as base64, so the read limit sits far
	// above a typical control payload.
	maxMessageSize = 32 << 20
	// Send buffer size.
	sendChannelSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The plugin connects from inside the editor, which sends either a null
	// origin or an app-specific one; there is nothing useful to verify.
	CheckOrigin: func(*http.Request) bool { return true },
}

// session is one live WebSocket build connection. It owns a relay registry
// for image round trips, a builder wired to it, and the document that
// accumulates everything built over the connection's lifetime.
type session struct {
	conn *websocket.Conn
	log  *zap.Logger

	// Buffered channel of outgoing envelopes. The writePump reads from this.
	send chan schemas.Envelope
	// Closed exactly once, after the read side is gone.
	quit chan struct{}

	registry *relay.Registry
	builder  *builder.Builder
	doc      *canvas.Document

	building atomic.Bool
	builds   sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// handleBuildSocket upgrades the connection and runs the session pumps. It
// blocks until the connection closes.
func (s *Server) handleBuildSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error to the client.
		s.log.Error("WebSocket upgrade failed.", zap.Error(err))
		return
	}

	sess := s.newSession(conn)
	if !s.trackSession(sess) {
		conn.Close()
		return
	}
	defer s.untrackSession(sess)

	s.log.Info("Build session opened.", zap.String("remote_addr", r.RemoteAddr))
	sess.run()
	s.log.Debug("Build session finished.", zap.String("remote_addr", r.RemoteAddr))
}

func (s *Server) newSession(conn *websocket.Conn) *session {
	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		log:    s.log.With(zap.String("remote_addr", conn.RemoteAddr().String())),
		send:   make(chan schemas.Envelope, sendChannelSize),
		quit:   make(chan struct{}),
		doc:    canvas.NewDocument("Build Session"),
		ctx:    ctx,
		cancel: cancel,
	}
	sess.registry = relay.NewRegistry(sess.queueEnvelope, relay.DefaultTimeout, sess.log)

	// Server-side fetches come first; only misses are relayed to the peer,
	// which can reach URLs gated behind the page's own cookies.
	resolver := assets.Chain(s.resolver, sess.registry)
	sess.builder = builder.New(s.builderCfg, sess.log, s.fonts, resolver)
	sess.builder.SetAssetTimeout(s.assetTimeout)
	return sess
}

// run starts the write pump, reads until the connection dies, then unwinds:
// the in-flight build is aborted, queued senders are released, and the build
// goroutine is joined before returning.
func (sess *session) run() {
	go sess.writePump()
	sess.readPump()

	sess.cancel()
	close(sess.quit)
	sess.builds.Wait()
}

// readPump pumps envelopes from the connection into dispatch. A dedicated
// read loop keeps control frames and image-data replies flowing while a
// build is running.
func (sess *session) readPump() {
	defer sess.conn.Close()

	sess.conn.SetReadLimit(maxMessageSize)
	if err := sess.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		sess.log.Error("Failed to set initial read deadline.", zap.Error(err))
		return
	}
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env schemas.Envelope
		if err := sess.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				sess.log.Warn("WebSocket closed unexpectedly.", zap.Error(err))
			} else {
				sess.log.Debug("WebSocket connection closed.")
			}
			return
		}
		sess.dispatch(env)
	}
}

// writePump serializes all writes to the connection: queued envelopes,
// periodic pings, and the final close frame.
func (sess *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sess.conn.Close()
	}()

	for {
		select {
		case env := <-sess.send:
			if err := sess.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				sess.log.Error("Failed to set write deadline.", zap.Error(err))
				return
			}
			if err := sess.conn.WriteJSON(env); err != nil {
				sess.log.Debug("Write failed, closing session.", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := sess.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sess.quit:
			sess.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// dispatch routes one incoming envelope. It runs on the read loop and must
// not block on build work.
func (sess *session) dispatch(env schemas.Envelope) {
	switch env.Type {
	case schemas.MessageBuild:
		if !sess.building.CompareAndSwap(false, true) {
			sess.queueEnvelope(schemas.NewErrorMessage(ErrBuildInProgress))
			return
		}
		sess.builds.Add(1)
		// The build runs off the read loop so image-data replies keep
		// flowing while it waits on the relay.
		go sess.runBuild(env)

	case schemas.MessageImageData:
		if env.ID == "" {
			sess.log.Warn("Dropping image-data with no correlation id.")
			return
		}
		data, err := env.ImagePayload()
		if err != nil {
			// Deliver the failure so the waiter degrades now instead of
			// waiting out its timeout.
			sess.log.Warn("Discarding undecodable image payload.", zap.String("id", env.ID), zap.Error(err))
			data = nil
		}
		sess.registry.Deliver(env.ID, data)

	default:
		sess.log.Warn("Received unsupported message type.", zap.String("type", string(env.Type)))
		sess.queueEnvelope(schemas.NewErrorMessage(fmt.Errorf("unsupported message type %q", env.Type)))
	}
}

// runBuild decodes the payload, builds it into the session document and
// answers with done or a single terminal error.
func (sess *session) runBuild(env schemas.Envelope) {
	defer sess.builds.Done()
	defer sess.building.Store(false)

	root, err := env.BuildPayload()
	if err != nil {
		sess.queueEnvelope(schemas.NewErrorMessage(fmt.Errorf("decoding build payload: %w", err)))
		return
	}

	start := time.Now()
	if err := sess.builder.BuildInto(sess.ctx, sess.doc, root); err != nil {
		sess.log.Warn("Build failed.", zap.Error(err))
		sess.queueEnvelope(schemas.NewErrorMessage(err))
		return
	}

	sess.log.Info("Build finished.",
		zap.Int("canvas_nodes", sess.doc.NodeCount()),
		zap.Duration("elapsed", time.Since(start)))
	sess.queueEnvelope(schemas.NewDoneMessage())
}

// queueEnvelope hands an envelope to the write pump. It blocks when the
// buffer is full and fails once the session is shutting down, which lets the
// relay treat a dead peer as a fetch error.
func (sess *session) queueEnvelope(env schemas.Envelope) error {
	select {
	case sess.send <- env:
		return nil
	case <-sess.quit:
		return fmt.Errorf("build session closed")
	}
}
