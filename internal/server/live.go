package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/shadowalign/internal/observe"
	"github.com/MrWong99/shadowalign/internal/session"
	"github.com/MrWong99/shadowalign/pkg/pipeline"
	"github.com/MrWong99/shadowalign/pkg/types"
)

// Side markers that prefix every binary live message.
const (
	LiveSideTarget  byte = 0
	LiveSideAttempt byte = 1
)

// liveWriteTimeout bounds a single push to the client.
const liveWriteTimeout = 5 * time.Second

// Types of messages pushed on the live socket.
const (
	liveAccepted   = "accepted"
	liveResult     = "result"
	liveSuperseded = "superseded"
	liveConfig     = "config"
	liveError      = "error"
)

// liveMessage is pushed to the client as a JSON text frame.
type liveMessage struct {
	Type   string           `json:"type"`
	Side   types.Side       `json:"side,omitempty"`
	Seq    uint64           `json:"seq,omitempty"`
	Result *prepareResponse `json:"result,omitempty"`
	Config *pipeline.Config `json:"config,omitempty"`
	Error  *errorDetail     `json:"error,omitempty"`
}

// liveControl is a JSON text frame sent by the client. The only type is
// "config", which replaces the connection's overrides.
type liveControl struct {
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config"`
}

// liveConn is one open live socket bound to a session.
type liveConn struct {
	srv  *Server
	sess *session.Session
	conn *websocket.Conn
	log  *slog.Logger

	seq atomic.Uint64
	wg  sync.WaitGroup

	mu        sync.Mutex
	overrides pipeline.Overrides
}

// handleLive handles GET /v1/sessions/{id}/live. Each binary message is one
// byte naming the side ([LiveSideTarget] or [LiveSideAttempt]) followed by
// an encoded recording. The server answers with an "accepted" message and
// later a "result" (or "superseded" when a newer recording for the same side
// overtook it). A text message {"type":"config","config":{...}} sets the
// overrides applied to later submissions.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Get(r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		observe.Logger(r.Context()).Warn("live: websocket handshake failed", "err", err)
		return
	}
	conn.SetReadLimit(s.maxBytes)
	detach := sess.Attach()
	defer detach()
	s.metrics.LiveConnections.Add(r.Context(), 1)
	defer s.metrics.LiveConnections.Add(context.WithoutCancel(r.Context()), -1)

	l := &liveConn{
		srv:  s,
		sess: sess,
		conn: conn,
		log:  observe.Logger(r.Context()).With("session_id", sess.ID()),
	}
	l.log.Info("live socket opened")
	l.serve(r.Context())
}

// serve reads client messages until the socket closes, then cancels every
// submission still running and closes the socket.
func (l *liveConn) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	for {
		typ, data, err := l.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				l.log.Info("live socket closed by client")
			default:
				if ctx.Err() == nil {
					l.log.Warn("live socket read failed", "err", err)
				}
			}
			break
		}

		switch typ {
		case websocket.MessageBinary:
			l.submit(ctx, data)
		case websocket.MessageText:
			l.control(ctx, data)
		}
	}

	cancel()
	l.wg.Wait()
	l.conn.Close(websocket.StatusNormalClosure, "")
}

// submit starts a run for one binary message. The run continues while the
// read loop accepts further messages, so a re-recording supersedes it.
func (l *liveConn) submit(ctx context.Context, data []byte) {
	if len(data) == 0 {
		l.send(ctx, liveMessage{Type: liveError, Error: newErrorDetail(
			fmt.Errorf("%w: empty message", errBadRequest))})
		return
	}

	var side types.Side
	switch data[0] {
	case LiveSideTarget:
		side = types.SideTarget
	case LiveSideAttempt:
		side = types.SideAttempt
	default:
		l.send(ctx, liveMessage{Type: liveError, Error: newErrorDetail(
			fmt.Errorf("%w: unknown side marker %d", errBadRequest, data[0]))})
		return
	}

	blob := data[1:]
	cfg := l.config()
	seq := l.seq.Add(1)
	l.send(ctx, liveMessage{Type: liveAccepted, Side: side, Seq: seq})

	l.wg.Go(func() {
		runCtx, cancel := l.srv.runContext(ctx)
		defer cancel()
		res, err := l.sess.Submit(runCtx, side, blob, cfg)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.send(ctx, liveMessage{Type: liveError, Side: side, Seq: seq, Error: newErrorDetail(err)})
			if errors.Is(err, session.ErrClosed) {
				l.conn.Close(websocket.StatusGoingAway, "session closed")
			}
			return
		}

		typ := liveResult
		if res.Side(side).Status == session.StatusSuperseded {
			typ = liveSuperseded
		}
		resp := newPrepareResponse(l.sess.ID(), res)
		l.send(ctx, liveMessage{Type: typ, Side: side, Seq: seq, Result: &resp})
	})
}

// control applies a text message from the client.
func (l *liveConn) control(ctx context.Context, data []byte) {
	var msg liveControl
	if err := json.Unmarshal(data, &msg); err != nil {
		l.send(ctx, liveMessage{Type: liveError, Error: newErrorDetail(
			fmt.Errorf("%w: control message: %w", errBadRequest, err))})
		return
	}
	if msg.Type != liveConfig {
		l.send(ctx, liveMessage{Type: liveError, Error: newErrorDetail(
			fmt.Errorf("%w: unknown control message %q", errBadRequest, msg.Type))})
		return
	}

	var o pipeline.Overrides
	if len(msg.Config) > 0 && string(msg.Config) != "null" {
		var err error
		if o, err = decodeOverrides(msg.Config); err != nil {
			l.send(ctx, liveMessage{Type: liveError, Error: newErrorDetail(err)})
			return
		}
	}
	cfg := l.srv.manager.Defaults().Merge(o)
	if err := cfg.Validate(); err != nil {
		l.send(ctx, liveMessage{Type: liveError, Error: newErrorDetail(err)})
		return
	}

	l.mu.Lock()
	l.overrides = o
	l.mu.Unlock()
	l.send(ctx, liveMessage{Type: liveConfig, Config: &cfg})
}

// config returns the current server defaults with this connection's
// overrides applied.
func (l *liveConn) config() pipeline.Config {
	l.mu.Lock()
	o := l.overrides
	l.mu.Unlock()
	return l.srv.manager.Defaults().Merge(o)
}

// send pushes msg as a JSON text frame. Write errors are logged and
// otherwise ignored; the read loop notices a dead socket.
func (l *liveConn) send(ctx context.Context, msg liveMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		l.log.Error("live: encode message", "type", msg.Type, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, liveWriteTimeout)
	defer cancel()
	if err := l.conn.Write(ctx, websocket.MessageText, data); err != nil {
		l.log.Debug("live: write message", "type", msg.Type, "err", err)
	}
}
