package http

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jobrunner/climap/internal/domain"
	"github.com/jobrunner/climap/internal/ports/input"
	"github.com/jobrunner/climap/internal/render"
	"github.com/jobrunner/climap/internal/viewport"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 64 * 1024
	wsOutboxSize     = 16
)

// clientMessage is a command sent by the browser.
type clientMessage struct {
	Type   string            `json:"type"` // event, view, layer, resize, query
	Event  *viewport.Event   `json:"event,omitempty"`
	View   *domain.ViewState `json:"view,omitempty"`
	Layer  *layerRequest     `json:"layer,omitempty"`
	Width  int               `json:"width,omitempty"`
	Height int               `json:"height,omitempty"`
	X      float64           `json:"x,omitempty"`
	Y      float64           `json:"y,omitempty"`
}

// serverMessage is a JSON message sent to the browser. A frame message is
// followed by one binary message holding the PNG.
type serverMessage struct {
	Type   string                 `json:"type"` // frame, boundaries, region, view, error
	Frame  map[string]interface{} `json:"frame,omitempty"`
	Paths  []domain.Path          `json:"paths,omitempty"`
	Region *domain.RegionInfo     `json:"region,omitempty"`
	View   *domain.ViewState      `json:"view,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// wsOutbound is one queued write: a JSON message with an optional binary
// payload.
type wsOutbound struct {
	msg    serverMessage
	binary []byte
}

// handleStream upgrades to a WebSocket that pushes frames, boundaries and
// click results and accepts interaction commands.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	updates, cancel := sess.Subscribe()
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	out := make(chan wsOutbound, wsOutboxSize)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writePump(ctx, conn, updates, out)
		stop()
		// unblocks readPump
		_ = conn.Close()
	}()

	// current state first so the client does not wait for the next render
	if f, ok := sess.Frame(); ok {
		s.enqueue(ctx, out, s.frameMessage(f))
	}
	if paths := sess.Boundaries(); len(paths) > 0 {
		s.enqueue(ctx, out, wsOutbound{msg: serverMessage{Type: "boundaries", Paths: paths}})
	}

	s.readPump(ctx, conn, sess, out)
	stop()
	<-done
}

// readPump applies client commands until the connection fails.
func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, sess input.MapSession, out chan<- wsOutbound) {
	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read failed", "session", sess.ID(), "error", err)
			}
			return
		}
		if reply, ok := s.apply(ctx, sess, msg); ok {
			if !s.enqueue(ctx, out, reply) {
				return
			}
		}
	}
}

// apply runs one client command. Commands without a reply return false.
func (s *Server) apply(ctx context.Context, sess input.MapSession, msg clientMessage) (wsOutbound, bool) {
	var err error
	switch msg.Type {
	case "event":
		if msg.Event == nil {
			err = domain.ErrInvalidEvent
			break
		}
		err = sess.HandleEvent(ctx, *msg.Event)
	case "view":
		if msg.View == nil {
			err = &domain.ValidationError{Field: "view", Constraint: "required", Message: "view is required"}
			break
		}
		if err = sess.SetView(ctx, *msg.View); err == nil {
			v := sess.View()
			return wsOutbound{msg: serverMessage{Type: "view", View: &v}}, true
		}
	case "layer":
		var layer domain.RenderParams
		if layer, err = msg.Layer.apply(sess.Layer()); err == nil {
			err = sess.SetLayer(ctx, layer)
		}
	case "resize":
		err = sess.Resize(ctx, msg.Width, msg.Height)
	case "query":
		var info domain.RegionInfo
		if info, err = sess.Query(ctx, msg.X, msg.Y); err == nil {
			return wsOutbound{msg: serverMessage{Type: "region", Region: &info}}, true
		}
	default:
		err = &domain.ValidationError{Field: "type", Value: msg.Type, Constraint: "known command", Message: "unknown command"}
	}
	if err == nil {
		return wsOutbound{}, false
	}
	if errors.Is(err, domain.ErrNoGeographicPoint) {
		return wsOutbound{msg: serverMessage{Type: "region"}}, true
	}
	return wsOutbound{msg: serverMessage{Type: "error", Error: err.Error()}}, true
}

// writePump owns all writes on conn.
func (s *Server) writePump(ctx context.Context, conn *websocket.Conn, updates <-chan input.MapUpdate, out <-chan wsOutbound) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		var next wsOutbound
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				// session closed
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
				return
			}
			next = s.updateMessage(u)
		case next = <-out:
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		}

		if next.msg.Type == "" {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(next.msg); err != nil {
			return
		}
		if next.binary != nil {
			if err := conn.WriteMessage(websocket.BinaryMessage, next.binary); err != nil {
				return
			}
		}
	}
}

func (s *Server) updateMessage(u input.MapUpdate) wsOutbound {
	switch {
	case u.Frame != nil:
		return s.frameMessage(*u.Frame)
	case u.Region != nil:
		return wsOutbound{msg: serverMessage{Type: "region", Region: u.Region}}
	default:
		return wsOutbound{msg: serverMessage{Type: "boundaries", Paths: u.Boundaries}}
	}
}

func (s *Server) frameMessage(f render.Frame) wsOutbound {
	var buf bytes.Buffer
	if err := render.EncodePNG(&buf, f.Image); err != nil {
		s.logger.Error("encoding frame", "error", err)
		return wsOutbound{}
	}
	return wsOutbound{
		msg:    serverMessage{Type: "frame", Frame: formatFrame(f)},
		binary: buf.Bytes(),
	}
}

// enqueue hands a message to the writer. It reports false once the
// connection is shutting down.
func (s *Server) enqueue(ctx context.Context, out chan<- wsOutbound, m wsOutbound) bool {
	select {
	case out <- m:
		return true
	case <-ctx.Done():
		return false
	}
}
