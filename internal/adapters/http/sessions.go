package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/jobrunner/climap/internal/domain"
	"github.com/jobrunner/climap/internal/ports/input"
	"github.com/jobrunner/climap/internal/render"
	"github.com/jobrunner/climap/internal/viewport"
)

// createSessionRequest is the body of POST /sessions.
type createSessionRequest struct {
	Width      int           `json:"width"`
	Height     int           `json:"height"`
	PixelRatio float64       `json:"pixel_ratio"`
	Layer      *layerRequest `json:"layer"`
}

type sizeRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// handleCreateSession opens a map session.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.writeServiceError(w, err)
			return
		}
	}

	opts := input.SessionOptions{Width: req.Width, Height: req.Height, PixelRatio: req.PixelRatio}
	if req.Layer != nil {
		layer, err := req.Layer.apply(s.services.DefaultLayer)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		opts.Layer = &layer
	}

	sess, err := s.services.Maps.CreateSession(r.Context(), opts)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/sessions/"+sess.ID())
	s.writeJSON(w, http.StatusCreated, formatSession(sess))
}

// handleGetSession returns the session state.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, formatSession(sess))
}

// handleCloseSession closes a session.
func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.services.Maps.CloseSession(mux.Vars(r)["sessionId"]); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetView returns the current view.
func (s *Server) handleGetView(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, sess.View())
}

// handleSetView jumps to a view. The response carries the clamped view.
func (s *Server) handleSetView(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var view domain.ViewState
	if err := decodeJSON(r, &view); err != nil {
		s.writeServiceError(w, err)
		return
	}
	if err := sess.SetView(r.Context(), view); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess.View())
}

// handleSetLayer applies a partial layer update.
func (s *Server) handleSetLayer(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req layerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, err)
		return
	}
	layer, err := req.apply(sess.Layer())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if err := sess.SetLayer(r.Context(), layer); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, formatLayer(sess.Layer()))
}

// handleResize changes the render surface.
func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req sizeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, err)
		return
	}
	if err := sess.Resize(r.Context(), req.Width, req.Height); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEvents applies a batch of pointer and wheel events in order. A
// single event object is accepted as well.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var batch eventBatch
	if err := decodeJSON(r, &batch); err != nil {
		s.writeServiceError(w, err)
		return
	}
	for _, e := range batch {
		if err := sess.HandleEvent(r.Context(), e); err != nil {
			s.writeServiceError(w, err)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, sess.View())
}

// handleFrame returns the latest committed frame as PNG.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	frame, ok := sess.Frame()
	if !ok {
		// first frame still rendering
		w.Header().Set("Retry-After", "1")
		s.writeError(w, http.StatusServiceUnavailable, "No frame rendered yet")
		return
	}
	setFrameHeaders(w, frame)
	s.writePNG(w, frame.Image, "no-cache")
}

// handleBoundaries returns the boundary paths of the latest full frame.
func (s *Server) handleBoundaries(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	paths := sess.Boundaries()
	if paths == nil {
		paths = []domain.Path{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"paths": paths,
		"count": len(paths),
	})
}

// handleQuery returns the value under a client pixel.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	if !q.Has("x") || !q.Has("y") {
		s.writeError(w, http.StatusBadRequest, "x and y are required")
		return
	}
	x, err := floatParam(q, "x", 0)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	y, err := floatParam(q, "y", 0)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	info, err := sess.Query(r.Context(), x, y)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

// session resolves the session of the request or writes the error.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (input.MapSession, bool) {
	sess, err := s.services.Maps.Session(mux.Vars(r)["sessionId"])
	if err != nil {
		s.writeServiceError(w, err)
		return nil, false
	}
	return sess, true
}

func formatSession(sess input.MapSession) map[string]interface{} {
	out := map[string]interface{}{
		"id":    sess.ID(),
		"view":  sess.View(),
		"layer": formatLayer(sess.Layer()),
	}
	if f, ok := sess.Frame(); ok {
		out["frame"] = formatFrame(f)
	}
	return out
}

// formatLayer adds the shading name, which RenderParams does not encode.
func formatLayer(p domain.RenderParams) map[string]interface{} {
	return map[string]interface{}{
		"dataset_id": p.DatasetID,
		"ramp":       p.Ramp,
		"opacity":    p.Alpha(),
		"shading":    p.Shading.String(),
		"smooth":     p.Smooth,
		"block_step": p.BlockStep,
		"show_base":  p.ShowBase,
		"overlays":   p.Overlays,
	}
}

func formatFrame(f render.Frame) map[string]interface{} {
	b := f.Image.Bounds()
	return map[string]interface{}{
		"token":       f.Token,
		"quality":     f.Quality.String(),
		"downsample":  f.Downsample,
		"final":       f.Final,
		"width":       b.Dx(),
		"height":      b.Dy(),
		"view":        f.View,
		"triangles":   f.Triangles,
		"duration_ms": f.Duration.Milliseconds(),
	}
}

func setFrameHeaders(w http.ResponseWriter, f render.Frame) {
	h := w.Header()
	h.Set("X-Frame-Token", strconv.FormatUint(uint64(f.Token), 10))
	h.Set("X-Frame-Quality", f.Quality.String())
	h.Set("X-Frame-Downsample", strconv.Itoa(f.Downsample))
	h.Set("X-Frame-Final", strconv.FormatBool(f.Final))
}

// eventBatch decodes either one event or an array of events.
type eventBatch []viewport.Event

func (b *eventBatch) UnmarshalJSON(data []byte) error {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		var events []viewport.Event
		if err := json.Unmarshal(data, &events); err != nil {
			return err
		}
		*b = events
		return nil
	}
	var e viewport.Event
	if err := json.Unmarshal(data, &e); err != nil {
		return err
	}
	*b = eventBatch{e}
	return nil
}
