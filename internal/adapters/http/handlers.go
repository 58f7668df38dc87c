package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/jobrunner/climap/internal/application"
	"github.com/jobrunner/climap/internal/domain"
	"github.com/jobrunner/climap/internal/render"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// handleHealth returns detailed health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	details := s.services.Health.GetHealthDetails(r.Context())

	status := http.StatusOK
	if !details.Healthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":          boolToStatus(details.Healthy),
		"ready":           details.Ready,
		"datasets_loaded": details.DatasetsLoaded,
		"datasets_ready":  details.DatasetsReady,
		"sessions":        details.Sessions,
		"components":      details.Components,
	})
}

// handleLiveness returns liveness status.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.services.Health.IsHealthy(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

// handleReadiness returns readiness status.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.services.Health.IsReady(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
}

// handleListDatasets returns all registered datasets.
func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	datasets, err := s.services.Registry.ListDatasets(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	response := make([]map[string]interface{}, len(datasets))
	for i := range datasets {
		response[i] = formatDataset(&datasets[i])
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"datasets": response,
		"count":    len(datasets),
	})
}

// handleGetDataset returns one dataset.
func (s *Server) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	ds, err := s.services.Registry.GetDataset(r.Context(), mux.Vars(r)["datasetId"])
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, formatDataset(ds))
}

// handleSync handles the sync trigger endpoint.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	result, err := s.services.Sync.TriggerSync(r.Context())
	if err != nil {
		if errors.Is(err, application.ErrRateLimited) {
			w.Header().Set("Retry-After", strconv.Itoa(int(application.SyncCooldown.Seconds())))
			s.writeError(w, http.StatusTooManyRequests, "Rate limit exceeded, try again later")
			return
		}
		s.logger.Error("sync failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Sync failed")
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleRender renders one PNG without opening a session. The layer is
// taken from the query string on top of the default layer.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	layer, err := layerFromQuery(q, s.services.DefaultLayer)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	width, err := intParam(q, "width", 0)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	height, err := intParam(q, "height", 0)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	view := domain.DefaultView()
	if view.Scale, err = floatParam(q, "scale", view.Scale); err != nil {
		s.writeServiceError(w, err)
		return
	}
	if view.Offset.X, err = floatParam(q, "offset_x", 0); err != nil {
		s.writeServiceError(w, err)
		return
	}
	if view.Offset.Y, err = floatParam(q, "offset_y", 0); err != nil {
		s.writeServiceError(w, err)
		return
	}

	img, err := s.services.Renderer.RenderImage(r.Context(), layer, view, width, height)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writePNG(w, img, "no-store")
}

// handleOpenAPI returns the OpenAPI specification.
func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	spec, err := getOpenAPIJSON()
	if err != nil {
		s.logger.Error("failed to get OpenAPI spec", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load OpenAPI specification")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(spec)
}

// formatDataset formats a dataset for JSON output.
func formatDataset(ds *domain.Dataset) map[string]interface{} {
	out := map[string]interface{}{
		"id":          ds.ID,
		"name":        ds.Name,
		"units":       ds.Units,
		"description": ds.Description,
		"path":        ds.Path,
		"size":        ds.Size,
		"ready":       ds.IsReady(),
		"loaded_at":   ds.LoadedAt,
	}
	if g := ds.Grid; g != nil {
		out["rows"] = g.Rows()
		out["cols"] = g.Cols()
		out["version"] = g.Version
		if !math.IsNaN(g.Min) && !math.IsNaN(g.Max) {
			out["range"] = map[string]float64{"min": g.Min, "max": g.Max}
		}
		out["extent"] = ds.Extent()
	}
	if !ds.License.IsEmpty() {
		out["license"] = ds.License
	}
	return out
}

// layerRequest is a partial layer update. Unset fields keep their value.
type layerRequest struct {
	DatasetID *string  `json:"dataset_id"`
	Ramp      *string  `json:"ramp"`
	Opacity   *float64 `json:"opacity"`
	Shading   *string  `json:"shading"`
	Smooth    *bool    `json:"smooth"`
	BlockStep *int     `json:"block_step"`
	ShowBase  *bool    `json:"show_base"`

	Overlays *[]domain.OverlayRef `json:"overlays"`
}

func (l *layerRequest) apply(base domain.RenderParams) (domain.RenderParams, error) {
	if l == nil {
		return base, nil
	}
	if l.DatasetID != nil {
		base.DatasetID = *l.DatasetID
	}
	if l.Ramp != nil {
		base.Ramp = *l.Ramp
	}
	if l.Opacity != nil {
		v := *l.Opacity
		base.Opacity = &v
	}
	if l.Shading != nil {
		shading, err := domain.ParseShading(*l.Shading)
		if err != nil {
			return base, err
		}
		base.Shading = shading
	}
	if l.Smooth != nil {
		base.Smooth = *l.Smooth
	}
	if l.BlockStep != nil {
		base.BlockStep = *l.BlockStep
	}
	if l.ShowBase != nil {
		base.ShowBase = *l.ShowBase
	}
	if l.Overlays != nil {
		base.Overlays = *l.Overlays
	}
	return base, nil
}

// layerFromQuery reads layer fields from URL parameters.
func layerFromQuery(q url.Values, base domain.RenderParams) (domain.RenderParams, error) {
	var req layerRequest
	if q.Has("dataset") {
		v := q.Get("dataset")
		req.DatasetID = &v
	}
	if q.Has("ramp") {
		v := q.Get("ramp")
		req.Ramp = &v
	}
	if q.Has("shading") {
		v := q.Get("shading")
		req.Shading = &v
	}
	if q.Has("opacity") {
		v, err := floatParam(q, "opacity", 0)
		if err != nil {
			return base, err
		}
		req.Opacity = &v
	}
	if q.Has("block_step") {
		v, err := intParam(q, "block_step", 0)
		if err != nil {
			return base, err
		}
		req.BlockStep = &v
	}
	for name, dst := range map[string]**bool{"smooth": &req.Smooth, "base": &req.ShowBase} {
		if !q.Has(name) {
			continue
		}
		v, err := strconv.ParseBool(q.Get(name))
		if err != nil {
			return base, invalidParam(name, q.Get(name))
		}
		*dst = &v
	}
	if keys := q["overlay"]; len(keys) > 0 {
		refs := make([]domain.OverlayRef, len(keys))
		for i, key := range keys {
			refs[i] = domain.OverlayRef{Key: key}
		}
		req.Overlays = &refs
	}
	return req.apply(base)
}

func floatParam(q url.Values, name string, def float64) (float64, error) {
	raw := q.Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, invalidParam(name, raw)
	}
	return v, nil
}

func intParam(q url.Values, name string, def int) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalidParam(name, raw)
	}
	return v, nil
}

func invalidParam(name, raw string) error {
	return &domain.ValidationError{
		Field:      name,
		Value:      raw,
		Constraint: "number",
		Message:    fmt.Sprintf("invalid %s parameter", name),
	}
}

// decodeJSON decodes a bounded request body into v.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &domain.ValidationError{
			Field:      "body",
			Value:      nil,
			Constraint: "JSON",
			Message:    err.Error(),
		}
	}
	return nil
}

// writeServiceError maps application errors to HTTP status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		s.writeError(w, http.StatusBadRequest, validationErr.Message)
	case errors.Is(err, domain.ErrInvalidInput):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Internal error")
	}
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

// writePNG encodes img before writing headers so encoding failures still
// produce a proper error response.
func (s *Server) writePNG(w http.ResponseWriter, img image.Image, cacheControl string) {
	var buf bytes.Buffer
	if err := render.EncodePNG(&buf, img); err != nil {
		s.logger.Error("encoding frame", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Encoding failed")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("Cache-Control", cacheControl)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func boolToStatus(b bool) string {
	if b {
		return "ok"
	}
	return "unhealthy"
}
