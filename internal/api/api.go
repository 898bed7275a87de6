// Package api serves route planning over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/noflyroute/internal/export"
	"github.com/sells-group/noflyroute/internal/geo"
	"github.com/sells-group/noflyroute/internal/metrics"
	"github.com/sells-group/noflyroute/internal/pipeline"
	"github.com/sells-group/noflyroute/internal/route"
	"github.com/sells-group/noflyroute/internal/routeerr"
)

// maxBody caps plan request bodies.
const maxBody = 1 << 16

// Options configures the router.
type Options struct {
	// Multiplier is used for penalize requests that omit one.
	Multiplier float64
	// AllowedOrigins feeds CORS; empty allows any origin.
	AllowedOrigins []string
	// Timeout bounds each request.
	Timeout time.Duration
	// Metrics, when set, is served on /metrics.
	Metrics *metrics.Collector
}

type server struct {
	scene *pipeline.Scene
	opts  Options
}

// NewRouter returns the HTTP handler for scene.
func NewRouter(scene *pipeline.Scene, opts Options) http.Handler {
	if opts.Multiplier < 1 {
		opts.Multiplier = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s := &server{scene: scene, opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.Timeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/plan", s.plan)
		r.Get("/zones", s.zones)
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}
	return r
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"region": s.scene.Region.String(),
		"nodes":  s.scene.Graph.Len(),
		"edges":  s.scene.Graph.EdgeCount(),
		"zones":  s.scene.Zones.Len(),
	})
}

// PlanRequest is the POST /v1/plan body.
type PlanRequest struct {
	Origin      *geo.Coordinate `json:"origin"`
	Destination *geo.Coordinate `json:"destination"`
	Policy      string          `json:"policy"`
	Multiplier  float64         `json:"multiplier"`
	ClipZones   bool            `json:"clip_zones"`
}

// PlanResponse is the POST /v1/plan result.
type PlanResponse struct {
	RunID   string          `json:"run_id,omitempty"`
	Nodes   []int64         `json:"nodes"`
	LengthM float64         `json:"length_m"`
	Cost    float64         `json:"cost"`
	Route   json.RawMessage `json:"route"`
	Zones   json.RawMessage `json:"zones"`
}

func (s *server) plan(w http.ResponseWriter, r *http.Request) {
	var body PlanRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid request body: "+err.Error())
		return
	}
	if body.Origin == nil || body.Destination == nil {
		writeError(w, http.StatusBadRequest, "", "origin and destination are required")
		return
	}
	c, err := s.constraint(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "", err.Error())
		return
	}

	res, err := s.scene.Plan(r.Context(), pipeline.PlanRequest{
		Origin:      *body.Origin,
		Destination: *body.Destination,
		Constraint:  c,
		ClipZones:   body.ClipZones,
	})
	if err != nil {
		writeRouteError(w, err)
		return
	}

	routeJSON, err := export.Encode(res.RouteFC)
	if err != nil {
		writeRouteError(w, err)
		return
	}
	zonesJSON, err := export.Encode(res.ZonesFC)
	if err != nil {
		writeRouteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PlanResponse{
		RunID:   res.RunID,
		Nodes:   res.Route.Nodes,
		LengthM: res.Route.Length,
		Cost:    res.Route.Cost,
		Route:   routeJSON,
		Zones:   zonesJSON,
	})
}

func (s *server) constraint(body PlanRequest) (route.Constraint, error) {
	if body.Policy == "" {
		body.Policy = route.Exclude.String()
	}
	p, err := route.ParsePolicy(body.Policy)
	if err != nil {
		return route.Constraint{}, err
	}
	if p == route.Exclude {
		return route.ExcludeZones(), nil
	}
	m := body.Multiplier
	if m == 0 {
		m = s.opts.Multiplier
	}
	c := route.PenalizeZones(m)
	return c, c.Validate()
}

func (s *server) zones(w http.ResponseWriter, r *http.Request) {
	zones := s.scene.Zones.Zones()
	if raw := r.URL.Query().Get("bbox"); raw != "" {
		box, err := parseBBox(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "", err.Error())
			return
		}
		zones = zones[:0]
		for z := range s.scene.Zones.Overlapping(box) {
			zones = append(zones, z)
		}
	}
	data, err := export.Encode(export.ExportZones(zones))
	if err != nil {
		writeRouteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// parseBBox reads "minLng,minLat,maxLng,maxLat".
func parseBBox(raw string) (geo.BBox, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return geo.BBox{}, eris.Errorf("bbox needs 4 comma-separated numbers, got %q", raw)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geo.BBox{}, eris.Wrapf(err, "bbox value %q", p)
		}
		v[i] = f
	}
	box := geo.BBox{MinLng: v[0], MinLat: v[1], MaxLng: v[2], MaxLat: v[3]}
	if !box.Valid() {
		return geo.BBox{}, eris.Errorf("bbox %q is empty or out of range", raw)
	}
	return box, nil
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	switch routeerr.KindOf(err) {
	case routeerr.InvalidEndpoints, routeerr.InvalidGeometry, routeerr.InvalidConstraint:
		return http.StatusBadRequest
	case routeerr.NoPathFound:
		return http.StatusNotFound
	case routeerr.EmptyRoute:
		return http.StatusUnprocessableEntity
	case routeerr.AcquisitionError:
		return http.StatusBadGateway
	case routeerr.EmptyGraph, routeerr.DisconnectedInput:
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeRouteError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("api: request failed", zap.Error(err))
	}
	writeError(w, status, string(routeerr.KindOf(err)), err.Error())
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: write response", zap.Error(err))
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
