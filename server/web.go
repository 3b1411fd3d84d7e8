package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/zenazn/goji/web"

	"github.com/janelia-flyem/sliceview/chunkmanager"
	"github.com/janelia-flyem/sliceview/mip"
	"github.com/janelia-flyem/sliceview/sv"
)

const (
	// WebAPIPath is the prefix of all HTTP API calls.
	WebAPIPath = "/api/"

	// maximum size of a JSON request body
	maxBodyBytes = 1 << 20
)

const webHelp = `
sliceview HTTP API

POST   /api/sliceview                       create slice view {"name"} -> {"id"}
GET    /api/sliceview/<id>                  describe slice view
DELETE /api/sliceview/<id>                  dispose slice view
POST   /api/sliceview/<id>/view             {"width", "height", "viewportToData": [16], "voxelSize": [3]}
POST   /api/sliceview/<id>/prefetch         {"enabled", "widthMultiplier", "heightMultiplier", "depthSteps"}
POST   /api/sliceview/<id>/visibility       {"visibility": number or "inf"/"-inf"}
POST   /api/sliceview/<id>/layers/<layer>   attach render layer
DELETE /api/sliceview/<id>/layers/<layer>   detach render layer
POST   /api/layer                           create render layer {"volume", "name", "transform": [16], "minMIPLevel", "maxMIPLevel"} -> {"id"}
GET    /api/layer/<id>                      describe render layer
DELETE /api/layer/<id>                      dispose render layer
POST   /api/layer/<id>/transform            {"transform": [16]}
POST   /api/layer/<id>/mip                  {"minMIPLevel", "maxMIPLevel"}
GET    /api/queue                           queued chunk requests in service order
GET    /api/stats                           chunk manager statistics
GET    /metrics                             prometheus metrics
`

const (
	mipProperties = `
		"minMIPLevel": {"type": "integer", "minimum": 0},
		"maxMIPLevel": {"type": "integer", "minimum": 0}`

	transformSchema = `{"type": "array", "items": {"type": "number"}, "minItems": 16, "maxItems": 16}`

	layerSchemaText = `{
	"type": "object",
	"properties": {
		"name": {"type": "string"},
		"volume": {"type": "string", "minLength": 1},
		"transform": ` + transformSchema + `,` + mipProperties + `
	},
	"required": ["volume"],
	"additionalProperties": false
}`

	mipSchemaText = `{
	"type": "object",
	"properties": {` + mipProperties + `
	},
	"additionalProperties": false
}`

	viewSchemaText = `{
	"type": "object",
	"properties": {
		"width": {"type": "integer", "minimum": 0},
		"height": {"type": "integer", "minimum": 0},
		"viewportToData": ` + transformSchema + `,
		"voxelSize": {"type": "array", "items": {"type": "number", "exclusiveMinimum": 0}, "minItems": 3, "maxItems": 3}
	},
	"required": ["width", "height"],
	"additionalProperties": false
}`

	prefetchSchemaText = `{
	"type": "object",
	"properties": {
		"enabled": {"type": "boolean"},
		"widthMultiplier": {"type": "number", "minimum": 1},
		"heightMultiplier": {"type": "number", "minimum": 1},
		"depthSteps": {"type": "integer", "minimum": 0}
	},
	"additionalProperties": false
}`
)

var (
	layerSchema    = jsonschema.MustCompileString("layer.json", layerSchemaText)
	mipSchema      = jsonschema.MustCompileString("mip.json", mipSchemaText)
	viewSchema     = jsonschema.MustCompileString("view.json", viewSchemaText)
	prefetchSchema = jsonschema.MustCompileString("prefetch.json", prefetchSchemaText)

	transformBodySchema = jsonschema.MustCompileString("transform.json",
		`{"type": "object", "properties": {"transform": `+transformSchema+`}, "required": ["transform"], "additionalProperties": false}`)
)

// BadRequest writes an error message with a 400 status and logs it.
func BadRequest(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	errorMsg := fmt.Sprintf(format, args...)
	errorMsg += fmt.Sprintf(" (%s)", r.URL.Path)
	sv.Errorf("%s\n", errorMsg)
	http.Error(w, errorMsg, http.StatusBadRequest)
}

// workerError reports an error returned by the worker with a matching status.
func workerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrViewNotFound), errors.Is(err, ErrLayerNotFound), errors.Is(err, ErrVolumeNotFound):
		sv.Debugf("%v (%s)\n", err, r.URL.Path)
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrWorkerStopped):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		BadRequest(w, r, "%v", err)
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(value); err != nil {
		sv.Errorf("Unable to write JSON response to %s: %v\n", r.URL.Path, err)
	}
}

// decodeJSON reads the request body, validates it against the schema if given, and
// unmarshals it into dest.
func decodeJSON(r *http.Request, schema *jsonschema.Schema, dest interface{}) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("unable to read request body: %v", err)
	}
	if len(data) == 0 {
		data = []byte("{}")
	}
	if schema != nil {
		var raw interface{}
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("malformed JSON request body: %v", err)
		}
		if err := schema.Validate(raw); err != nil {
			return fmt.Errorf("invalid request: %v", err)
		}
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("malformed JSON request body: %v", err)
	}
	return nil
}

type webServer struct {
	worker  *Worker
	manager *chunkmanager.Manager
}

// NewHandler returns the HTTP API for the worker.  Requests from the given CORS
// domains are allowed; "*" allows any.
func NewHandler(worker *Worker, manager *chunkmanager.Manager, corsDomains []string) http.Handler {
	s := &webServer{worker: worker, manager: manager}

	mux := web.New()
	if len(corsDomains) != 0 {
		c := cors.New(cors.Options{
			AllowedOrigins: corsDomains,
			AllowedMethods: []string{"GET", "POST", "DELETE"},
		})
		mux.Use(c.Handler)
	}

	mux.Get("/api/help", s.helpHandler)
	mux.Get("/api/stats", s.statsHandler)
	mux.Get("/api/queue", s.queueHandler)
	mux.Get("/metrics", promhttp.Handler())

	mux.Post("/api/sliceview", s.newViewHandler)
	mux.Get("/api/sliceview/:id", s.describeViewHandler)
	mux.Delete("/api/sliceview/:id", s.disposeViewHandler)
	mux.Post("/api/sliceview/:id/view", s.updateViewHandler)
	mux.Post("/api/sliceview/:id/prefetch", s.prefetchHandler)
	mux.Post("/api/sliceview/:id/visibility", s.visibilityHandler)
	mux.Post("/api/sliceview/:id/layers/:layer", s.addLayerHandler)
	mux.Delete("/api/sliceview/:id/layers/:layer", s.removeLayerHandler)

	mux.Post("/api/layer", s.newLayerHandler)
	mux.Get("/api/layer/:id", s.describeLayerHandler)
	mux.Delete("/api/layer/:id", s.disposeLayerHandler)
	mux.Post("/api/layer/:id/transform", s.transformHandler)
	mux.Post("/api/layer/:id/mip", s.mipHandler)

	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, fmt.Sprintf("unknown sliceview endpoint %q; see %shelp", r.URL.Path, WebAPIPath), http.StatusNotFound)
	})
	mux.Compile()
	return mux
}

// send forwards a message to the worker and writes any error.  It returns false on error.
func (s *webServer) send(w http.ResponseWriter, r *http.Request, msg interface{}) (interface{}, bool) {
	value, err := s.worker.Send(r.Context(), msg)
	if err != nil {
		workerError(w, r, err)
		return nil, false
	}
	return value, true
}

func (s *webServer) sendAndReturn(w http.ResponseWriter, r *http.Request, msg interface{}) {
	value, ok := s.send(w, r, msg)
	if !ok {
		return
	}
	if value == nil {
		value = map[string]string{"result": "ok"}
	}
	writeJSON(w, r, value)
}

func (s *webServer) helpHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, webHelp)
}

func (s *webServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	cfg := s.manager.Config()
	stats := struct {
		chunkmanager.Stats
		CacheSize string `json:"cache_size"`
	}{
		Stats:     s.manager.Stats(),
		CacheSize: humanize.Bytes(uint64(cfg.CacheMB) << 20),
	}
	writeJSON(w, r, stats)
}

type queuedRequest struct {
	Chunk    string  `json:"chunk"`
	Source   string  `json:"source"`
	Tier     string  `json:"tier"`
	Priority float64 `json:"priority"`
}

func (s *webServer) queueHandler(w http.ResponseWriter, r *http.Request) {
	limit := -1
	if str := r.URL.Query().Get("limit"); str != "" {
		n, err := strconv.Atoi(str)
		if err != nil || n < 0 {
			BadRequest(w, r, "bad limit %q", str)
			return
		}
		limit = n
	}
	reqs := s.manager.Queue()
	if limit >= 0 && limit < len(reqs) {
		reqs = reqs[:limit]
	}
	out := make([]queuedRequest, len(reqs))
	for i, req := range reqs {
		out[i] = queuedRequest{
			Chunk:    req.Chunk.Position().String(),
			Source:   req.Chunk.Source().Name(),
			Tier:     req.Tier.String(),
			Priority: req.Priority,
		}
	}
	writeJSON(w, r, out)
}

func (s *webServer) newViewHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, nil, &req); err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	value, ok := s.send(w, r, NewSliceView{Name: req.Name})
	if !ok {
		return
	}
	writeJSON(w, r, map[string]interface{}{"id": value})
}

func (s *webServer) describeViewHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	s.sendAndReturn(w, r, DescribeView{View: c.URLParams["id"]})
}

func (s *webServer) disposeViewHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	s.sendAndReturn(w, r, DisposeSliceView{View: c.URLParams["id"]})
}

func (s *webServer) updateViewHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	var req struct {
		Width          int        `json:"width"`
		Height         int        `json:"height"`
		ViewportToData []float64  `json:"viewportToData"`
		VoxelSize      [3]float64 `json:"voxelSize"`
	}
	req.VoxelSize = [3]float64{1, 1, 1}
	if err := decodeJSON(r, viewSchema, &req); err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	s.sendAndReturn(w, r, UpdateView{
		View:           c.URLParams["id"],
		Width:          req.Width,
		Height:         req.Height,
		ViewportToData: req.ViewportToData,
		VoxelSize:      req.VoxelSize,
	})
}

func (s *webServer) prefetchHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled          *bool    `json:"enabled"`
		WidthMultiplier  *float64 `json:"widthMultiplier"`
		HeightMultiplier *float64 `json:"heightMultiplier"`
		DepthSteps       *int     `json:"depthSteps"`
	}
	if err := decodeJSON(r, prefetchSchema, &req); err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	s.sendAndReturn(w, r, SetPrefetch{
		View:             c.URLParams["id"],
		Enabled:          req.Enabled,
		WidthMultiplier:  req.WidthMultiplier,
		HeightMultiplier: req.HeightMultiplier,
		DepthSteps:       req.DepthSteps,
	})
}

// parseVisibility accepts a JSON number or a string such as "inf" or "-inf".
func parseVisibility(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("bad visibility %q", v)
		}
		if math.IsNaN(f) {
			return 0, fmt.Errorf("visibility cannot be NaN")
		}
		return f, nil
	default:
		return 0, fmt.Errorf("visibility must be a number or infinity string, got %v", value)
	}
}

func (s *webServer) visibilityHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	var req struct {
		Visibility interface{} `json:"visibility"`
	}
	if err := decodeJSON(r, nil, &req); err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	visibility, err := parseVisibility(req.Visibility)
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	s.sendAndReturn(w, r, SetVisibility{View: c.URLParams["id"], Visibility: visibility})
}

func (s *webServer) addLayerHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	s.sendAndReturn(w, r, AddVisibleLayer{View: c.URLParams["id"], Layer: c.URLParams["layer"]})
}

func (s *webServer) removeLayerHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	s.sendAndReturn(w, r, RemoveVisibleLayer{View: c.URLParams["id"], Layer: c.URLParams["layer"]})
}

func (s *webServer) newLayerHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string    `json:"name"`
		Volume    string    `json:"volume"`
		Transform []float64 `json:"transform"`
		mip.State
	}
	if err := decodeJSON(r, layerSchema, &req); err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	value, ok := s.send(w, r, NewRenderLayer{
		Name:      req.Name,
		Volume:    req.Volume,
		Transform: req.Transform,
		MIP:       req.State,
	})
	if !ok {
		return
	}
	writeJSON(w, r, map[string]interface{}{"id": value})
}

func (s *webServer) describeLayerHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	s.sendAndReturn(w, r, DescribeLayer{Layer: c.URLParams["id"]})
}

func (s *webServer) disposeLayerHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	s.sendAndReturn(w, r, DisposeRenderLayer{Layer: c.URLParams["id"]})
}

func (s *webServer) transformHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	var req struct {
		Transform []float64 `json:"transform"`
	}
	if err := decodeJSON(r, transformBodySchema, &req); err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	s.sendAndReturn(w, r, UpdateLayerTransform{Layer: c.URLParams["id"], Transform: req.Transform})
}

func (s *webServer) mipHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	var state mip.State
	if err := decodeJSON(r, mipSchema, &state); err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	s.sendAndReturn(w, r, UpdateMIPLevelConstraints{Layer: c.URLParams["id"], MIP: state})
}
