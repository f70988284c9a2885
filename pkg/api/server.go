package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/stratum/pkg/action"
	"github.com/cuemby/stratum/pkg/events"
	"github.com/cuemby/stratum/pkg/log"
	"github.com/cuemby/stratum/pkg/manager"
	"github.com/cuemby/stratum/pkg/metrics"
	"github.com/cuemby/stratum/pkg/types"
	"github.com/rs/zerolog"
)

// Dispatcher queues actions and reports on its queue
type Dispatcher interface {
	Post(a action.Action, ctx *action.Context) *action.Context
	PostActions(actions []action.Action, source types.ActionSource) []*action.Context
	IsBusy() bool
	Pending() int
	LastCompleted() time.Time
}

// EventSource hands out event subscriptions
type EventSource interface {
	Subscribe() events.Subscriber
	Unsubscribe(sub events.Subscriber)
}

// Server serves the automation endpoints
type Server struct {
	registry   *action.Registry
	dispatcher Dispatcher
	layers     *manager.Manager
	events     EventSource
	mux        *http.ServeMux
	server     *http.Server
	logger     zerolog.Logger
}

// NewServer creates a new HTTP server. layers and source may be nil, in which
// case the snapshot and event endpoints answer 503.
func NewServer(reg *action.Registry, disp Dispatcher, layers *manager.Manager, source EventSource) *Server {
	mux := http.NewServeMux()
	s := &Server{
		registry:   reg,
		dispatcher: disp,
		layers:     layers,
		events:     source,
		mux:        mux,
		logger:     log.WithComponent("api"),
	}

	// Register endpoints
	mux.HandleFunc("/v1/actions", s.actionsHandler)
	mux.HandleFunc("/v1/actions/batch", s.batchHandler)
	mux.HandleFunc("/v1/status", s.statusHandler)
	mux.HandleFunc("/v1/events", s.eventsHandler)
	mux.HandleFunc("/v1/layers", s.layersHandler)
	mux.HandleFunc("/v1/scene", s.sceneHandler)
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	mux.Handle("/metrics", metrics.Handler())

	return s
}

// Start listens on addr until Shutdown is called
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight requests until ctx is done
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for embedding in other servers
func (s *Server) Handler() http.Handler {
	return s.mux
}

// SubmitRequest is the body of POST /v1/actions
type SubmitRequest struct {
	Command string `json:"command"`
	Wait    bool   `json:"wait,omitempty"`
}

// BatchRequest is the body of POST /v1/actions/batch. The commands are
// queued together, in order, once all of them parsed.
type BatchRequest struct {
	Commands []string `json:"commands"`
	Wait     bool     `json:"wait,omitempty"`
}

// StatusResponse reports the dispatch queue
type StatusResponse struct {
	Busy          bool       `json:"busy"`
	Pending       int        `json:"pending"`
	LastCompleted *time.Time `json:"last_completed,omitempty"`
}

// EventView is one line of the GET /v1/events stream
type EventView struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ActionResponse reports a submitted action
type ActionResponse struct {
	ID       string   `json:"id"`
	Action   string   `json:"action"`
	Status   string   `json:"status"`
	Done     bool     `json:"done"`
	Error    string   `json:"error,omitempty"`
	Layers   []string `json:"layers,omitempty"`
	Messages []string `json:"messages,omitempty"`
}

// LayerView is one live layer in GET /v1/layers
type LayerView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Kind         string `json:"kind"`
	State        string `json:"state"`
	ProvenanceID int64  `json:"provenance_id"`
	Generation   uint64 `json:"generation"`
	Active       bool   `json:"active,omitempty"`
}

// GroupView is one live group, front group first
type GroupView struct {
	ID     string      `json:"id"`
	Grid   string      `json:"grid"`
	Layers []LayerView `json:"layers"`
}

// SceneEntry is the render state of one visible layer
type SceneEntry struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Kind       string  `json:"kind"`
	GroupID    string  `json:"group_id"`
	Opacity    float64 `json:"opacity"`
	Color      int     `json:"color"`
	Active     bool    `json:"active,omitempty"`
	Generation uint64  `json:"generation"`
	Dims       [3]int  `json:"dims"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

// actionsHandler implements /v1/actions
func (s *Server) actionsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.registry.Names())
	case http.MethodPost:
		s.submit(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	a, err := s.registry.Parse(req.Command)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	actx := s.dispatcher.Post(a, action.NewContext(types.SourceScript))
	s.logger.Debug().
		Str("action", a.Name()).
		Str("context_id", actx.ID()).
		Bool("wait", req.Wait).
		Msg("Action submitted")

	if !req.Wait {
		writeJSON(w, http.StatusAccepted, pending(a, actx))
		return
	}

	resp, timedOut := await(r.Context(), a, actx)
	if timedOut {
		writeJSON(w, http.StatusGatewayTimeout, resp)
		return
	}
	writeJSON(w, statusCode(types.ActionStatus(resp.Status)), resp)
}

// batchHandler implements POST /v1/actions/batch. Waiting batches answer 200
// with every outcome; the caller inspects each status.
func (s *Server) batchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if len(req.Commands) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("no commands"))
		return
	}

	acts := make([]action.Action, 0, len(req.Commands))
	for i, cmd := range req.Commands {
		a, err := s.registry.Parse(cmd)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("command %d: %w", i+1, err))
			return
		}
		acts = append(acts, a)
	}

	ctxs := s.dispatcher.PostActions(acts, types.SourceScript)
	s.logger.Debug().Int("actions", len(acts)).Bool("wait", req.Wait).Msg("Batch submitted")

	out := make([]ActionResponse, len(acts))
	if !req.Wait {
		for i, a := range acts {
			out[i] = pending(a, ctxs[i])
		}
		writeJSON(w, http.StatusAccepted, out)
		return
	}

	code := http.StatusOK
	for i, a := range acts {
		resp, timedOut := await(r.Context(), a, ctxs[i])
		out[i] = resp
		if timedOut {
			code = http.StatusGatewayTimeout
		}
	}
	writeJSON(w, code, out)
}

func pending(a action.Action, actx *action.Context) ActionResponse {
	return ActionResponse{
		ID:     actx.ID(),
		Action: a.Name(),
		Status: string(types.StatusPending),
	}
}

// await waits for an action and its asynchronous work. It reports true when
// ctx ended first.
func await(ctx context.Context, a action.Action, actx *action.Context) (ActionResponse, bool) {
	resp := ActionResponse{ID: actx.ID(), Action: a.Name()}
	err := actx.Wait(ctx)
	if err == nil {
		if res := actx.Result(); res != nil {
			err = res.Wait(ctx)
			resp.Layers = res.Layers()
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		resp.Status = string(types.StatusPending)
		resp.Error = err.Error()
		return resp, true
	}

	status := actx.Status()
	if err != nil && status == types.StatusSuccess {
		status = types.StatusError
	}
	resp.Status = string(status)
	resp.Done = true
	resp.Messages = actx.Messages()
	if err != nil {
		resp.Error = err.Error()
	}
	return resp, false
}

func statusCode(status types.ActionStatus) int {
	switch status {
	case types.StatusSuccess:
		return http.StatusOK
	case types.StatusInvalid:
		return http.StatusUnprocessableEntity
	case types.StatusUnavailable:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// statusHandler implements /v1/status
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("dispatcher not initialized"))
		return
	}

	resp := StatusResponse{
		Busy:    s.dispatcher.IsBusy(),
		Pending: s.dispatcher.Pending(),
	}
	if last := s.dispatcher.LastCompleted(); !last.IsZero() {
		resp.LastCompleted = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

// eventsHandler implements /v1/events, streaming one JSON event per line
// until the client goes away
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("event broker not initialized"))
		return
	}

	sub := s.events.Subscribe()
	defer s.events.Unsubscribe(sub)

	rc := http.NewResponseController(w)
	// The stream outlives the server write timeout
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.logger.Warn().Err(err).Msg("Event stream cannot be flushed")
		return
	}
	s.logger.Debug().Str("remote", r.RemoteAddr).Msg("Event stream opened")

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug().Str("remote", r.RemoteAddr).Msg("Event stream closed")
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if err := enc.Encode(eventView(ev)); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func eventView(ev *events.Event) EventView {
	return EventView{
		ID:        ev.ID,
		Type:      string(ev.Type),
		Timestamp: ev.Timestamp,
		Message:   ev.Message,
		Metadata:  ev.Metadata,
	}
}

// layersHandler implements /v1/layers
func (s *Server) layersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.layers == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("layer manager not initialized"))
		return
	}

	tree, err := s.layers.LayerTree(types.LiveSandbox)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]GroupView, 0, len(tree))
	for _, g := range tree {
		gv := GroupView{ID: g.ID, Grid: g.Grid.String(), Layers: make([]LayerView, 0, len(g.Layers))}
		for _, l := range g.Layers {
			gv.Layers = append(gv.Layers, LayerView{
				ID:           l.ID,
				Name:         l.Name,
				Kind:         l.Kind.String(),
				State:        string(l.State),
				ProvenanceID: int64(l.ProvenanceID),
				Generation:   l.Generation,
				Active:       l.Active,
			})
		}
		out = append(out, gv)
	}
	writeJSON(w, http.StatusOK, out)
}

// sceneHandler implements /v1/scene?viewer=N
func (s *Server) sceneHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.layers == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("layer manager not initialized"))
		return
	}

	viewer := 0
	if v := r.URL.Query().Get("viewer"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid viewer %q", v))
			return
		}
		viewer = n
	}

	scene := s.layers.ComposeLayerScene(viewer)
	out := make([]SceneEntry, 0, len(scene))
	for _, sl := range scene {
		e := SceneEntry{
			ID:         sl.ID,
			Name:       sl.Name,
			Kind:       sl.Kind.String(),
			GroupID:    sl.GroupID,
			Opacity:    sl.Opacity,
			Color:      sl.Color,
			Active:     sl.Active,
			Generation: sl.Generation,
		}
		if sl.Data != nil {
			e.Dims = sl.Data.Dims
		}
		out = append(out, e)
	}
	writeJSON(w, http.StatusOK, out)
}
