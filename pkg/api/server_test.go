package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuemby/stratum/pkg/action"
	"github.com/cuemby/stratum/pkg/actions"
	"github.com/cuemby/stratum/pkg/dispatcher"
	"github.com/cuemby/stratum/pkg/events"
	"github.com/cuemby/stratum/pkg/manager"
	"github.com/cuemby/stratum/pkg/provenance"
	"github.com/cuemby/stratum/pkg/types"
	"github.com/cuemby/stratum/pkg/undo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *manager.Manager) {
	t.Helper()
	s, mgr, _ := newBrokeredServer(t)
	return s, mgr
}

func newBrokeredServer(t *testing.T) (*Server, *manager.Manager, *events.Broker) {
	t.Helper()
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	mgr := manager.New(broker)
	disp := dispatcher.New()
	disp.Start()
	t.Cleanup(disp.Stop)

	prov := provenance.NewLog(nil, nil, "api")
	env := &actions.Env{
		Layers:     mgr,
		Dispatcher: disp,
		Undo:       undo.NewBuffer(undo.Config{Layers: mgr, Provenance: prov, Executor: disp}),
		Provenance: prov,
		Registry:   action.NewRegistry(),
	}
	actions.Register(env)
	return NewServer(env.Registry, disp, mgr, broker), mgr, broker
}

func postCommand(t *testing.T, s *Server, command string, wait bool) (*httptest.ResponseRecorder, ActionResponse) {
	t.Helper()
	body, err := json.Marshal(SubmitRequest{Command: command, Wait: wait})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/actions", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var resp ActionResponse
	if w.Code != http.StatusBadRequest {
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	}
	return w, resp
}

func TestSubmitAndWait(t *testing.T) {
	s, mgr := newTestServer(t)

	w, resp := postCommand(t, s, "CreateLayer name='base' dims='4,4,2' value='0.75'", true)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, actions.NameCreateLayer, resp.Action)
	assert.Equal(t, string(types.StatusSuccess), resp.Status)
	assert.True(t, resp.Done)
	assert.Empty(t, resp.Error)
	require.Len(t, resp.Layers, 1)

	l, err := mgr.GetLayer(resp.Layers[0], types.LiveSandbox)
	require.NoError(t, err)
	assert.Equal(t, "base", l.Name)
	assert.True(t, l.HasData())
}

func TestSubmitStatusCodes(t *testing.T) {
	s, _ := newTestServer(t)
	w, _ := postCommand(t, s, "CreateLayer name='base' dims='4,4,2' value='0.5'", true)
	require.Equal(t, http.StatusOK, w.Code)

	tests := []struct {
		name       string
		command    string
		wantCode   int
		wantStatus types.ActionStatus
	}{
		{
			name:     "unknown action",
			command:  "Sharpen target='layer_1'",
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "malformed params",
			command:  "Threshold target='layer_1",
			wantCode: http.StatusBadRequest,
		},
		{
			name:       "missing layer",
			command:    "Invert target='layer_99'",
			wantCode:   http.StatusUnprocessableEntity,
			wantStatus: types.StatusInvalid,
		},
		{
			name:       "threshold out of range",
			command:    "Threshold target='layer_1' lower='2' upper='3'",
			wantCode:   http.StatusUnprocessableEntity,
			wantStatus: types.StatusInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := postCommand(t, s, tt.command, true)
			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantStatus != "" {
				assert.Equal(t, string(tt.wantStatus), resp.Status)
				assert.NotEmpty(t, resp.Error)
			}
		})
	}
}

func TestSubmitWithoutWait(t *testing.T) {
	s, _ := newTestServer(t)

	w, resp := postCommand(t, s, "CreateLayer name='base' dims='2,2,2'", false)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, string(types.StatusPending), resp.Status)
	assert.False(t, resp.Done)
	assert.NotEmpty(t, resp.ID)
}

func TestSubmitInvalidBody(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/actions", bytes.NewReader([]byte("{")))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListActions(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/actions", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var names []string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&names))
	assert.Contains(t, names, actions.NameThreshold)
	assert.Contains(t, names, actions.NameRecreateLayer)
	assert.IsNonDecreasing(t, names)
}

func TestLayersAndScene(t *testing.T) {
	s, _ := newTestServer(t)
	postCommand(t, s, "CreateLayer name='base' dims='4,4,2' pattern='ramp'", true)
	postCommand(t, s, "Threshold target='layer_1' lower='0.5' upper='1'", true)

	req := httptest.NewRequest(http.MethodGet, "/v1/layers", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var groups []GroupView
	require.NoError(t, json.NewDecoder(w.Body).Decode(&groups))
	require.Len(t, groups, 1)
	require.Len(t, groups[0].Layers, 2)
	for _, l := range groups[0].Layers {
		assert.Equal(t, string(types.LockAvailable), l.State)
		assert.NotEqual(t, int64(types.InvalidProvenanceID), l.ProvenanceID)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/scene?viewer=0", nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var scene []SceneEntry
	require.NoError(t, json.NewDecoder(w.Body).Decode(&scene))
	require.Len(t, scene, 2)
	assert.Equal(t, [3]int{4, 4, 2}, scene[0].Dims)

	req = httptest.NewRequest(http.MethodGet, "/v1/scene?viewer=x", nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func postBatch(t *testing.T, s *Server, body any) (*httptest.ResponseRecorder, []ActionResponse) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/actions/batch", bytes.NewReader(data))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var resp []ActionResponse
	if w.Code != http.StatusBadRequest {
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	}
	return w, resp
}

func TestSubmitBatch(t *testing.T) {
	s, mgr := newTestServer(t)

	w, resp := postBatch(t, s, BatchRequest{
		Commands: []string{
			"CreateLayer name='a' dims='4,4,2' pattern='ramp'",
			"CreateLayer name='b' dims='4,4,2' value='1'",
			"Threshold target='layer_1' lower='0.5' upper='1'",
		},
		Wait: true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, resp, 3)
	for i, want := range []string{"layer_1", "layer_2", "layer_3"} {
		assert.Equal(t, string(types.StatusSuccess), resp[i].Status)
		assert.True(t, resp[i].Done)
		assert.Equal(t, []string{want}, resp[i].Layers)
	}
	assert.Equal(t, actions.NameThreshold, resp[2].Action)

	l, err := mgr.GetLayer("layer_3", types.LiveSandbox)
	require.NoError(t, err)
	assert.Equal(t, types.VolumeMask, l.Kind)
}

func TestSubmitBatchReportsEachOutcome(t *testing.T) {
	s, _ := newTestServer(t)

	w, resp := postBatch(t, s, BatchRequest{
		Commands: []string{
			"Invert target='layer_1'",
			"CreateLayer name='a' dims='2,2,2'",
		},
		Wait: true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, resp, 2)
	assert.Equal(t, string(types.StatusInvalid), resp[0].Status)
	assert.NotEmpty(t, resp[0].Error)
	assert.Equal(t, string(types.StatusSuccess), resp[1].Status)
}

func TestSubmitBatchRejectsBadCommandsBeforeQueueing(t *testing.T) {
	s, mgr := newTestServer(t)

	w, _ := postBatch(t, s, BatchRequest{Commands: []string{
		"CreateLayer name='a' dims='2,2,2'",
		"Sharpen target='layer_1'",
	}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "command 2")

	w, _ = postBatch(t, s, BatchRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp := postBatch(t, s, BatchRequest{Commands: []string{"CreateLayer name='a' dims='2,2,2'"}})
	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, resp, 1)
	assert.Equal(t, string(types.StatusPending), resp[0].Status)

	// Only the accepted batch ran
	assert.Eventually(t, func() bool {
		return mgr.CheckLayerExistence("layer_1", types.LiveSandbox) == nil
	}, 5*time.Second, 10*time.Millisecond)
	assert.Error(t, mgr.CheckLayerExistence("layer_2", types.LiveSandbox))
}

func getStatus(t *testing.T, s *Server) StatusResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var st StatusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&st))
	return st
}

func TestDispatcherStatus(t *testing.T) {
	s, _ := newTestServer(t)

	st := getStatus(t, s)
	assert.False(t, st.Busy)
	assert.Zero(t, st.Pending)
	assert.Nil(t, st.LastCompleted)

	before := time.Now()
	postCommand(t, s, "CreateLayer name='base' dims='2,2,2'", true)

	assert.Eventually(t, func() bool { return !getStatus(t, s).Busy }, 5*time.Second, 10*time.Millisecond)
	st = getStatus(t, s)
	assert.Zero(t, st.Pending)
	require.NotNil(t, st.LastCompleted)
	assert.False(t, st.LastCompleted.Before(before))
}

func TestEventStream(t *testing.T) {
	s, _, broker := newBrokeredServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))
	require.Eventually(t, func() bool { return broker.SubscriberCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	postCommand(t, s, "CreateLayer name='base' dims='2,2,2'", true)

	found := make(chan EventView, 1)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			var ev EventView
			if json.Unmarshal(scanner.Bytes(), &ev) != nil {
				continue
			}
			if ev.Type == string(events.EventLayerInserted) {
				found <- ev
				return
			}
		}
	}()

	select {
	case ev := <-found:
		assert.Equal(t, "layer_1", ev.Metadata["layer_id"])
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(5 * time.Second):
		t.Fatal("no layer event streamed")
	}

	cancel()
	assert.Eventually(t, func() bool { return broker.SubscriberCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestSnapshotsWithoutManager(t *testing.T) {
	s := NewServer(action.NewRegistry(), nil, nil, nil)

	for _, path := range []string{"/v1/layers", "/v1/scene", "/v1/status", "/v1/events"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodDelete, "/v1/actions"},
		{http.MethodPost, "/v1/layers"},
		{http.MethodPut, "/v1/scene"},
		{http.MethodGet, "/v1/actions/batch"},
		{http.MethodPost, "/v1/status"},
		{http.MethodPost, "/v1/events"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, req)
			assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
		})
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
