package api

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/s4/internal/logger"
	"github.com/samcharles93/s4/internal/s4"
	"github.com/samcharles93/s4/internal/tensor"
)

func newTestLayer(t *testing.T, edit func(*s4.Config)) *s4.Layer {
	t.Helper()
	cfg := s4.DefaultConfig(2)
	cfg.DState = 4
	cfg.Seed = 1
	if edit != nil {
		edit(&cfg)
	}
	ctx := logger.WithContext(context.Background(), logger.Discard())
	l, err := s4.New(ctx, cfg)
	if err != nil {
		t.Fatalf("s4.New: %v", err)
	}
	return l
}

func newTestEcho(t *testing.T, edit func(*s4.Config)) (*echo.Echo, *Server) {
	t.Helper()
	server := NewServer(newTestLayer(t, edit), NewStateStore(8))
	e := echo.New()
	server.Register(e)
	return e, server
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return out
}

func errorType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode[map[string]ResponseError](t, rec)
	return body["error"].Type
}

func TestLayerInfo(t *testing.T) {
	t.Parallel()
	e, _ := newTestEcho(t, func(c *s4.Config) { c.HyperAct = "sigmoid" })
	rec := doJSON(t, e, http.MethodGet, "/v1/layer", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
	info := decode[LayerResponse](t, rec)
	if info.Config.DModel != 2 || info.KernelChannels != 2 || info.DState != 8 || info.DOutput != 2 || info.Training {
		t.Fatalf("unexpected layer info %+v", info)
	}
}

func TestForwardStateless(t *testing.T) {
	t.Parallel()
	e, server := newTestEcho(t, nil)
	rec := doJSON(t, e, http.MethodPost, "/v1/forward", `{"input":[[[1,2,3,4],[0,1,0,1]]]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
	resp := decode[ForwardResponse](t, rec)
	if !strings.HasPrefix(resp.ID, "fwd_") || resp.Object != "forward" {
		t.Fatalf("unexpected id/object %q %q", resp.ID, resp.Object)
	}
	if resp.State != nil || resp.StateID != "" {
		t.Fatalf("stateless forward returned a state")
	}

	u, _ := tensor.FromData([]float64{1, 2, 3, 4, 0, 1, 0, 1}, 1, 2, 4)
	want, _, err := server.layer.Forward(context.Background(), u, nil)
	if err != nil {
		t.Fatal(err)
	}
	for h := range 2 {
		for l := range 4 {
			if got := resp.Output[0][h][l]; math.Abs(got-want.Row(0, h)[l]) > 1e-12 {
				t.Fatalf("output[0][%d][%d] = %g, want %g", h, l, got, want.Row(0, h)[l])
			}
		}
	}
}

func TestForwardChunksThroughStore(t *testing.T) {
	t.Parallel()
	e, server := newTestEcho(t, nil)

	rec := doJSON(t, e, http.MethodPost, "/v1/state/default", `{"batch":1,"store_state":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("default state status %d body=%s", rec.Code, rec.Body.String())
	}
	id := decode[StateResponse](t, rec).StateID
	if !strings.HasPrefix(id, "state_") {
		t.Fatalf("state id %q", id)
	}

	full := doJSON(t, e, http.MethodPost, "/v1/forward",
		`{"input":[[[1,2,3,4],[4,3,2,1]]],"state_id":"`+id+`"}`)
	if full.Code != http.StatusOK {
		t.Fatalf("full status %d body=%s", full.Code, full.Body.String())
	}
	fullResp := decode[ForwardResponse](t, full)

	first := decode[ForwardResponse](t, doJSON(t, e, http.MethodPost, "/v1/forward",
		`{"input":[[[1,2],[4,3]]],"state_id":"`+id+`","store_state":true}`))
	if first.StateID == "" || first.StateID == id {
		t.Fatalf("expected a new state id, got %q", first.StateID)
	}
	second := decode[ForwardResponse](t, doJSON(t, e, http.MethodPost, "/v1/forward",
		`{"input":[[[3,4],[2,1]]],"state_id":"`+first.StateID+`"}`))

	for h := range 2 {
		got := append(append([]float64(nil), first.Output[0][h]...), second.Output[0][h]...)
		for l, v := range got {
			if diff := v - fullResp.Output[0][h][l]; diff > 1e-9 || diff < -1e-9 {
				t.Fatalf("h=%d l=%d: chunked %g full %g", h, l, v, fullResp.Output[0][h][l])
			}
		}
	}
	if server.states.Len() != 2 {
		t.Fatalf("store holds %d states, want 2", server.states.Len())
	}
}

func TestStepMatchesForward(t *testing.T) {
	t.Parallel()
	e, _ := newTestEcho(t, nil)
	full := decode[ForwardResponse](t, doJSON(t, e, http.MethodPost, "/v1/forward",
		`{"input":[[[0.5,-1],[2,0.25]]]}`))

	step1 := decode[StepResponse](t, doJSON(t, e, http.MethodPost, "/v1/step", `{"input":[[0.5,2]]}`))
	if step1.State == nil {
		t.Fatal("step returned no state")
	}
	body, err := json.Marshal(StepRequest{Input: [][]float64{{-1, 0.25}}, State: step1.State})
	if err != nil {
		t.Fatal(err)
	}
	step2 := decode[StepResponse](t, doJSON(t, e, http.MethodPost, "/v1/step", string(body)))

	for h := range 2 {
		for l, got := range []float64{step1.Output[0][h], step2.Output[0][h]} {
			if diff := got - full.Output[0][h][l]; diff > 1e-9 || diff < -1e-9 {
				t.Fatalf("h=%d l=%d: step %g full %g", h, l, got, full.Output[0][h][l])
			}
		}
	}
}

func TestForwardErrors(t *testing.T) {
	t.Parallel()
	e, _ := newTestEcho(t, nil)
	tests := []struct {
		name   string
		body   string
		status int
		typ    string
	}{
		{"bad json", `{"input":`, http.StatusBadRequest, "invalid_request_error"},
		{"empty input", `{"input":[]}`, http.StatusBadRequest, "invalid_request_error"},
		{"ragged", `{"input":[[[1,2],[1]]]}`, http.StatusBadRequest, "invalid_request_error"},
		{"wrong features", `{"input":[[[1,2]]]}`, http.StatusBadRequest, "invalid_request_error"},
		{"unknown state", `{"input":[[[1],[2]]],"state_id":"state_missing"}`, http.StatusNotFound, "not_found_error"},
		{"bad state shape", `{"input":[[[1],[2]]],"state":{"shape":[1,2,2],"real":[0,0,0,0],"imag":[0,0,0,0]}}`, http.StatusBadRequest, "invalid_request_error"},
		{"both states", `{"input":[[[1],[2]]],"state":{"shape":[1],"real":[0],"imag":[0]},"state_id":"x"}`, http.StatusBadRequest, "invalid_request_error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, e, http.MethodPost, "/v1/forward", tc.body)
			if rec.Code != tc.status {
				t.Fatalf("status %d, want %d; body=%s", rec.Code, tc.status, rec.Body.String())
			}
			if got := errorType(t, rec); got != tc.typ {
				t.Fatalf("error type %q, want %q", got, tc.typ)
			}
		})
	}
}

func TestBidirectionalStateRejected(t *testing.T) {
	t.Parallel()
	e, _ := newTestEcho(t, func(c *s4.Config) { c.Bidirectional = true })
	state := `{"shape":[1,2,4],"real":[0,0,0,0,0,0,0,0],"imag":[0,0,0,0,0,0,0,0]}`
	rec := doJSON(t, e, http.MethodPost, "/v1/forward", `{"input":[[[1,2],[3,4]]],"state":`+state+`}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
	if got := errorType(t, rec); got != "configuration_error" {
		t.Fatalf("error type %q", got)
	}
	rec = doJSON(t, e, http.MethodPost, "/v1/forward", `{"input":[[[1,2],[3,4]]]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("stateless bidirectional forward: status %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestStateLifecycle(t *testing.T) {
	t.Parallel()
	e, _ := newTestEcho(t, nil)
	created := decode[StateResponse](t, doJSON(t, e, http.MethodPost, "/v1/state/default", `{"batch":3,"store_state":true}`))
	if created.State == nil || len(created.State.Shape) != 3 || created.State.Shape[0] != 3 {
		t.Fatalf("default state %+v", created.State)
	}

	rec := doJSON(t, e, http.MethodGet, "/v1/states/"+created.StateID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status %d", rec.Code)
	}
	rec = doJSON(t, e, http.MethodDelete, "/v1/states/"+created.StateID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status %d", rec.Code)
	}
	rec = doJSON(t, e, http.MethodGet, "/v1/states/"+created.StateID, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status %d", rec.Code)
	}
	rec = doJSON(t, e, http.MethodPost, "/v1/state/default", `{"batch":0}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("zero batch status %d", rec.Code)
	}
}

var testNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestStateStoreEviction(t *testing.T) {
	t.Parallel()
	store := NewStateStore(2)
	a := store.Put(tensor.NewComplex(1), testNow)
	b := store.Put(tensor.NewComplex(1), testNow)
	c := store.Put(tensor.NewComplex(1), testNow)
	if _, ok := store.Get(a); ok {
		t.Fatal("oldest state should be evicted")
	}
	for _, id := range []string{b, c} {
		if _, ok := store.Get(id); !ok {
			t.Fatalf("state %s missing", id)
		}
	}
	if !store.Delete(b) || store.Delete(b) {
		t.Fatal("delete should succeed once")
	}
	if store.Len() != 1 {
		t.Fatalf("len %d", store.Len())
	}
}
