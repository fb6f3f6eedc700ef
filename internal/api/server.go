// Package api serves an S4 layer over HTTP.
package api

import (
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/s4/internal/logger"
	"github.com/samcharles93/s4/internal/s4"
	"github.com/samcharles93/s4/internal/tensor"
)

type Server struct {
	layer  *s4.Layer
	states *StateStore
	clock  func() time.Time
}

// NewServer puts the layer in evaluation mode and prepares it for stepping.
// The layer must not be reconfigured while the server is running.
func NewServer(layer *s4.Layer, states *StateStore) *Server {
	if states == nil {
		states = NewStateStore(0)
	}
	layer.Eval()
	layer.SetupStep()
	return &Server{layer: layer, states: states, clock: time.Now}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/v1/layer", s.handleLayer)
	e.POST("/v1/forward", s.handleForward)
	e.POST("/v1/step", s.handleStep)
	e.POST("/v1/state/default", s.handleDefaultState)
	e.GET("/v1/states/:id", s.handleGetState)
	e.DELETE("/v1/states/:id", s.handleDeleteState)
}

func (s *Server) handleLayer(c *echo.Context) error {
	cfg := s.layer.Config()
	return c.JSON(http.StatusOK, LayerResponse{
		Object:         "layer",
		Config:         cfg,
		KernelChannels: cfg.KernelChannels(),
		DState:         s.layer.DState(),
		DOutput:        s.layer.DOutput(),
		Training:       s.layer.Training(),
	})
}

func (s *Server) handleForward(c *echo.Context) error {
	req, err := decodeJSON[ForwardRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	u, err := decodeSequence(req.Input)
	if err != nil {
		return writeLayerError(c, err)
	}
	state, found, err := s.resolveState(req.State, req.StateID)
	if err != nil {
		return writeLayerError(c, err)
	}
	if !found {
		return writeNotFound(c, "state not found: "+req.StateID)
	}

	ctx := c.Request().Context()
	y, next, err := s.layer.Forward(ctx, u, state)
	if err != nil {
		return writeLayerError(c, err)
	}
	resp := ForwardResponse{
		ID:     newRequestID("fwd"),
		Object: "forward",
		Output: encodeSequence(y),
		State:  encodeState(next),
	}
	if next != nil && req.StoreState {
		resp.StateID = s.states.Put(next, s.clock())
	}
	logger.FromContext(ctx).Debug("forward", "id", resp.ID, "shape", y.Shape, "stateful", state != nil)
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStep(c *echo.Context) error {
	req, err := decodeJSON[StepRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	u, err := decodeMatrix(req.Input)
	if err != nil {
		return writeLayerError(c, err)
	}
	state, found, err := s.resolveState(req.State, req.StateID)
	if err != nil {
		return writeLayerError(c, err)
	}
	if !found {
		return writeNotFound(c, "state not found: "+req.StateID)
	}
	if state == nil {
		state = s.layer.DefaultState(u.Shape[0])
	}

	y, next, err := s.layer.Step(c.Request().Context(), u, state)
	if err != nil {
		return writeLayerError(c, err)
	}
	resp := StepResponse{
		ID:     newRequestID("step"),
		Object: "step",
		Output: encodeMatrix(y),
		State:  encodeState(next),
	}
	if req.StoreState {
		resp.StateID = s.states.Put(next, s.clock())
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDefaultState(c *echo.Context) error {
	req, err := decodeJSON[DefaultStateRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if req.Batch <= 0 {
		return writeBadRequest(c, "batch must be positive")
	}
	state := s.layer.DefaultState(req.Batch)
	resp := StateResponse{ID: newRequestID("state"), Object: "state", State: encodeState(state)}
	if req.StoreState {
		resp.StateID = s.states.Put(state, s.clock())
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetState(c *echo.Context) error {
	id := c.Param("id")
	state, ok := s.states.Get(id)
	if !ok {
		return writeNotFound(c, "state not found: "+id)
	}
	return c.JSON(http.StatusOK, StateResponse{ID: id, Object: "state", State: encodeState(state), StateID: id})
}

func (s *Server) handleDeleteState(c *echo.Context) error {
	id := c.Param("id")
	if !s.states.Delete(id) {
		return writeNotFound(c, "state not found: "+id)
	}
	return c.JSON(http.StatusOK, map[string]any{"id": id, "object": "state.deleted", "deleted": true})
}

// resolveState returns the inline state, the stored state named by id, or
// nil when neither is given. found is false only for an unknown id.
func (s *Server) resolveState(inline *State, id string) (*tensor.CTensor, bool, error) {
	if inline != nil && id != "" {
		return nil, true, newInvalidRequest("state and state_id are mutually exclusive")
	}
	if inline != nil {
		st, err := decodeState(inline)
		return st, true, err
	}
	if id == "" {
		return nil, true, nil
	}
	st, ok := s.states.Get(id)
	return st, ok, nil
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
