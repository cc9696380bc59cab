package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pithecene-io/tributary/runtime"
	"github.com/pithecene-io/tributary/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

type startResponse struct {
	RequestID string `json:"request_id"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Watchers int    `json:"watchers"`
	Dropped  int64  `json:"dropped_snapshots"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:   "ok",
		Version:  types.Version,
		Watchers: s.hub.Clients(),
		Dropped:  s.hub.Dropped(),
	})
}

// handleStart starts a run, superseding the active one.
func (s *Server) handleStart(c echo.Context) error {
	var params types.RunParams
	if err := c.Bind(&params); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	params = s.withDefaults(params)

	// Runs outlive the request; they end on abort, supersession or Close.
	id, err := s.consumer.Run(s.ctx, params)
	switch {
	case errors.Is(err, runtime.ErrConsumerClosed):
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	case err != nil:
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusAccepted, startResponse{RequestID: id})
}

func (s *Server) withDefaults(p types.RunParams) types.RunParams {
	d := s.cfg.Defaults
	if p.TenantID == "" {
		p.TenantID = d.TenantID
	}
	if p.UserID == "" {
		p.UserID = d.UserID
	}
	if p.BusinessAgentKey == "" {
		p.BusinessAgentKey = d.BusinessAgentKey
	}
	if p.WorkspaceID == nil {
		p.WorkspaceID = d.WorkspaceID
	}
	return p
}

func (s *Server) handleCurrent(c echo.Context) error {
	st := s.consumer.State()
	if st == nil {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "no run"})
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleAbort(c echo.Context) error {
	if !s.consumer.Abort() {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "no active run"})
	}
	return c.NoContent(http.StatusNoContent)
}
