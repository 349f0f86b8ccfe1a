package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/KevinKickass/OpenMachineSim/internal/registry"
	"github.com/KevinKickass/OpenMachineSim/internal/scheduler"
	"github.com/KevinKickass/OpenMachineSim/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type pointResponse struct {
	Name      string         `json:"name"`
	NodeID    string         `json:"node_id,omitempty"`
	DataType  types.DataType `json:"type"`
	Writable  bool           `json:"writable"`
	Value     any            `json:"value"`
	Timestamp int64          `json:"timestamp"`
	Status    string         `json:"status"`
}

func (s *Server) pointResponse(name string, dt types.DataType, writable bool, sample registry.Sample) pointResponse {
	resp := pointResponse{
		Name:      name,
		DataType:  dt,
		Writable:  writable,
		Value:     sample.Value,
		Timestamp: sample.Timestamp.UnixMilli(),
		Status:    sample.Status.String(),
	}
	if addr, ok := s.addresses[name]; ok {
		resp.NodeID = addr.String()
	}
	return resp
}

// GET /api/v1/points
func (s *Server) listPoints(c *gin.Context) {
	entries := s.points.Snapshot()

	response := make([]pointResponse, 0, len(entries))
	for _, e := range entries {
		response = append(response, s.pointResponse(e.Name, e.DataType, e.Writable, e.Sample))
	}

	c.JSON(http.StatusOK, gin.H{
		"points": response,
		"count":  len(response),
	})
}

// GET /api/v1/points/:name
func (s *Server) getPoint(c *gin.Context) {
	name := c.Param("name")

	sample, ok := s.points.Lookup(name)
	if !ok {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("POINT_404", "Point not found", name))
		return
	}
	dt, _ := s.points.DataType(name)

	c.JSON(http.StatusOK, s.pointResponse(name, dt, s.points.Writable(name), sample))
}

// PUT /api/v1/points/:name
func (s *Server) writePoint(c *gin.Context) {
	name := c.Param("name")

	var req struct {
		Value json.RawMessage `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("POINT_400", "Invalid request body", err.Error()))
		return
	}
	if len(req.Value) == 0 {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("POINT_400", "Invalid request body", "value is required"))
		return
	}
	var value any
	if err := json.Unmarshal(req.Value, &value); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("POINT_400", "Invalid request body", err.Error()))
		return
	}
	if value == nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("POINT_400", "Invalid request body", "value must not be null"))
		return
	}

	dt, ok := s.points.DataType(name)
	if !ok {
		s.observeWrite(registry.ErrUnknownPoint)
		c.JSON(http.StatusNotFound, types.NewErrorResponse("POINT_404", "Point not found", name))
		return
	}

	// JSON carries every number as float64; narrow it to the declared type
	// when it fits and leave anything else to the registry's write policy.
	if v, err := types.Coerce(dt, value); err == nil {
		value = v
	}

	err := s.points.Set(name, value)
	s.observeWrite(err)
	switch {
	case errors.Is(err, registry.ErrReadOnly):
		c.JSON(http.StatusConflict, types.NewErrorResponse("POINT_409", "Point is read-only", name))
		return
	case errors.Is(err, types.ErrTypeMismatch):
		c.JSON(http.StatusUnprocessableEntity, types.NewErrorResponse("POINT_422", "Value does not match point type", err.Error()))
		return
	case errors.Is(err, registry.ErrUnknownPoint):
		c.JSON(http.StatusNotFound, types.NewErrorResponse("POINT_404", "Point not found", name))
		return
	case err != nil:
		s.logger.Error("Point write failed", zap.String("point", name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("POINT_500", "Point write failed", err.Error()))
		return
	}

	sample, _ := s.points.Lookup(name)
	s.announceWrite(name, sample)

	c.JSON(http.StatusOK, s.pointResponse(name, dt, true, sample))
}

func (s *Server) observeWrite(err error) {
	if s.writes != nil {
		s.writes.WriteObserved("rest", err)
	}
}

// announceWrite hands an accepted write to the subscription surfaces.
// Their failures do not undo the write.
func (s *Server) announceWrite(name string, sample registry.Sample) {
	addr, ok := s.addresses[name]
	if !ok {
		return
	}
	u := scheduler.Update{Point: name, Address: addr, Sample: sample}

	for _, p := range s.publishers {
		if err := p.Publish(u); err != nil {
			s.logger.Warn("Failed to announce point write",
				zap.String("point", name),
				zap.Error(err))
		}
	}
	if s.wsHub != nil {
		s.wsHub.PublishWrite(u)
	}
}
