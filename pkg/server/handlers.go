package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/zen-systems/sitegen/pkg/failure"
	"github.com/zen-systems/sitegen/pkg/logger"
	"github.com/zen-systems/sitegen/pkg/pipeline"
	"github.com/zen-systems/sitegen/pkg/router"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	// Outcome carries whatever finished before a run was cut short.
	Outcome *pipeline.Outcome `json:"outcome,omitempty"`
}

// ReliabilityResponse is the body of GET /v1/reliability.
type ReliabilityResponse struct {
	Stats    any `json:"stats"`
	Adaptive any `json:"adaptive,omitempty"`
	Cache    any `json:"cache"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"health": s.pipeline.Tracker().Health(),
	})
}

func (s *Server) generate(c *gin.Context) {
	var req pipeline.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}
	switch req.Priority {
	case "", router.PriorityQuality, router.PrioritySpeed, router.PriorityCost:
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid priority",
			Details: "priority must be quality, speed or cost",
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.requestTimeout)
	defer cancel()

	out, err := s.pipeline.Run(ctx, req)
	if err != nil {
		status := statusFor(err)
		logger.FromContext(c.Request.Context()).Warn("generation failed", "status", status, "error", err.Error())
		c.JSON(status, ErrorResponse{Error: "generation failed", Details: err.Error(), Outcome: out})
		return
	}
	c.JSON(http.StatusOK, out)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrNoSelection):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	var ferr *failure.Error
	if errors.As(err, &ferr) {
		switch ferr.Kind {
		case failure.KindValidation:
			return http.StatusBadRequest
		case failure.KindQuotaExceeded:
			return http.StatusPaymentRequired
		case failure.KindRateLimit:
			return http.StatusTooManyRequests
		}
	}
	return http.StatusInternalServerError
}

func (s *Server) reliability(c *gin.Context) {
	window := 0
	if raw := c.Query("window"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid window", Details: "window must be a non-negative integer"})
			return
		}
		window = n
	}

	resp := ReliabilityResponse{
		Stats: s.pipeline.Tracker().Stats(window),
		Cache: s.pipeline.Cache().Stats(),
	}
	if a, ok := s.pipeline.Router().(*router.AdaptiveRouter); ok {
		resp.Adaptive = a.Snapshot()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) circuits(c *gin.Context) {
	c.JSON(http.StatusOK, s.pipeline.Breaker().Snapshot())
}

func (s *Server) resetCircuit(c *gin.Context) {
	model := c.Param("model")
	s.pipeline.Breaker().Reset(model)
	logger.FromContext(c.Request.Context()).Info("circuit reset", "model", model)
	c.Status(http.StatusNoContent)
}

type routeLister interface {
	Routes() []router.RouteInfo
}

func (s *Server) routes(c *gin.Context) {
	r := s.pipeline.Router()
	if a, ok := r.(*router.AdaptiveRouter); ok {
		r = a.Base()
	}
	rl, ok := r.(routeLister)
	if !ok {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "router does not expose its tables"})
		return
	}
	c.JSON(http.StatusOK, rl.Routes())
}
