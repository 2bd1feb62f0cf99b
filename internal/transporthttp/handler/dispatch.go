package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cronback-oss/cronback/internal/dispatcher"
	"github.com/cronback-oss/cronback/internal/domain"
	"github.com/cronback-oss/cronback/internal/errs"
)

// DispatchHandler exposes the dispatcher process's single inbound RPC: the
// scheduler cells' /v1/runs submission, fanned out to the worker pool
// behind dispatcher.Runner.
type DispatchHandler struct {
	runner *dispatcher.Runner
}

// NewDispatchHandler builds a DispatchHandler.
func NewDispatchHandler(r *dispatcher.Runner) *DispatchHandler {
	return &DispatchHandler{runner: r}
}

// Submit accepts a run for execution. ?sync=true blocks until the run
// reaches a terminal state, mirroring dispatcherclient.Client's two call
// shapes.
func (h *DispatchHandler) Submit(c *gin.Context) {
	var run domain.Run
	if err := c.ShouldBindJSON(&run); err != nil {
		WriteError(c, errs.Wrap(errs.KindValidationFailed, "invalid run payload", err))
		return
	}

	if c.Query("sync") != "true" {
		if err := h.runner.Submit(c.Request.Context(), run); err != nil {
			WriteError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"run": run})
		return
	}

	deadline := time.Now().Add(25 * time.Second)
	if dl, ok := c.Request.Context().Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	result, err := h.runner.SubmitSync(c.Request.Context(), run, deadline)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
