package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cronback-oss/cronback/internal/dispatcherclient"
	"github.com/cronback-oss/cronback/internal/domain"
	"github.com/cronback-oss/cronback/internal/errs"
	"github.com/cronback-oss/cronback/internal/id"
	"github.com/cronback-oss/cronback/internal/store"
	"github.com/cronback-oss/cronback/internal/transporthttp/middleware"
)

// RunNowHandler serves the scheduler's on-demand run_now RPC, grounded on
// the teacher's dispatch path but triggered directly by an API caller
// instead of the spinner.
type RunNowHandler struct {
	store      store.TriggerStore
	dispatcher *dispatcherclient.Client
}

// NewRunNowHandler builds a RunNowHandler.
func NewRunNowHandler(st store.TriggerStore, d *dispatcherclient.Client) *RunNowHandler {
	return &RunNowHandler{store: st, dispatcher: d}
}

// Run fires a trigger immediately, outside its regular schedule. ?sync=true
// blocks until the run reaches a terminal state or the request's deadline
// elapses; otherwise it returns as soon as the dispatcher accepts the run.
func (h *RunNowHandler) Run(c *gin.Context) {
	owner := middleware.Owner(c)
	triggerID := c.Param("id")

	t, err := h.store.Get(c.Request.Context(), owner, triggerID)
	if err != nil {
		WriteError(c, err)
		return
	}
	if t.Status.Terminal() {
		WriteError(c, errs.New(errs.KindInvalidStatus, "cannot run a cancelled trigger"))
		return
	}

	run := domain.Run{
		ID:          id.New(id.KindRun, owner).String(),
		TriggerID:   t.ID,
		Owner:       owner,
		ScheduledAt: time.Now(),
		Status:      domain.RunPending,
		Payload:     t.Payload,
		Action:      t.Action,
	}

	// Persist the run before handing it to the dispatcher (spec.md §4.3
	// run_now: "for async, returns after persisting the run and
	// dispatching"). The dispatcher's RecordAttempt only UPDATEs an
	// existing runs row, so without this insert an on-demand run's ID would
	// never resolve via GetRun/ListRuns.
	if err := h.store.InsertRun(c.Request.Context(), run); err != nil {
		WriteError(c, err)
		return
	}

	if c.Query("sync") != "true" {
		if err := h.dispatcher.Dispatch(c.Request.Context(), run); err != nil {
			WriteError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"run": run})
		return
	}

	deadline := time.Now().Add(30 * time.Second)
	result, err := h.dispatcher.DispatchSync(c.Request.Context(), run, deadline)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": result})
}

// GetRun returns a single run with its attempt history.
func (h *RunNowHandler) GetRun(c *gin.Context) {
	owner := middleware.Owner(c)
	run, err := h.store.GetRun(c.Request.Context(), owner, c.Param("run_id"))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

// ListRuns returns a page of runs for a trigger, most recent first.
func (h *RunNowHandler) ListRuns(c *gin.Context) {
	owner := middleware.Owner(c)
	runs, next, err := h.store.ListRuns(c.Request.Context(), owner, c.Param("id"), c.Query("cursor"), queryInt(c, "page_size", 50))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "next_cursor": next})
}
