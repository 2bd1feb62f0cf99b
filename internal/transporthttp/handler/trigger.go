package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cronback-oss/cronback/internal/domain"
	"github.com/cronback-oss/cronback/internal/errs"
	"github.com/cronback-oss/cronback/internal/registry"
	"github.com/cronback-oss/cronback/internal/store"
	"github.com/cronback-oss/cronback/internal/transporthttp/middleware"
)

// TriggerHandler serves the scheduler's trigger CRUD RPCs, grounded on the
// teacher's internal/transport/http/handler/job.go and schedule.go.
type TriggerHandler struct {
	registry *registry.Registry
	store    store.TriggerStore
	notify   func(owner, triggerID string)
}

// NewTriggerHandler builds a TriggerHandler. notify is called after an
// install/update and after each pause/resume/cancel so the spinner
// re-schedules that trigger's heap entry. Delete and DeleteProject do not
// call it; a deleted trigger's pending heap entry is dropped when it pops,
// since the registry no longer holds the trigger.
func NewTriggerHandler(reg *registry.Registry, st store.TriggerStore, notify func(owner, triggerID string)) *TriggerHandler {
	return &TriggerHandler{registry: reg, store: st, notify: notify}
}

type upsertTriggerRequest struct {
	ID          string               `json:"id"`
	Name        string               `json:"name" binding:"required"`
	ReferenceID string               `json:"reference_id"`
	Description string               `json:"description"`
	Action      domain.WebhookAction `json:"action" binding:"required"`
	Payload     domain.Payload       `json:"payload"`
	Schedule    domain.Schedule      `json:"schedule" binding:"required"`
}

type triggerResponse struct {
	Trigger             domain.Trigger `json:"trigger"`
	EstimatedFutureRuns []time.Time    `json:"estimated_future_runs,omitempty"`
}

// Upsert installs a new trigger, or updates an existing one when req.ID is
// set.
func (h *TriggerHandler) Upsert(c *gin.Context) {
	var req upsertTriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		WriteError(c, errs.Wrap(errs.KindValidationFailed, "invalid request body", err))
		return
	}

	owner := middleware.Owner(c)
	t := domain.Trigger{
		ID:          req.ID,
		Owner:       owner,
		Name:        req.Name,
		ReferenceID: req.ReferenceID,
		Description: req.Description,
		Action:      req.Action,
		Payload:     req.Payload,
		Schedule:    req.Schedule,
	}

	var result registry.InstallResult
	var err error
	if req.ID == "" {
		result, err = h.registry.Install(c.Request.Context(), t)
	} else {
		result, err = h.registry.Update(c.Request.Context(), t, c.GetHeader("If-Match"))
	}
	if err != nil {
		WriteError(c, err)
		return
	}

	if h.notify != nil {
		h.notify(result.Trigger.Owner, result.Trigger.ID)
	}
	c.JSON(http.StatusOK, triggerResponse{Trigger: result.Trigger, EstimatedFutureRuns: result.EstimatedFutureRuns})
}

// Get returns a single trigger by ID.
func (h *TriggerHandler) Get(c *gin.Context) {
	owner := middleware.Owner(c)
	t, err := h.store.Get(c.Request.Context(), owner, c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, triggerResponse{Trigger: t})
}

// GetByReferenceID resolves a trigger via its owner-scoped idempotency key.
func (h *TriggerHandler) GetByReferenceID(c *gin.Context) {
	owner := middleware.Owner(c)
	t, err := h.store.GetByReferenceID(c.Request.Context(), owner, c.Query("reference_id"))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, triggerResponse{Trigger: t})
}

// List returns a page of the owner's triggers.
func (h *TriggerHandler) List(c *gin.Context) {
	owner := middleware.Owner(c)
	filter := store.ListFilter{
		Owner:    owner,
		Status:   domain.TriggerStatus(c.Query("status")),
		Cursor:   c.Query("cursor"),
		PageSize: queryInt(c, "page_size", 50),
	}
	page, err := h.store.List(c.Request.Context(), filter)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"triggers": page.Triggers, "next_cursor": page.NextCursor})
}

// Pause suspends a trigger.
func (h *TriggerHandler) Pause(c *gin.Context) { h.transition(c, h.registry.Pause) }

// Resume un-suspends a paused trigger.
func (h *TriggerHandler) Resume(c *gin.Context) { h.transition(c, h.registry.Resume) }

// Cancel permanently stops a trigger.
func (h *TriggerHandler) Cancel(c *gin.Context) { h.transition(c, h.registry.Cancel) }

func (h *TriggerHandler) transition(c *gin.Context, fn func(ctx context.Context, owner, triggerID string) (domain.Trigger, error)) {
	owner := middleware.Owner(c)
	t, err := fn(c.Request.Context(), owner, c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return
	}
	if h.notify != nil {
		h.notify(owner, t.ID)
	}
	c.JSON(http.StatusOK, triggerResponse{Trigger: t})
}

// Delete permanently removes a single trigger.
func (h *TriggerHandler) Delete(c *gin.Context) {
	owner := middleware.Owner(c)
	triggerID := c.Param("id")
	if err := h.registry.Delete(c.Request.Context(), owner, triggerID); err != nil {
		WriteError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteProject tears down every trigger belonging to the caller's project —
// the admin teardown operation.
func (h *TriggerHandler) DeleteProject(c *gin.Context) {
	owner := middleware.Owner(c)
	n, err := h.registry.DeleteProject(c.Request.Context(), owner)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted_count": n})
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
