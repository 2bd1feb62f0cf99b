// Package transporthttp wires the gin routers for both HTTP surfaces this
// system exposes: the scheduler cell's trigger-management API, and the
// dispatcher's internal run-submission API. Grounded on the teacher's
// internal/transport/http/router.go.
package transporthttp

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cronback-oss/cronback/internal/health"
	"github.com/cronback-oss/cronback/internal/servicetoken"
	"github.com/cronback-oss/cronback/internal/transporthttp/handler"
	"github.com/cronback-oss/cronback/internal/transporthttp/middleware"
)

// NewSchedulerRouter builds the public-facing API a scheduler cell serves:
// trigger CRUD, pause/resume/cancel, and run_now.
func NewSchedulerRouter(triggers *handler.TriggerHandler, runs *handler.RunNowHandler, checker *health.Checker, apiKeys map[string]string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.Security(), middleware.Metrics())

	r.GET("/livez", func(c *gin.Context) {
		c.JSON(http.StatusOK, checker.Liveness(c.Request.Context()))
	})
	r.GET("/readyz", func(c *gin.Context) {
		result := checker.Readiness(c.Request.Context())
		status := http.StatusOK
		if result.Status != "up" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, result)
	})

	v1 := r.Group("/v1", middleware.APIKeyAuth(apiKeys))
	{
		triggersGroup := v1.Group("/triggers")
		triggersGroup.POST("", triggers.Upsert)
		triggersGroup.GET("", triggers.List)
		triggersGroup.GET("/by-reference", triggers.GetByReferenceID)
		triggersGroup.GET("/:id", triggers.Get)
		triggersGroup.POST("/:id/pause", triggers.Pause)
		triggersGroup.POST("/:id/resume", triggers.Resume)
		triggersGroup.POST("/:id/cancel", triggers.Cancel)
		triggersGroup.DELETE("/:id", triggers.Delete)
		triggersGroup.POST("/:id/run", runs.Run)
		triggersGroup.GET("/:id/runs", runs.ListRuns)

		v1.DELETE("/project/triggers", triggers.DeleteProject)
		v1.GET("/runs/:run_id", runs.GetRun)
	}

	return r
}

// NewDispatcherRouter builds the internal API the dispatcher process serves
// to scheduler cells: the single run-submission RPC. verifier may be nil to
// disable service-token auth for local dev.
func NewDispatcherRouter(dispatch *handler.DispatchHandler, checker *health.Checker, verifier *servicetoken.Verifier) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.Security(), middleware.Metrics())

	r.GET("/livez", func(c *gin.Context) {
		c.JSON(http.StatusOK, checker.Liveness(c.Request.Context()))
	})
	r.GET("/readyz", func(c *gin.Context) {
		result := checker.Readiness(c.Request.Context())
		status := http.StatusOK
		if result.Status != "up" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, result)
	})

	r.POST("/v1/runs", middleware.ServiceTokenAuth(verifier), dispatch.Submit)
	return r
}
