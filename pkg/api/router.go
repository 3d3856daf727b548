// Package api wires the pipeline, run, and schedule handlers behind gin
// middleware into the orchestrator's status/trigger HTTP surface.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/arjunmehta/pipeworks/pkg/api/dto"
	"github.com/arjunmehta/pipeworks/pkg/api/handlers"
	"github.com/arjunmehta/pipeworks/pkg/api/middleware"
)

// Handlers bundles the handler set a Router needs; each field may be nil
// only if the corresponding route group is never registered.
type Handlers struct {
	Pipeline *handlers.PipelineHandler
	Run      *handlers.RunHandler
	Schedule *handlers.ScheduleHandler
}

// Options configures optional middleware layered onto the router.
type Options struct {
	Log *logrus.Logger

	// JWTConfig enables bearer-token auth on every route under /api/v1
	// when non-nil.
	JWTConfig *middleware.JWTConfig
}

// NewRouter builds a gin.Engine exposing the orchestrator's HTTP surface:
// pipeline validation, run trigger/list/get/cancel, and schedule
// create/delete/status, plus a liveness probe.
func NewRouter(h Handlers, opts Options) *gin.Engine {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(opts.Log))
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.GlobalRateLimiter.RateLimit())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, dto.HealthResponse{Status: "healthy"})
	})

	v1 := router.Group("/api/v1")
	if opts.JWTConfig != nil {
		v1.Use(middleware.JWTAuth(opts.JWTConfig))
	}

	if h.Pipeline != nil {
		v1.POST("/pipelines/validate", h.Pipeline.ValidatePipeline)
	}
	if h.Run != nil {
		v1.POST("/runs", h.Run.TriggerRun)
		v1.GET("/runs", h.Run.ListRuns)
		v1.GET("/runs/:id", h.Run.GetRun)
		v1.DELETE("/runs/:id", h.Run.CancelRun)
	}
	if h.Schedule != nil {
		v1.POST("/schedules", h.Schedule.CreateSchedule)
		v1.DELETE("/schedules/:id", h.Schedule.DeleteSchedule)
		v1.GET("/schedules/status", h.Schedule.GetStatus)
	}

	return router
}
