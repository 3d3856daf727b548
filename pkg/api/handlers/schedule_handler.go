package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arjunmehta/pipeworks/internal/scheduler"
	"github.com/arjunmehta/pipeworks/pkg/api/dto"
	"github.com/arjunmehta/pipeworks/pkg/api/middleware"
	"github.com/arjunmehta/pipeworks/pkg/pipeline"
)

// ScheduleHandler exposes the Scheduler's schedule/unschedule/status
// operations over HTTP.
type ScheduleHandler struct {
	scheduler *scheduler.Scheduler
}

// NewScheduleHandler creates a ScheduleHandler.
func NewScheduleHandler(s *scheduler.Scheduler) *ScheduleHandler {
	return &ScheduleHandler{scheduler: s}
}

// CreateSchedule handles POST /api/v1/schedules
// @Summary Schedule a pipeline
// @Description Register a pipeline under a cron trigger
// @Tags schedules
// @Accept json
// @Produce json
// @Param request body dto.ScheduleRequest true "Pipeline and cron trigger"
// @Success 201 {object} dto.ScheduleResponse
// @Failure 400 {object} dto.ErrorResponse
// @Router /api/v1/schedules [post]
func (h *ScheduleHandler) CreateSchedule(c *gin.Context) {
	var req dto.ScheduleRequest
	if !middleware.BindAndValidate(c, &req) {
		return
	}

	trigger := pipeline.Trigger{Type: pipeline.TriggerType(req.Trigger.Type), Cron: req.Trigger.Cron, Webhook: req.Trigger.Webhook}
	entryID, err := h.scheduler.SchedulePipeline(c.Request.Context(), req.Pipeline.ToPipeline(), trigger)
	if err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, "SCHEDULE_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusCreated, dto.ScheduleResponse{EntryID: entryID})
}

// DeleteSchedule handles DELETE /api/v1/schedules/:id
// @Summary Unschedule a pipeline
// @Description Remove a scheduler entry and stop its timer
// @Tags schedules
// @Param id path string true "Entry ID"
// @Success 200 {object} dto.SuccessResponse
// @Failure 404 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /api/v1/schedules/{id} [delete]
func (h *ScheduleHandler) DeleteSchedule(c *gin.Context) {
	id := c.Param("id")

	removed, err := h.scheduler.UnschedulePipeline(c.Request.Context(), id)
	if err != nil {
		middleware.AbortWithError(c, http.StatusInternalServerError, "UNSCHEDULE_FAILED", err.Error())
		return
	}
	if !removed {
		middleware.AbortWithError(c, http.StatusNotFound, "ENTRY_NOT_FOUND", "scheduler entry not found")
		return
	}

	c.JSON(http.StatusOK, dto.SuccessResponse{Success: true, Message: "schedule removed"})
}

// GetStatus handles GET /api/v1/schedules/status
// @Summary Get scheduler status
// @Description Report whether the scheduler is running, how many entries are armed, and their next fire times
// @Tags schedules
// @Produce json
// @Success 200 {object} dto.SchedulerStatusResponse
// @Router /api/v1/schedules/status [get]
func (h *ScheduleHandler) GetStatus(c *gin.Context) {
	status := h.scheduler.GetStatus()

	nextRuns := make([]dto.NextRunDTO, len(status.NextRuns))
	for i, nr := range status.NextRuns {
		nextRuns[i] = dto.NextRunDTO{EntryID: nr.EntryID, At: nr.At.Format(time.RFC3339)}
	}

	c.JSON(http.StatusOK, dto.SchedulerStatusResponse{
		Running:    status.Running,
		EntryCount: status.EntryCount,
		NextRuns:   nextRuns,
	})
}
