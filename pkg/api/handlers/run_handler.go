package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/arjunmehta/pipeworks/internal/dag"
	"github.com/arjunmehta/pipeworks/internal/executor"
	"github.com/arjunmehta/pipeworks/internal/storage"
	"github.com/arjunmehta/pipeworks/pkg/api/dto"
	"github.com/arjunmehta/pipeworks/pkg/api/middleware"
	"github.com/arjunmehta/pipeworks/pkg/pipeline"
)

// RunHandler handles pipeline-run HTTP requests: triggering a run and
// reading back its status.
type RunHandler struct {
	store     storage.Store
	executor  *executor.Executor
	validator *dag.Validator
}

// NewRunHandler creates a RunHandler.
func NewRunHandler(store storage.Store, exec *executor.Executor) *RunHandler {
	return &RunHandler{store: store, executor: exec, validator: dag.NewValidator()}
}

// TriggerRun handles POST /api/v1/runs
// @Summary Trigger a pipeline run
// @Description Validate an inline pipeline document and execute it to completion
// @Tags runs
// @Accept json
// @Produce json
// @Param request body dto.TriggerRunRequest true "Pipeline and trigger"
// @Success 201 {object} dto.RunDetailResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /api/v1/runs [post]
func (h *RunHandler) TriggerRun(c *gin.Context) {
	var req dto.TriggerRunRequest
	if !middleware.BindAndValidate(c, &req) {
		return
	}

	p := req.Pipeline.ToPipeline()
	if errs := h.validator.ValidateStructure(&p); len(errs) > 0 {
		middleware.AbortWithErrorDetails(c, http.StatusBadRequest, "INVALID_PIPELINE",
			"pipeline failed structural validation", map[string]interface{}{"errors": errs})
		return
	}

	trigger := pipeline.Trigger{Type: pipeline.TriggerManual}
	if req.Trigger != nil {
		trigger = pipeline.Trigger{Type: pipeline.TriggerType(req.Trigger.Type), Cron: req.Trigger.Cron, Webhook: req.Trigger.Webhook}
	}

	run, err := h.executor.ExecutePipeline(c.Request.Context(), &p, trigger)
	if err != nil {
		middleware.AbortWithError(c, http.StatusInternalServerError, "EXECUTION_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusCreated, dto.ToRunDetailResponse(run))
}

// ListRuns handles GET /api/v1/runs
// @Summary List pipeline runs
// @Description Get runs for a pipeline, newest first
// @Tags runs
// @Produce json
// @Param pipeline query string true "Pipeline name"
// @Param limit query int false "Maximum number of runs to return" default(100)
// @Success 200 {object} dto.RunListResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /api/v1/runs [get]
func (h *RunHandler) ListRuns(c *gin.Context) {
	pipelineName := c.Query("pipeline")
	if pipelineName == "" {
		middleware.AbortWithError(c, http.StatusBadRequest, "MISSING_PIPELINE", "pipeline query parameter is required")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(storage.DefaultRunsLimit)))

	runs, err := h.store.GetPipelineRuns(c.Request.Context(), pipelineName, limit)
	if err != nil {
		middleware.AbortWithError(c, http.StatusInternalServerError, "LIST_FAILED", err.Error())
		return
	}

	resp := make([]dto.RunResponse, len(runs))
	for i, r := range runs {
		resp[i] = dto.ToRunResponse(r)
	}

	pageSize := limit
	if pageSize <= 0 {
		pageSize = storage.DefaultRunsLimit
	}
	c.JSON(http.StatusOK, dto.RunListResponse{
		Runs:       resp,
		Pagination: dto.NewPaginationMeta(1, pageSize, int64(len(resp))),
	})
}

// CancelRun handles DELETE /api/v1/runs/:id
// @Summary Cancel a pipeline run
// @Description Request cancellation of an in-flight pipeline run. Tasks already dispatched run to completion; no further tasks are started.
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 202 {object} dto.SuccessResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /api/v1/runs/{id} [delete]
func (h *RunHandler) CancelRun(c *gin.Context) {
	id := c.Param("id")

	if err := h.executor.Cancel(id); err != nil {
		middleware.AbortWithError(c, http.StatusNotFound, "RUN_NOT_FOUND", err.Error())
		return
	}

	c.JSON(http.StatusAccepted, dto.SuccessResponse{Success: true, Message: "cancellation requested"})
}

// GetRun handles GET /api/v1/runs/:id
// @Summary Get run details
// @Description Get a run's status and every task execution within it
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} dto.RunDetailResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /api/v1/runs/{id} [get]
func (h *RunHandler) GetRun(c *gin.Context) {
	id := c.Param("id")

	run, err := h.store.GetPipelineRun(c.Request.Context(), id)
	if err != nil {
		middleware.AbortWithError(c, http.StatusNotFound, "RUN_NOT_FOUND", "run not found")
		return
	}

	c.JSON(http.StatusOK, dto.ToRunDetailResponse(run))
}
