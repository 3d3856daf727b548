package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arjunmehta/pipeworks/internal/parser"
	"github.com/arjunmehta/pipeworks/pkg/api/dto"
	"github.com/arjunmehta/pipeworks/pkg/api/middleware"
)

// PipelineHandler exposes pipeline document validation over HTTP.
type PipelineHandler struct {
	parser *parser.Parser
}

// NewPipelineHandler creates a PipelineHandler.
func NewPipelineHandler(p *parser.Parser) *PipelineHandler {
	return &PipelineHandler{parser: p}
}

// ValidatePipeline handles POST /api/v1/pipelines/validate
// @Summary Validate a pipeline document
// @Description Parse a pipeline document (JSON or YAML) and run it through the ordered validation rules
// @Tags pipelines
// @Accept json
// @Produce json
// @Param request body dto.ValidatePipelineRequest true "Pipeline document"
// @Success 200 {object} dto.ValidatePipelineResponse
// @Failure 400 {object} dto.ErrorResponse
// @Router /api/v1/pipelines/validate [post]
func (h *PipelineHandler) ValidatePipeline(c *gin.Context) {
	var req dto.ValidatePipelineRequest
	if !middleware.BindAndValidate(c, &req) {
		return
	}

	result, err := h.parser.Parse([]byte(req.Document), "request body", false)
	if err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, "UNREADABLE_DOCUMENT", err.Error())
		return
	}

	resp := dto.ValidatePipelineResponse{
		Valid:    len(result.Errors) == 0,
		Warnings: result.Warnings,
		Errors:   result.Errors,
	}
	if result.Pipeline != nil {
		pl := dto.FromPipeline(*result.Pipeline)
		resp.Pipeline = &pl
	}

	c.JSON(http.StatusOK, resp)
}
