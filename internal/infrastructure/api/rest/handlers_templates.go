package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/renderfleet/orchestrator/internal/application/registry"
	"github.com/renderfleet/orchestrator/internal/infrastructure/logger"
)

// TemplateHandlers serves the workflow template registry.
type TemplateHandlers struct {
	registry *registry.Registry
	logger   *logger.Logger
}

// NewTemplateHandlers creates the template handlers.
func NewTemplateHandlers(reg *registry.Registry, log *logger.Logger) *TemplateHandlers {
	return &TemplateHandlers{registry: reg, logger: log}
}

// HandleListTemplates lists discovered templates.
func (h *TemplateHandlers) HandleListTemplates(c *gin.Context) {
	infos := h.registry.List()

	summaries := make([]gin.H, len(infos))
	for i, info := range infos {
		outputType := "unknown"
		if info.Output != nil {
			outputType = info.Output.OutputType
		}
		summaries[i] = gin.H{
			"name":        info.Name,
			"description": info.Description,
			"parameters":  len(info.Parameters),
			"output_type": outputType,
			"hash":        info.Hash,
		}
	}
	respondJSON(c, http.StatusOK, gin.H{"workflows": summaries, "count": len(summaries)})
}

// HandleGetTemplate returns one template's full parameter contract.
func (h *TemplateHandlers) HandleGetTemplate(c *gin.Context) {
	info, ok := h.registry.Get(c.Param("name"))
	if !ok {
		respondAPIError(c, NewAPIError("UNKNOWN_TEMPLATE", "workflow template not found", http.StatusNotFound))
		return
	}
	respondJSON(c, http.StatusOK, info)
}

// HandleReload re-discovers the templates directory.
func (h *TemplateHandlers) HandleReload(c *gin.Context) {
	summary, err := h.registry.Reload()
	if err != nil {
		respondAPIError(c, TranslateError(err))
		return
	}
	h.logger.Info("templates reloaded", "discovered", summary.Discovered)
	respondJSON(c, http.StatusOK, summary)
}
