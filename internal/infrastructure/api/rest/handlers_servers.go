package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/renderfleet/orchestrator/internal/infrastructure/logger"
	"github.com/renderfleet/orchestrator/pkg/backend"
	"github.com/renderfleet/orchestrator/pkg/balancer"
)

// ServerHandlers manages the backend fleet and proxies introspection.
type ServerHandlers struct {
	balancer *balancer.LoadBalancer
	logger   *logger.Logger
}

// NewServerHandlers creates the server handlers.
func NewServerHandlers(lb *balancer.LoadBalancer, log *logger.Logger) *ServerHandlers {
	return &ServerHandlers{balancer: lb, logger: log}
}

// HandleListServers returns the fleet with last health snapshots.
func (h *ServerHandlers) HandleListServers(c *gin.Context) {
	h.balancer.Refresh(c.Request.Context())
	respondJSON(c, http.StatusOK, gin.H{"servers": h.balancer.Snapshots()})
}

// HandleRegisterServer adds a backend to the fleet.
func (h *ServerHandlers) HandleRegisterServer(c *gin.Context) {
	var req struct {
		Name        string `json:"name"`
		Address     string `json:"address"`
		Description string `json:"description"`
	}
	if err := bindJSON(c, &req); err != nil {
		return
	}
	if req.Address == "" {
		respondAPIError(c, NewAPIError("ADDRESS_REQUIRED", "address is required", http.StatusBadRequest))
		return
	}

	h.balancer.Register(req.Name, req.Address, req.Description)
	h.logger.Info("backend registered", "name", req.Name, "address", req.Address)
	respondJSON(c, http.StatusCreated, gin.H{"registered": req.Address})
}

// HandleUnregisterServer removes a backend from the fleet.
func (h *ServerHandlers) HandleUnregisterServer(c *gin.Context) {
	address := c.Query("address")
	if address == "" {
		respondAPIError(c, ErrMissingParameter)
		return
	}
	h.balancer.Unregister(address)
	respondJSON(c, http.StatusOK, gin.H{"unregistered": address})
}

// HandlePickServer exposes the selection decision for debugging.
func (h *ServerHandlers) HandlePickServer(c *gin.Context) {
	strategy := c.DefaultQuery("strategy", balancer.StrategyLeastLoaded)
	address, err := h.balancer.Pick(c.Request.Context(), strategy)
	if err != nil {
		respondAPIError(c, TranslateError(err))
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"address": address, "strategy": strategy})
}

// HandleIntrospect proxies a backend's discovery endpoints: object_info,
// models, models/:category, embeddings, extensions.
func (h *ServerHandlers) HandleIntrospect(c *gin.Context) {
	address := c.Query("address")
	snap, ok := h.balancer.Snapshot(address)
	if !ok {
		respondAPIError(c, NewAPIError("UNKNOWN_SERVER", "server is not registered", http.StatusNotFound))
		return
	}

	client := backend.NewHTTPClient(snap.Address, "introspect")
	ctx := c.Request.Context()

	var body any
	var err error
	switch c.Param("what") {
	case "object_info":
		body, err = client.ObjectInfo(ctx, c.Query("class"))
	case "models":
		if category := c.Query("category"); category != "" {
			body, err = client.ModelsByCategory(ctx, category)
		} else {
			body, err = client.Models(ctx)
		}
	case "embeddings":
		body, err = client.Embeddings(ctx)
	case "extensions":
		body, err = client.Extensions(ctx)
	default:
		respondAPIError(c, NewAPIError("UNKNOWN_INTROSPECTION", "unknown introspection endpoint", http.StatusNotFound))
		return
	}
	if err != nil {
		respondAPIError(c, NewAPIError("BACKEND_ERROR", err.Error(), http.StatusBadGateway))
		return
	}
	respondJSON(c, http.StatusOK, body)
}
