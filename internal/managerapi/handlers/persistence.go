package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/thrillee/aegisrouter/internal/logging"
	"github.com/thrillee/aegisrouter/internal/managerapi/handlers/dto"
	"github.com/thrillee/aegisrouter/internal/router"
	"github.com/thrillee/aegisrouter/internal/smppclient"
	"github.com/thrillee/aegisrouter/internal/store"
)

type PersistenceHandler struct {
	router         *router.Service
	connectors     ConnectorManager
	defaultProfile string
}

func NewPersistenceHandler(svc *router.Service, m ConnectorManager, defaultProfile string) *PersistenceHandler {
	if svc == nil || m == nil {
		panic("router service and connector manager are required for PersistenceHandler")
	}
	if defaultProfile == "" {
		defaultProfile = "default"
	}
	return &PersistenceHandler{router: svc, connectors: m, defaultProfile: defaultProfile}
}

func (h *PersistenceHandler) bind(c *gin.Context) (dto.PersistRequest, bool) {
	var req dto.PersistRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondFailure(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return req, false
		}
	}
	if req.Profile == "" {
		req.Profile = h.defaultProfile
	}
	if req.Scope == "" {
		req.Scope = router.ScopeAll
	}
	return req, true
}

// apply runs connectorOp for the connector scope and routerOp for router
// scopes. Scope all runs both, connectors first.
func (h *PersistenceHandler) apply(ctx context.Context, req dto.PersistRequest,
	routerOp func(ctx context.Context, profile, scope string) error,
	connectorOp func(ctx context.Context, profile string) error,
) error {
	if req.Scope == router.ScopeAll || req.Scope == smppclient.PersistScope {
		err := connectorOp(ctx, req.Profile)
		// A profile saved before any connector existed has no connector document.
		if err != nil && !(req.Scope == router.ScopeAll && errors.Is(err, store.ErrNotFound)) {
			return err
		}
	}
	if req.Scope == smppclient.PersistScope {
		return nil
	}
	return routerOp(ctx, req.Profile, req.Scope)
}

// Persist handles POST /persist
func (h *PersistenceHandler) Persist(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	logCtx := logging.ContextWithProfile(logging.ContextWithHandler(c.Request.Context(), "Persist"), req.Profile)
	if err := h.apply(logCtx, req, h.router.Persist, h.connectors.Persist); err != nil {
		respondError(logCtx, c, "Cannot persist", err)
		return
	}
	respondOK(c, http.StatusOK, req)
}

// Load handles POST /load
func (h *PersistenceHandler) Load(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	logCtx := logging.ContextWithProfile(logging.ContextWithHandler(c.Request.Context(), "Load"), req.Profile)
	if err := h.apply(logCtx, req, h.router.Load, h.connectors.Load); err != nil {
		respondError(logCtx, c, "Cannot load", err)
		return
	}
	respondOK(c, http.StatusOK, req)
}

// Status handles GET /persist
func (h *PersistenceHandler) Status(c *gin.Context) {
	respondOK(c, http.StatusOK, dto.PersistStatusResponse{
		Router:     h.router.IsPersisted(),
		Connectors: h.connectors.IsPersisted(),
	})
}
