package handlers

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/thrillee/aegisrouter/internal/logging"
	"github.com/thrillee/aegisrouter/internal/managerapi/handlers/dto"
	"github.com/thrillee/aegisrouter/internal/smppclient"
)

type ConnectorHandler struct {
	connectors ConnectorManager
}

func NewConnectorHandler(m ConnectorManager) *ConnectorHandler {
	if m == nil {
		panic("connector manager cannot be nil for ConnectorHandler")
	}
	return &ConnectorHandler{connectors: m}
}

// configUpdates applies updates in key order so errors are reported deterministically.
func configUpdates(cfg *smppclient.ClientConfig, updates map[string]string) error {
	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := cfg.Set(k, updates[k]); err != nil {
			return err
		}
	}
	return nil
}

// CreateConnector handles POST /connectors. The connector is added stopped.
func (h *ConnectorHandler) CreateConnector(c *gin.Context) {
	logCtx := logging.ContextWithHandler(c.Request.Context(), "CreateConnector")

	var req dto.CreateConnectorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondFailure(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	logCtx = logging.ContextWithConnectorID(logCtx, req.CID)

	cfg, err := smppclient.NewClientConfig(req.CID)
	if err == nil {
		err = configUpdates(cfg, req.Config)
	}
	if err != nil {
		respondError(logCtx, c, "Invalid connector configuration", err)
		return
	}
	if err := h.connectors.Add(logCtx, cfg); err != nil {
		respondError(logCtx, c, "Cannot add connector", err)
		return
	}
	respondOK(c, http.StatusCreated, redacted(cfg))
}

// ListConnectors handles GET /connectors
func (h *ConnectorHandler) ListConnectors(c *gin.Context) {
	respondOK(c, http.StatusOK, h.connectors.List())
}

// redacted hides the bind password from API answers.
func redacted(cfg *smppclient.ClientConfig) *smppclient.ClientConfig {
	cp := cfg.Clone()
	if cp.Password != "" {
		cp.Password = "********"
	}
	return cp
}

// GetConnector handles GET /connectors/:cid
func (h *ConnectorHandler) GetConnector(c *gin.Context) {
	logCtx := logging.ContextWithHandler(c.Request.Context(), "GetConnector")
	cfg, err := h.connectors.Details(c.Param("cid"))
	if err != nil {
		respondError(logCtx, c, "Cannot get connector", err)
		return
	}
	respondOK(c, http.StatusOK, redacted(cfg))
}

// UpdateConnector handles PATCH /connectors/:cid. A started connector is
// restarted in the background when a changed key requires it.
func (h *ConnectorHandler) UpdateConnector(c *gin.Context) {
	cid := c.Param("cid")
	logCtx := logging.ContextWithConnectorID(logging.ContextWithHandler(c.Request.Context(), "UpdateConnector"), cid)

	var req dto.UpdateConnectorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondFailure(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	res, err := h.connectors.UpdateConfig(logCtx, cid, req.Config)
	if err != nil {
		respondError(logCtx, c, "Cannot update connector", err)
		return
	}
	resp := dto.UpdateConnectorResponse{Keys: make([]string, len(res.Keys)), Restart: res.Restart}
	for i, k := range res.Keys {
		resp.Keys[i] = string(k)
	}
	sort.Strings(resp.Keys)
	respondOK(c, http.StatusOK, resp)
}

// DeleteConnector handles DELETE /connectors/:cid
func (h *ConnectorHandler) DeleteConnector(c *gin.Context) {
	cid := c.Param("cid")
	logCtx := logging.ContextWithConnectorID(logging.ContextWithHandler(c.Request.Context(), "DeleteConnector"), cid)
	if err := h.connectors.Remove(logCtx, cid); err != nil {
		respondError(logCtx, c, "Cannot remove connector", err)
		return
	}
	respondOK(c, http.StatusOK, nil)
}

// StartConnector handles POST /connectors/:cid/start
func (h *ConnectorHandler) StartConnector(c *gin.Context) {
	cid := c.Param("cid")
	logCtx := logging.ContextWithConnectorID(logging.ContextWithHandler(c.Request.Context(), "StartConnector"), cid)
	if err := h.connectors.Start(logCtx, cid); err != nil {
		respondError(logCtx, c, "Cannot start connector", err)
		return
	}
	respondOK(c, http.StatusOK, nil)
}

// StopConnector handles POST /connectors/:cid/stop
func (h *ConnectorHandler) StopConnector(c *gin.Context) {
	cid := c.Param("cid")
	logCtx := logging.ContextWithConnectorID(logging.ContextWithHandler(c.Request.Context(), "StopConnector"), cid)
	if err := h.connectors.Stop(logCtx, cid); err != nil {
		respondError(logCtx, c, "Cannot stop connector", err)
		return
	}
	respondOK(c, http.StatusOK, nil)
}
