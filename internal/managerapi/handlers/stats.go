package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/thrillee/aegisrouter/internal/smppclient"
	"github.com/thrillee/aegisrouter/internal/stats"
)

type StatsHandler struct {
	registry   *stats.Registry
	connectors ConnectorManager
}

func NewStatsHandler(registry *stats.Registry, m ConnectorManager) *StatsHandler {
	return &StatsHandler{registry: registry, connectors: m}
}

// APIStats handles GET /stats/api
func (h *StatsHandler) APIStats(c *gin.Context) {
	respondOK(c, http.StatusOK, h.registry.API().Snapshot())
}

// ConnectorStats handles GET /stats/connectors/:cid
func (h *StatsHandler) ConnectorStats(c *gin.Context) {
	cid := c.Param("cid")
	if !h.connectors.Has(cid) {
		respondFailure(c, http.StatusNotFound, fmt.Sprintf("%s: %s", smppclient.ErrConnectorNotFound, cid))
		return
	}
	respondOK(c, http.StatusOK, h.registry.Connector(cid).Snapshot())
}

// AllConnectorStats handles GET /stats/connectors
func (h *StatsHandler) AllConnectorStats(c *gin.Context) {
	out := make(map[string]map[string]int64)
	for _, info := range h.connectors.List() {
		out[info.ID] = h.registry.Connector(info.ID).Counters()
	}
	respondOK(c, http.StatusOK, out)
}
