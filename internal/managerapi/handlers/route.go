package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/thrillee/aegisrouter/internal/logging"
	"github.com/thrillee/aegisrouter/internal/router"
	"github.com/thrillee/aegisrouter/internal/routing"
)

// routeTable is the set of operations shared by the MO and MT tables.
type routeTable struct {
	name   string
	add    func(ctx context.Context, route routing.Route, order int) (int, error)
	remove func(ctx context.Context, order int) error
	flush  func(ctx context.Context)
	getAll func() []routing.Entry
}

// RouteHandler serves one routing table; NewMTRouteHandler and
// NewMORouteHandler pick which.
type RouteHandler struct {
	table routeTable
}

func NewMTRouteHandler(svc *router.Service) *RouteHandler {
	return &RouteHandler{table: routeTable{
		name:   "mtroute",
		add:    svc.MTRouteAdd,
		remove: svc.MTRouteRemove,
		flush:  svc.MTRouteFlush,
		getAll: svc.MTRouteGetAll,
	}}
}

func NewMORouteHandler(svc *router.Service) *RouteHandler {
	return &RouteHandler{table: routeTable{
		name:   "moroute",
		add:    svc.MORouteAdd,
		remove: svc.MORouteRemove,
		flush:  svc.MORouteFlush,
		getAll: svc.MORouteGetAll,
	}}
}

// CreateRoute handles POST /mtroutes and POST /moroutes. The body is a
// route spec; the answer carries the order the route was stored at.
func (h *RouteHandler) CreateRoute(c *gin.Context) {
	logCtx := logging.ContextWithHandler(c.Request.Context(), "Create_"+h.table.name)

	var spec routing.RouteSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		respondFailure(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	route, err := spec.Build()
	if err != nil {
		respondError(logCtx, c, "Invalid route", err)
		return
	}
	order, err := h.table.add(logCtx, route, spec.Order)
	if err != nil {
		respondError(logCtx, c, "Cannot add route", err)
		return
	}
	respondOK(c, http.StatusCreated, routing.SpecOfEntry(routing.Entry{Order: order, Route: route}))
}

// ListRoutes handles GET /mtroutes and GET /moroutes, highest order first.
func (h *RouteHandler) ListRoutes(c *gin.Context) {
	entries := h.table.getAll()
	specs := make([]routing.RouteSpec, len(entries))
	for i, e := range entries {
		specs[i] = routing.SpecOfEntry(e)
	}
	respondOK(c, http.StatusOK, specs)
}

// GetRoute handles GET /mtroutes/:order and GET /moroutes/:order
func (h *RouteHandler) GetRoute(c *gin.Context) {
	order, ok := parseOrder(c)
	if !ok {
		return
	}
	for _, e := range h.table.getAll() {
		if e.Order == order {
			respondOK(c, http.StatusOK, routing.SpecOfEntry(e))
			return
		}
	}
	respondFailure(c, http.StatusNotFound, routing.ErrRouteNotFound.Error())
}

// DeleteRoute handles DELETE /mtroutes/:order and DELETE /moroutes/:order
func (h *RouteHandler) DeleteRoute(c *gin.Context) {
	logCtx := logging.ContextWithHandler(c.Request.Context(), "Delete_"+h.table.name)
	order, ok := parseOrder(c)
	if !ok {
		return
	}
	if err := h.table.remove(logging.ContextWithRouteOrder(logCtx, order), order); err != nil {
		respondError(logCtx, c, "Cannot remove route", err)
		return
	}
	respondOK(c, http.StatusOK, nil)
}

// FlushRoutes handles DELETE /mtroutes and DELETE /moroutes
func (h *RouteHandler) FlushRoutes(c *gin.Context) {
	logCtx := logging.ContextWithHandler(c.Request.Context(), "Flush_"+h.table.name)
	h.table.flush(logCtx)
	respondOK(c, http.StatusOK, nil)
}
