package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/thrillee/aegisrouter/internal/auth"
	"github.com/thrillee/aegisrouter/internal/managerapi/handlers/dto"
	"github.com/thrillee/aegisrouter/internal/queue"
	"github.com/thrillee/aegisrouter/internal/router"
	"github.com/thrillee/aegisrouter/internal/routing"
	"github.com/thrillee/aegisrouter/internal/scripting"
	"github.com/thrillee/aegisrouter/internal/smppclient"
	"github.com/thrillee/aegisrouter/internal/store"
)

const (
	DefaultLimit  = 20
	MaxLimit      = 100
	DefaultOffset = 0
)

// ConnectorManager is the part of smppclient.Manager the API drives.
type ConnectorManager interface {
	Has(cid string) bool
	Add(ctx context.Context, cfg *smppclient.ClientConfig) error
	Remove(ctx context.Context, cid string) error
	Start(ctx context.Context, cid string) error
	Stop(ctx context.Context, cid string) error
	List() []smppclient.ConnectorInfo
	Details(cid string) (*smppclient.ClientConfig, error)
	ServiceStatus(cid string) (string, error)
	UpdateConfig(ctx context.Context, cid string, updates map[string]string) (*smppclient.UpdateResult, error)
	Factory(cid string) (*smppclient.OperationFactory, error)
	Submit(ctx context.Context, c *queue.SubmitSmContent) (string, error)
	IsPersisted() bool
	Persist(ctx context.Context, profile string) error
	Load(ctx context.Context, profile string) error
}

var _ ConnectorManager = (*smppclient.Manager)(nil)

// parsePagination extracts limit and offset from query params with validation and defaults.
func parsePagination(c *gin.Context) (limit, offset int32) {
	limitStr := c.DefaultQuery("limit", strconv.Itoa(DefaultLimit))
	offsetStr := c.DefaultQuery("offset", strconv.Itoa(DefaultOffset))

	limit64, err := strconv.ParseInt(limitStr, 10, 32)
	if err != nil || limit64 <= 0 {
		limit = DefaultLimit
	} else if limit64 > MaxLimit {
		slog.WarnContext(c.Request.Context(), "Requested limit exceeds maximum, capping.", slog.Int64("requested", limit64), slog.Int("max", MaxLimit))
		limit = MaxLimit
	} else {
		limit = int32(limit64)
	}

	offset64, err := strconv.ParseInt(offsetStr, 10, 32)
	if err != nil || offset64 < 0 {
		offset = DefaultOffset
	} else {
		offset = int32(offset64)
	}

	return limit, offset
}

// paginate returns the page of items selected by limit and offset.
func paginate[T any](items []T, limit, offset int32) dto.PaginatedListResponse {
	total := int64(len(items))
	start := min(int64(offset), total)
	end := min(start+int64(limit), total)
	return dto.PaginatedListResponse{
		Data:       items[start:end],
		Pagination: dto.PaginationResponse{Total: total, Limit: limit, Offset: offset},
	}
}

// parseOrder reads the :order path parameter.
func parseOrder(c *gin.Context) (int, bool) {
	order, err := strconv.Atoi(c.Param("order"))
	if err != nil || order < 0 {
		respondFailure(c, http.StatusBadRequest, "order must be a non negative integer")
		return 0, false
	}
	return order, true
}

func respondOK(c *gin.Context, status int, data any) {
	c.JSON(status, dto.Response{Success: true, Data: data})
}

func respondFailure(c *gin.Context, status int, reason string) {
	c.JSON(status, dto.Response{Success: false, Reason: reason})
}

// respondError maps err to a status: validation errors are 400, missing
// objects 404, a missing persistence backend 503, anything else 500.
func respondError(ctx context.Context, c *gin.Context, msg string, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		slog.ErrorContext(ctx, msg, slog.Any("error", err))
	} else {
		slog.WarnContext(ctx, msg, slog.Any("error", err))
	}
	respondFailure(c, status, err.Error())
}

var notFoundErrors = []error{
	router.ErrUserNotFound,
	router.ErrGroupNotFound,
	routing.ErrRouteNotFound,
	smppclient.ErrConnectorNotFound,
	store.ErrNotFound,
}

var validationErrors = []error{
	auth.ErrInvalidParam,
	auth.ErrUnknownKey,
	auth.ErrQuotaUnlimited,
	router.ErrUnknownConnector,
	router.ErrInvalidScope,
	router.ErrInvalidCredential,
	routing.ErrInvalidConnector,
	routing.ErrInvalidFilter,
	routing.ErrInvalidRoute,
	routing.ErrInvalidOrder,
	routing.ErrInvalidConnectorType,
	scripting.ErrSyntax,
	scripting.ErrScriptNotFound,
	scripting.ErrUnsupportedInterpreter,
	smppclient.ErrConnectorExists,
	smppclient.ErrAlreadyStarted,
	smppclient.ErrAlreadyStopped,
	smppclient.ErrNoDestination,
	store.ErrInvalidHeader,
	store.ErrInvalidVersion,
	store.ErrDecode,
}

func statusOf(err error) int {
	if errors.Is(err, router.ErrNoBackend) || errors.Is(err, smppclient.ErrNoBackend) {
		return http.StatusServiceUnavailable
	}
	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			return http.StatusNotFound
		}
	}
	var incompatible *routing.IncompatibleFilterError
	var cfgErr *smppclient.ConfigError
	if errors.As(err, &incompatible) || errors.As(err, &cfgErr) {
		return http.StatusBadRequest
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}
