package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/thrillee/aegisrouter/internal/auth"
	"github.com/thrillee/aegisrouter/internal/logging"
	"github.com/thrillee/aegisrouter/internal/managerapi/handlers/dto"
	"github.com/thrillee/aegisrouter/internal/router"
)

type UserHandler struct {
	router *router.Service
}

func NewUserHandler(svc *router.Service) *UserHandler {
	if svc == nil {
		panic("router service cannot be nil for UserHandler")
	}
	return &UserHandler{router: svc}
}

func applyMtCredential(c *auth.MtMessagingCredential, req *dto.MtCredentialRequest) error {
	if req == nil {
		return nil
	}
	for key, value := range req.Authorizations {
		if err := c.SetAuthorization(key, value); err != nil {
			return err
		}
	}
	for key, pattern := range req.ValueFilters {
		if err := c.SetValueFilter(key, pattern); err != nil {
			return err
		}
	}
	for key, value := range req.Defaults {
		if err := c.SetDefault(key, value); err != nil {
			return err
		}
	}
	for key, value := range req.Quotas {
		if err := c.SetQuota(key, value); err != nil {
			return err
		}
	}
	return nil
}

func applyMoCredential(c *auth.MoMessagingCredential, req *dto.MoCredentialRequest) error {
	if req == nil {
		return nil
	}
	if req.Receive != nil {
		c.Authorizations.Receive = *req.Receive
	}
	for key, value := range req.Quotas {
		if err := c.SetQuota(key, value); err != nil {
			return err
		}
	}
	return nil
}

// CreateUser handles POST /users
func (h *UserHandler) CreateUser(c *gin.Context) {
	logCtx := logging.ContextWithHandler(c.Request.Context(), "CreateUser")

	var req dto.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondFailure(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	logCtx = logging.ContextWithUserID(logCtx, req.UID)

	group, err := h.router.GroupGet(req.GID)
	if err != nil {
		respondError(logCtx, c, "Cannot add user", err)
		return
	}
	user, err := auth.NewUser(req.UID, group, req.Username, req.Password)
	if err == nil {
		err = applyMtCredential(user.MtCredential, req.MtCredential)
	}
	if err == nil {
		err = applyMoCredential(user.MoCredential, req.MoCredential)
	}
	if err != nil {
		respondError(logCtx, c, "Invalid user", err)
		return
	}
	if req.Enabled != nil {
		user.Enabled = *req.Enabled
	}

	if err := h.router.UserAdd(logCtx, user); err != nil {
		respondError(logCtx, c, "Cannot add user", err)
		return
	}
	respondOK(c, http.StatusCreated, dto.UserToResponse(user))
}

// UpdateUser handles PATCH /users/:uid. The updated user replaces the stored one.
func (h *UserHandler) UpdateUser(c *gin.Context) {
	uid := c.Param("uid")
	logCtx := logging.ContextWithUserID(logging.ContextWithHandler(c.Request.Context(), "UpdateUser"), uid)

	var req dto.UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondFailure(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	user, err := h.router.UserGet(uid)
	if err != nil {
		respondError(logCtx, c, "Cannot update user", err)
		return
	}
	if req.Password != nil {
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			respondError(logCtx, c, "Invalid password", err)
			return
		}
		user.PasswordHash = hash
	}
	if err := applyMtCredential(user.MtCredential, req.MtCredential); err != nil {
		respondError(logCtx, c, "Invalid mt credential", err)
		return
	}
	if err := applyMoCredential(user.MoCredential, req.MoCredential); err != nil {
		respondError(logCtx, c, "Invalid mo credential", err)
		return
	}
	if err := h.router.UserAdd(logCtx, user); err != nil {
		respondError(logCtx, c, "Cannot update user", err)
		return
	}
	respondOK(c, http.StatusOK, dto.UserToResponse(user))
}

// GetUser handles GET /users/:uid
func (h *UserHandler) GetUser(c *gin.Context) {
	logCtx := logging.ContextWithHandler(c.Request.Context(), "GetUser")
	user, err := h.router.UserGet(c.Param("uid"))
	if err != nil {
		respondError(logCtx, c, "Cannot get user", err)
		return
	}
	respondOK(c, http.StatusOK, dto.UserToResponse(user))
}

// ListUsers handles GET /users, optionally filtered by gid.
func (h *UserHandler) ListUsers(c *gin.Context) {
	limit, offset := parsePagination(c)
	users := h.router.UserGetAll(c.Query("gid"))
	resp := make([]dto.UserResponse, len(users))
	for i, u := range users {
		resp[i] = dto.UserToResponse(u)
	}
	respondOK(c, http.StatusOK, paginate(resp, limit, offset))
}

// EnableUser handles POST /users/:uid/enable
func (h *UserHandler) EnableUser(c *gin.Context) {
	logCtx := logging.ContextWithHandler(c.Request.Context(), "EnableUser")
	if err := h.router.UserEnable(logCtx, c.Param("uid")); err != nil {
		respondError(logCtx, c, "Cannot enable user", err)
		return
	}
	respondOK(c, http.StatusOK, nil)
}

// DisableUser handles POST /users/:uid/disable
func (h *UserHandler) DisableUser(c *gin.Context) {
	logCtx := logging.ContextWithHandler(c.Request.Context(), "DisableUser")
	if err := h.router.UserDisable(logCtx, c.Param("uid")); err != nil {
		respondError(logCtx, c, "Cannot disable user", err)
		return
	}
	respondOK(c, http.StatusOK, nil)
}

// DeleteUser handles DELETE /users/:uid
func (h *UserHandler) DeleteUser(c *gin.Context) {
	logCtx := logging.ContextWithHandler(c.Request.Context(), "DeleteUser")
	if err := h.router.UserRemove(logCtx, c.Param("uid")); err != nil {
		respondError(logCtx, c, "Cannot remove user", err)
		return
	}
	respondOK(c, http.StatusOK, nil)
}

// DeleteAllUsers handles DELETE /users
func (h *UserHandler) DeleteAllUsers(c *gin.Context) {
	logCtx := logging.ContextWithHandler(c.Request.Context(), "DeleteAllUsers")
	h.router.UserRemoveAll(logCtx)
	respondOK(c, http.StatusOK, nil)
}

// UpdateQuota handles POST /users/:uid/quotas
func (h *UserHandler) UpdateQuota(c *gin.Context) {
	uid := c.Param("uid")
	logCtx := logging.ContextWithUserID(logging.ContextWithHandler(c.Request.Context(), "UpdateQuota"), uid)

	var req dto.UpdateQuotaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondFailure(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := h.router.UserUpdateQuota(logCtx, uid, req.Cred, req.Quota, req.Difference); err != nil {
		respondError(logCtx, c, "Cannot update quota", err)
		return
	}
	user, err := h.router.UserGet(uid)
	if err != nil {
		respondError(logCtx, c, "Cannot get user", err)
		return
	}
	respondOK(c, http.StatusOK, dto.UserToResponse(user))
}

// ============================================================================
// Groups
// ============================================================================

type GroupHandler struct {
	router *router.Service
}

func NewGroupHandler(svc *router.Service) *GroupHandler {
	if svc == nil {
		panic("router service cannot be nil for GroupHandler")
	}
	return &GroupHandler{router: svc}
}

// CreateGroup handles POST /groups
func (h *GroupHandler) CreateGroup(c *gin.Context) {
	logCtx := logging.ContextWithHandler(c.Request.Context(), "CreateGroup")

	var req dto.CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondFailure(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	group, err := auth.NewGroup(req.GID)
	if err != nil {
		respondError(logCtx, c, "Invalid group", err)
		return
	}
	if req.Enabled != nil {
		group.Enabled = *req.Enabled
	}
	if err := h.router.GroupAdd(logCtx, group); err != nil {
		respondError(logCtx, c, "Cannot add group", err)
		return
	}
	respondOK(c, http.StatusCreated, dto.GroupToResponse(group))
}

// GetGroup handles GET /groups/:gid
func (h *GroupHandler) GetGroup(c *gin.Context) {
	logCtx := logging.ContextWithHandler(c.Request.Context(), "GetGroup")
	group, err := h.router.GroupGet(c.Param("gid"))
	if err != nil {
		respondError(logCtx, c, "Cannot get group", err)
		return
	}
	respondOK(c, http.StatusOK, dto.GroupToResponse(group))
}

// ListGroups handles GET /groups
func (h *GroupHandler) ListGroups(c *gin.Context) {
	limit, offset := parsePagination(c)
	groups := h.router.GroupGetAll()
	resp := make([]dto.GroupResponse, len(groups))
	for i, g := range groups {
		resp[i] = dto.GroupToResponse(g)
	}
	respondOK(c, http.StatusOK, paginate(resp, limit, offset))
}

func (h *GroupHandler) setEnabled(c *gin.Context, enabled bool) {
	logCtx := logging.ContextWithHandler(c.Request.Context(), "SetGroupEnabled")
	gid := c.Param("gid")
	var err error
	if enabled {
		err = h.router.GroupEnable(logCtx, gid)
	} else {
		err = h.router.GroupDisable(logCtx, gid)
	}
	if err != nil {
		respondError(logCtx, c, fmt.Sprintf("Cannot set group enabled=%t", enabled), err)
		return
	}
	respondOK(c, http.StatusOK, nil)
}

// EnableGroup handles POST /groups/:gid/enable
func (h *GroupHandler) EnableGroup(c *gin.Context) { h.setEnabled(c, true) }

// DisableGroup handles POST /groups/:gid/disable
func (h *GroupHandler) DisableGroup(c *gin.Context) { h.setEnabled(c, false) }

// DeleteGroup handles DELETE /groups/:gid. Users of the group are removed with it.
func (h *GroupHandler) DeleteGroup(c *gin.Context) {
	logCtx := logging.ContextWithHandler(c.Request.Context(), "DeleteGroup")
	if err := h.router.GroupRemove(logCtx, c.Param("gid")); err != nil {
		respondError(logCtx, c, "Cannot remove group", err)
		return
	}
	respondOK(c, http.StatusOK, nil)
}

// DeleteAllGroups handles DELETE /groups
func (h *GroupHandler) DeleteAllGroups(c *gin.Context) {
	logCtx := logging.ContextWithHandler(c.Request.Context(), "DeleteAllGroups")
	h.router.GroupRemoveAll(logCtx)
	respondOK(c, http.StatusOK, nil)
}
