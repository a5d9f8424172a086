package dto

import (
	"github.com/thrillee/aegisrouter/internal/auth"
)

// MtCredentialRequest updates an MT credential key by key. Quota values use
// the quota syntax of the credential ("none" for unlimited).
type MtCredentialRequest struct {
	Authorizations map[string]bool    `json:"authorizations"`
	ValueFilters   map[string]string  `json:"value_filters"`
	Defaults       map[string]*string `json:"defaults"`
	Quotas         map[string]string  `json:"quotas"`
}

type MoCredentialRequest struct {
	Receive *bool             `json:"receive"`
	Quotas  map[string]string `json:"quotas"`
}

// CreateUserRequest defines the body for POST /users
type CreateUserRequest struct {
	UID          string               `json:"uid" binding:"required"`
	GID          string               `json:"gid" binding:"required"`
	Username     string               `json:"username" binding:"required"`
	Password     string               `json:"password" binding:"required"`
	Enabled      *bool                `json:"enabled"`
	MtCredential *MtCredentialRequest `json:"mt_credential"`
	MoCredential *MoCredentialRequest `json:"mo_credential"`
}

// UpdateUserRequest defines the body for PATCH /users/:uid
type UpdateUserRequest struct {
	Password     *string              `json:"password"`
	MtCredential *MtCredentialRequest `json:"mt_credential"`
	MoCredential *MoCredentialRequest `json:"mo_credential"`
}

// UpdateQuotaRequest defines the body for POST /users/:uid/quotas
type UpdateQuotaRequest struct {
	Cred       string `json:"cred" binding:"required"` // mt or mo
	Quota      string `json:"quota" binding:"required"`
	Difference string `json:"difference" binding:"required"`
}

// UserResponse never carries the password hash.
type UserResponse struct {
	UID          string                      `json:"uid"`
	GID          string                      `json:"gid"`
	Username     string                      `json:"username"`
	Enabled      bool                        `json:"enabled"`
	MtCredential *auth.MtMessagingCredential `json:"mt_credential"`
	MoCredential *auth.MoMessagingCredential `json:"mo_credential"`
}

func UserToResponse(u *auth.User) UserResponse {
	return UserResponse{
		UID:          u.UID,
		GID:          u.GID,
		Username:     u.Username,
		Enabled:      u.Enabled,
		MtCredential: u.MtCredential,
		MoCredential: u.MoCredential,
	}
}

// CreateGroupRequest defines the body for POST /groups
type CreateGroupRequest struct {
	GID     string `json:"gid" binding:"required"`
	Enabled *bool  `json:"enabled"`
}

type GroupResponse struct {
	GID     string `json:"gid"`
	Enabled bool   `json:"enabled"`
}

func GroupToResponse(g *auth.Group) GroupResponse {
	return GroupResponse{GID: g.GID, Enabled: g.Enabled}
}
