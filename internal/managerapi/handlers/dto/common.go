package dto

// Response is the envelope of every admin API answer.
type Response struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// PaginationResponse provides standard pagination details.
type PaginationResponse struct {
	Total  int64 `json:"total"`  // Total number of records available
	Limit  int32 `json:"limit"`  // Number of records per page
	Offset int32 `json:"offset"` // Starting record index
}

// PaginatedListResponse is a generic wrapper for list API responses.
type PaginatedListResponse struct {
	Data       any                `json:"data"` // The actual list of DTOs
	Pagination PaginationResponse `json:"pagination"`
}

// LoginRequest defines the body for POST /login
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// PersistRequest defines the body for POST /persist and POST /load.
// Scope is one of all, groups, users, moroutes, mtroutes or smppccs.
type PersistRequest struct {
	Profile string `json:"profile"`
	Scope   string `json:"scope"`
}

type PersistStatusResponse struct {
	Router     bool `json:"router"`
	Connectors bool `json:"connectors"`
}
