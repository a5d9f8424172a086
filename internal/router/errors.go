package router

import "errors"

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrGroupNotFound     = errors.New("group not found")
	ErrUnknownConnector  = errors.New("unknown connector")
	ErrAuthentication    = errors.New("authentication failed")
	ErrInvalidScope      = errors.New("invalid persistence scope")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrNoBackend         = errors.New("no persistence backend configured")
	ErrNoRoute           = errors.New("no route found")
)
