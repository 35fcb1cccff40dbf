package service

import "errors"

var (
	// 业务错误定义
	ErrRoomNotFound   = errors.New("room not found")
	ErrPollNotFound   = errors.New("poll not found")
	ErrOptionNotFound = errors.New("option not found")
	ErrForbidden      = errors.New("operation restricted to room owner")
	ErrConflict       = errors.New("conflicting room state")
	ErrInvalidState   = errors.New("operation not valid in current state")
	ErrUnavailable    = errors.New("external service unavailable")
)
