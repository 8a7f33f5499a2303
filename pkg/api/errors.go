package api

import "errors"

var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrInvalidPort   = errors.New("invalid port matcher")
	ErrUnknownEvent  = errors.New("unknown driver event")
	ErrMalformed     = errors.New("malformed driver frame")
)
