package driver

import "errors"

var (
	ErrNoDriver        = errors.New("no driver connected")
	ErrSend            = errors.New("send driver frame")
	ErrUnknownCodec    = errors.New("unknown codec")
	ErrNotAFrame       = errors.New("value is not a driver frame")
	ErrInvalidRoute    = errors.New("invalid route")
	ErrUnexpectedFrame = errors.New("unexpected inbound frame")
)
