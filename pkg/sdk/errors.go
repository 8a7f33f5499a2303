package sdk

import "errors"

var (
	ErrDial           = errors.New("dial driver endpoint")
	ErrSend           = errors.New("send frame")
	ErrClosed         = errors.New("client closed")
	ErrAlreadyReplied = errors.New("exchange already replied")
)
