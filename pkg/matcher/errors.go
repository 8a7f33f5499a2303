package matcher

import "errors"

var (
	ErrInvalidRegex       = errors.New("invalid regex matcher")
	ErrUnknownMatcherType = errors.New("unknown string matcher type")
)
