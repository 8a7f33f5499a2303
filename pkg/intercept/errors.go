package intercept

import "errors"

var (
	ErrWriteStatic = errors.New("write static response")
	ErrBufferBody  = errors.New("buffer body")
	ErrNoDriver    = errors.New("no driver connected")
)
