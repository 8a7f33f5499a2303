package proxy

import "errors"

var (
	ErrCALoad      = errors.New("load CA failed")
	ErrCAGenerate  = errors.New("generate CA failed")
	ErrCASave      = errors.New("save CA failed")
	ErrLeafCert    = errors.New("mint leaf certificate failed")
	ErrListen      = errors.New("listen failed")
	ErrProxyClosed = errors.New("proxy closed")
)
