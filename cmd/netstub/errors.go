package main

import "errors"

var (
	ErrReadConfig    = errors.New("read config file")
	ErrOpenEventLog  = errors.New("open event log")
	ErrInitCA        = errors.New("initialize CA")
	ErrDriverListen  = errors.New("driver listener failed")
	ErrMetricsListen = errors.New("metrics listener failed")
	ErrProxyListen   = errors.New("proxy listener failed")
	ErrUnknownLevel  = errors.New("unknown log level")
)
