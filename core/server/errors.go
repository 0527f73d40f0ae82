package server

import "errors"

var (
	ErrMissingAddress       = errors.New("server: SERVER_ADDR is empty")
	ErrServerAlreadyRunning = errors.New("server: already running")
	ErrListen               = errors.New("server: listen failed")
	ErrHTTPServer           = errors.New("server: serve failed")
	ErrHTTPShutdown         = errors.New("server: shutdown failed")
)
