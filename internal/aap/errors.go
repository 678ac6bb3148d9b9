package aap

import "errors"

var (
	ErrConnectFailed = errors.New("aap: connect failed")
	ErrStreamClosed  = errors.New("aap: connection closed by panel")
	ErrTransport     = errors.New("aap: transport error")
	ErrNotConnected  = errors.New("aap: not connected to panel")
)
